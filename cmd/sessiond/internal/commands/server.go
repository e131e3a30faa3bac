package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/advicelink/sessiond/internal/gateway"
	"github.com/advicelink/sessiond/internal/hub"
	"github.com/advicelink/sessiond/internal/logger"
	"github.com/advicelink/sessiond/internal/notify"
	"github.com/advicelink/sessiond/internal/policy"
	"github.com/advicelink/sessiond/internal/reservations"
	"github.com/advicelink/sessiond/internal/session"
	"github.com/advicelink/sessiond/internal/store"
	memorystore "github.com/advicelink/sessiond/internal/store/memory"
	postgresstore "github.com/advicelink/sessiond/internal/store/postgres"
	"github.com/advicelink/sessiond/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"SESSIOND_LISTEN"`

	// Reservation service configuration
	ReservationsURL string `help:"base URL of the reservations service" default:"http://localhost:8081" env:"SESSIOND_RESERVATIONS_URL"`

	// Broker configuration
	AMQPURL string `help:"AMQP broker URL for lifecycle and settlement events (empty disables publishing)" default:"" env:"SESSIOND_AMQP_URL"`

	// Session policy configuration
	PolicyFile string `help:"path to a YAML policy file overriding the default timing windows" default:"" env:"SESSIOND_POLICY_FILE"`

	// Development and operational modes
	Tracing bool `help:"enable telemetry" default:"false" env:"SESSIOND_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"SESSIOND_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"SESSIOND_POSTGRES_AUTO_MIGRATE"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	pol := policy.Default()
	if c.PolicyFile != "" {
		var err error
		pol, err = policy.Load(c.PolicyFile)
		if err != nil {
			return fmt.Errorf("failed to load policy file: %w", err)
		}
		log.Info().Str("path", c.PolicyFile).Msg("Loaded session policy")
	}

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Telemetry is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "sessiond", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Create the session store based on store type
	var sessionStore store.SessionStore

	switch c.StoreType {
	case "postgres":
		poolCfg := &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		}
		pool, err := postgresstore.NewPool(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		sessionStore = postgresstore.NewSessionStore(pool)
		log.Info().Msg("Using PostgreSQL session store")

	default:
		sessionStore = memorystore.NewSessionStore()
		log.Info().Msg("Using in-memory session store")
	}

	// Lifecycle and settlement publishing is optional; without a broker URL
	// transitions still complete, they just stay local.
	var publisher notify.Publisher = notify.NoopPublisher{}
	if c.AMQPURL != "" {
		amqpPublisher, err := notify.NewAMQPPublisher(c.AMQPURL)
		if err != nil {
			return fmt.Errorf("failed to connect to AMQP broker: %w", err)
		}
		defer func() {
			if err := amqpPublisher.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close AMQP publisher")
			}
		}()
		publisher = amqpPublisher
		log.Info().Msg("AMQP lifecycle publishing enabled")
	}

	wsHub := hub.New()
	go wsHub.Run()
	defer wsHub.Close()

	sinks := []session.Sink{
		gateway.NewSink(wsHub),
		notify.NewSink(publisher),
	}
	if c.Tracing {
		sinks = append(sinks, telemetry.NewSink())
	}

	manager := session.NewManager(ctx, session.ManagerConfig{
		Policy:       pol,
		Store:        sessionStore,
		Reservations: reservations.NewClient(c.ReservationsURL),
		Sinks:        sinks,
	})
	defer manager.Shutdown()

	if err := manager.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume sessions: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(logger.RequestLogger(log))

	handler := gateway.NewHandler(manager, wsHub, globals.Version)
	handler.RegisterRoutes(e)

	srv := configureHTTPServer(c.Listen, e)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", err)
		}
	}

	return nil
}
