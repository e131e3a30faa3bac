package logger

import (
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// RequestLogger logs every HTTP request with its duration and status, and
// attaches a request-scoped logger to the context for handlers to use.
func RequestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()

			reqLogger := logger.With().
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Str("remote", c.RealIP()).
				Logger()
			c.SetRequest(c.Request().WithContext(reqLogger.WithContext(c.Request().Context())))

			err := next(c)

			if err != nil {
				reqLogger.Error().
					Err(err).
					Dur("duration", time.Since(started)).
					Msg("http request")
				return err
			}

			reqLogger.Info().
				Int("status", c.Response().Status).
				Dur("duration", time.Since(started)).
				Msg("http request")

			return nil
		}
	}
}
