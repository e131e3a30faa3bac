package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/advicelink/sessiond/internal/models"
	"github.com/advicelink/sessiond/internal/policy"
	"github.com/advicelink/sessiond/internal/store"
)

// ErrReservationNotConfirmed rejects session creation for reservations the
// booking service has not confirmed.
var ErrReservationNotConfirmed = errors.New("reservation not confirmed")

// ReservationLookup is the read-only slice of the reservation service the
// coordinator depends on.
type ReservationLookup interface {
	GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error)
}

// Manager owns the live coordinators, one per session. Sessions are fully
// independent: the manager only routes commands and handles spawn, resume
// and archival.
type Manager struct {
	mu           sync.RWMutex
	coordinators map[uuid.UUID]*Coordinator

	pol          policy.Policy
	store        store.SessionStore
	reservations ReservationLookup
	sinks        []Sink
	now          func() time.Time

	baseCtx context.Context
}

// ManagerConfig wires the manager's collaborators.
type ManagerConfig struct {
	Policy       policy.Policy
	Store        store.SessionStore
	Reservations ReservationLookup
	Sinks        []Sink
	Now          func() time.Time
}

// NewManager creates a session manager. ctx bounds all store writes made by
// spawned coordinators.
func NewManager(ctx context.Context, cfg ManagerConfig) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		coordinators: make(map[uuid.UUID]*Coordinator),
		pol:          cfg.Policy,
		store:        cfg.Store,
		reservations: cfg.Reservations,
		sinks:        cfg.Sinks,
		now:          now,
		baseCtx:      ctx,
	}
}

// CreateSession builds a session from a confirmed reservation and spawns its
// coordinator. One session per reservation: a second create fails with
// store.ErrDuplicateSession.
func (m *Manager) CreateSession(ctx context.Context, reservationID uuid.UUID) (Snapshot, error) {
	reservation, err := m.reservations.GetReservation(ctx, reservationID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reservation lookup failed: %w", err)
	}
	if reservation.Status != models.ReservationConfirmed {
		return Snapshot{}, fmt.Errorf("%w: reservation %s is %s",
			ErrReservationNotConfirmed, reservationID, reservation.Status)
	}

	sessionID := uuid.Must(uuid.NewV7())
	now := m.now()
	sess := &models.Session{
		SessionID:   sessionID,
		DisplayID:   models.NewDisplayID(sessionID),
		Reservation: reservation.ReservationRef,
		Status:      models.StatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.Create(ctx, sess); err != nil {
		return Snapshot{}, fmt.Errorf("failed to persist session: %w", err)
	}

	coord := m.spawn(sess)

	log.Info().
		Str("session_id", sess.SessionID.String()).
		Str("display_id", sess.DisplayID).
		Str("reservation_id", reservationID.String()).
		Time("scheduled_start", sess.Reservation.ScheduledStart).
		Msg("session created")

	snap, err := coord.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	created := Event{
		Type:       EventCreated,
		SessionID:  sess.SessionID,
		OccurredAt: m.now(),
		Snapshot:   snap,
	}
	for _, sink := range m.sinks {
		sink.Publish(ctx, created)
	}

	return snap, nil
}

// Coordinator returns the live coordinator for a session.
func (m *Manager) Coordinator(sessionID uuid.UUID) (*Coordinator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coord, ok := m.coordinators[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return coord, nil
}

// Resume reloads non-terminal sessions from the store and respawns their
// coordinators. Transient readiness state is rebuilt as participants
// reconnect.
func (m *Manager) Resume(ctx context.Context) error {
	sessions, err := m.store.ListResumable(ctx)
	if err != nil {
		return fmt.Errorf("failed to list resumable sessions: %w", err)
	}

	for _, sess := range sessions {
		m.spawn(sess)
	}

	if len(sessions) > 0 {
		log.Info().Int("count", len(sessions)).Msg("resumed sessions")
	}
	return nil
}

// Shutdown stops every live coordinator.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	coords := make([]*Coordinator, 0, len(m.coordinators))
	for _, c := range m.coordinators {
		coords = append(coords, c)
	}
	m.coordinators = make(map[uuid.UUID]*Coordinator)
	m.mu.Unlock()

	for _, c := range coords {
		c.Stop()
	}
}

func (m *Manager) spawn(sess *models.Session) *Coordinator {
	sinks := make([]Sink, 0, len(m.sinks)+1)
	sinks = append(sinks, m.sinks...)
	// Archival rides the event stream: once a session goes terminal its
	// coordinator lingers for the grace period, then is stopped and removed.
	sinks = append(sinks, SinkFunc(func(ctx context.Context, ev Event) {
		if ev.Snapshot.Status.IsTerminal() {
			m.scheduleArchive(ev.SessionID)
		}
	}))

	coord := NewCoordinator(Config{
		Session: sess,
		Policy:  m.pol,
		Store:   m.store,
		Sinks:   sinks,
		Now:     m.now,
	})

	m.mu.Lock()
	m.coordinators[sess.SessionID] = coord
	m.mu.Unlock()

	coord.Start(m.baseCtx)
	return coord
}

func (m *Manager) scheduleArchive(sessionID uuid.UUID) {
	time.AfterFunc(m.pol.ArchiveGrace, func() {
		m.mu.Lock()
		coord, ok := m.coordinators[sessionID]
		if ok {
			delete(m.coordinators, sessionID)
		}
		m.mu.Unlock()

		if ok {
			coord.Stop()
			log.Debug().Str("session_id", sessionID.String()).Msg("session archived")
		}
	})
}
