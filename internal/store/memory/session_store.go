package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advicelink/sessiond/internal/models"
	"github.com/advicelink/sessiond/internal/store"
)

// SessionStore implements store.SessionStore using in-memory storage.
// Data is lost on restart; use the postgres store when resumability matters.
type SessionStore struct {
	mu sync.RWMutex

	sessions      map[uuid.UUID]*models.Session // session_id -> Session
	byReservation map[uuid.UUID]uuid.UUID       // reservation_id -> session_id
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:      make(map[uuid.UUID]*models.Session),
		byReservation: make(map[uuid.UUID]uuid.UUID),
	}
}

// Create inserts a new session, enforcing one session per reservation.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byReservation[session.Reservation.ReservationID]; exists {
		return store.ErrDuplicateSession
	}

	// Clone to avoid external modifications
	clone := *session
	s.sessions[session.SessionID] = &clone
	s.byReservation[session.Reservation.ReservationID] = session.SessionID

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	clone := *session
	return &clone, nil
}

// UpdateLifecycle writes the durable fields changed by a transition.
func (s *SessionStore) UpdateLifecycle(ctx context.Context, sessionID uuid.UUID, update store.LifecycleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}

	session.Status = update.Status
	session.ActualStart = update.ActualStart
	session.ActualEnd = update.ActualEnd
	session.CancelReason = update.CancelReason
	session.UpdatedAt = time.Now()

	return nil
}

// ListResumable returns all non-terminal sessions.
func (s *SessionStore) ListResumable(ctx context.Context) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Session
	for _, session := range s.sessions {
		if session.Status.IsTerminal() {
			continue
		}
		clone := *session
		out = append(out, &clone)
	}
	return out, nil
}

// Delete removes an archived session.
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}

	delete(s.byReservation, session.Reservation.ReservationID)
	delete(s.sessions, sessionID)
	return nil
}
