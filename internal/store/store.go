// Package store defines persistence for the durable slice of session state.
// Transient coordination state (presence, readiness, device status) is
// rebuilt on reconnect and deliberately never stored.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/advicelink/sessiond/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrDuplicateSession = errors.New("session already exists for reservation")
)

// LifecycleUpdate carries the durable fields written on a status transition.
type LifecycleUpdate struct {
	Status       models.Status
	ActualStart  *time.Time
	ActualEnd    *time.Time
	CancelReason string
}

// SessionStore persists sessions so coordinators can be resumed across
// process restarts.
type SessionStore interface {
	// Create inserts a new session. Fails with ErrDuplicateSession when a
	// session already exists for the same reservation.
	Create(ctx context.Context, session *models.Session) error

	// Get retrieves a session by ID.
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	// UpdateLifecycle writes the durable fields changed by a transition.
	UpdateLifecycle(ctx context.Context, sessionID uuid.UUID, update LifecycleUpdate) error

	// ListResumable returns all non-terminal sessions, used at startup to
	// respawn their coordinators.
	ListResumable(ctx context.Context) ([]*models.Session, error)

	// Delete removes an archived session.
	Delete(ctx context.Context, sessionID uuid.UUID) error
}
