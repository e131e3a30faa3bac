package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// Status is the lifecycle state of a live session.
type Status string

const (
	StatusScheduled   Status = "SCHEDULED"
	StatusPreSession  Status = "PRE_SESSION"
	StatusWaitingRoom Status = "WAITING_ROOM"
	StatusActive      Status = "ACTIVE"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
	StatusExpired     Status = "EXPIRED"
)

// IsTerminal returns true for states with no outgoing transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// Phase is the admission phase derived from the session clock. It is
// independent of Status until the session goes active.
type Phase string

const (
	PhaseWait Phase = "WAIT"
	PhaseOpen Phase = "OPEN"
)

// Session represents one live consultation, created from a confirmed
// reservation and carried through preflight, waiting room and the active call.
// Only the fields stored here need to survive a restart; participant readiness
// is reconstructed on reconnect.
type Session struct {
	SessionID uuid.UUID // UUIDv7
	DisplayID string    // short human-facing code shown to both parties

	Reservation ReservationRef

	Status Status

	// ActualStart is set exactly once, atomically with the transition to
	// ACTIVE. ActualEnd is set with the terminal transition out of ACTIVE.
	ActualStart *time.Time
	ActualEnd   *time.Time

	// CancelReason records who or what ended a CANCELLED session
	// (e.g. "client_disconnect_timeout"). Empty otherwise.
	CancelReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DurationMinutes returns the billed call duration, zero until the session
// has both started and ended.
func (s *Session) DurationMinutes() int {
	if s.ActualStart == nil || s.ActualEnd == nil {
		return 0
	}
	return int(s.ActualEnd.Sub(*s.ActualStart).Round(time.Minute) / time.Minute)
}

// NewDisplayID derives the human-facing session code from the session ID.
// Base58 avoids ambiguous characters so the code can be read out loud.
func NewDisplayID(sessionID uuid.UUID) string {
	return "CS-" + base58.Encode(sessionID[:8])
}
