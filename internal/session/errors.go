package session

import (
	"errors"
	"fmt"

	"github.com/advicelink/sessiond/internal/models"
)

// Sentinel errors returned to gateway callers. They are ordinary return
// values: a rejected command never disturbs the session's state and never
// affects any other session.
var (
	// ErrNotEligible rejects a ready declaration (or early start) while the
	// device invariant for the session's medium is unmet.
	ErrNotEligible = errors.New("participant not eligible")

	// ErrSessionClosed rejects any command against a terminal session.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnknownRole rejects commands naming a role outside expert/client.
	ErrUnknownRole = errors.New("unknown participant role")

	// ErrSessionNotFound is returned by the manager for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// InvalidTransitionError reports a command that is legal in some state but
// not the session's current one. It names both so the caller's message can
// say exactly what was attempted.
type InvalidTransitionError struct {
	Status models.Status
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s while %s", e.Action, e.Status)
}

func invalidTransition(status models.Status, action string) error {
	return &InvalidTransitionError{Status: status, Action: action}
}
