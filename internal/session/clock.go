package session

import (
	"time"

	"github.com/advicelink/sessiond/internal/models"
)

// Timing is the clock's verdict for a session at a given instant.
type Timing struct {
	Phase models.Phase

	// TimeRemaining counts down to the next boundary: while WAIT it is the
	// time until the admission window opens, while OPEN it is the time until
	// the scheduled end. Never negative.
	TimeRemaining time.Duration
}

// EvaluateClock converts wall-clock time against a session's scheduled window
// into an admission phase and a countdown. It is a pure function of its
// arguments so tests can drive it with any instant.
//
// The window opens earlyWindow before the scheduled start: phase is OPEN once
// now >= scheduledStart - earlyWindow, WAIT before that.
func EvaluateClock(now, scheduledStart, scheduledEnd time.Time, earlyWindow time.Duration) Timing {
	opensAt := scheduledStart.Add(-earlyWindow)

	if now.Before(opensAt) {
		return Timing{
			Phase:         models.PhaseWait,
			TimeRemaining: opensAt.Sub(now),
		}
	}

	remaining := scheduledEnd.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return Timing{
		Phase:         models.PhaseOpen,
		TimeRemaining: remaining,
	}
}
