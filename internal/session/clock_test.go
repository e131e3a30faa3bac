package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/advicelink/sessiond/internal/models"
)

func TestEvaluateClock(t *testing.T) {
	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	earlyWindow := 5 * time.Minute

	tests := []struct {
		name      string
		now       time.Time
		phase     models.Phase
		remaining time.Duration
	}{
		{
			name:      "well before the window counts down to the open boundary",
			now:       start.Add(-30 * time.Minute),
			phase:     models.PhaseWait,
			remaining: 25 * time.Minute,
		},
		{
			name:      "one second before the window is still WAIT",
			now:       start.Add(-earlyWindow).Add(-time.Second),
			phase:     models.PhaseWait,
			remaining: time.Second,
		},
		{
			name:      "exactly at the open boundary flips to OPEN",
			now:       start.Add(-earlyWindow),
			phase:     models.PhaseOpen,
			remaining: time.Hour + earlyWindow,
		},
		{
			name:      "at the scheduled start counts down to the end",
			now:       start,
			phase:     models.PhaseOpen,
			remaining: time.Hour,
		},
		{
			name:      "mid session",
			now:       start.Add(40 * time.Minute),
			phase:     models.PhaseOpen,
			remaining: 20 * time.Minute,
		},
		{
			name:      "past the scheduled end clamps to zero",
			now:       end.Add(10 * time.Minute),
			phase:     models.PhaseOpen,
			remaining: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timing := EvaluateClock(tt.now, start, end, earlyWindow)
			require.Equal(t, tt.phase, timing.Phase)
			require.Equal(t, tt.remaining, timing.TimeRemaining)
		})
	}
}

func TestEvaluateClockZeroEarlyWindow(t *testing.T) {
	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	timing := EvaluateClock(start.Add(-time.Second), start, end, 0)
	require.Equal(t, models.PhaseWait, timing.Phase)

	timing = EvaluateClock(start, start, end, 0)
	require.Equal(t, models.PhaseOpen, timing.Phase)
	require.Equal(t, 30*time.Minute, timing.TimeRemaining)
}
