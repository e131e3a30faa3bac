// Package policy holds the timing and quality constants that govern session
// admission. Values ship with defaults but are deliberately configurable; the
// business-intended numbers live with operations, not in code.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy groups every tunable the coordinator and preflight probe consume.
type Policy struct {
	// EarlyWindow is how long before the scheduled start the admission
	// window opens (and how close to it a manual early start is allowed).
	EarlyWindow time.Duration `yaml:"early_window"`

	// PreflightWindow is how long before the scheduled start a SCHEDULED
	// session moves to PRE_SESSION and begins accepting device checks.
	PreflightWindow time.Duration `yaml:"preflight_window"`

	// DisconnectGrace is how long an ACTIVE participant may stay offline
	// before the session is cancelled against them.
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`

	// TickInterval is the coordinator's clock re-evaluation period.
	TickInterval time.Duration `yaml:"tick_interval"`

	// ArchiveGrace is how long a terminal session's coordinator stays
	// resident so late snapshot requests still resolve.
	ArchiveGrace time.Duration `yaml:"archive_grace"`

	Network NetworkThresholds `yaml:"network"`
}

// NetworkThresholds are the round-trip-time cutoffs for quality buckets.
// A measurement below Excellent is excellent, below Good is good, below Fair
// is fair, anything else (including probe failure) is poor.
type NetworkThresholds struct {
	Excellent time.Duration `yaml:"excellent"`
	Good      time.Duration `yaml:"good"`
	Fair      time.Duration `yaml:"fair"`
}

// Default returns the shipped policy values.
func Default() Policy {
	return Policy{
		EarlyWindow:     5 * time.Minute,
		PreflightWindow: 15 * time.Minute,
		DisconnectGrace: 60 * time.Second,
		TickInterval:    time.Second,
		ArchiveGrace:    5 * time.Minute,
		Network: NetworkThresholds{
			Excellent: 80 * time.Millisecond,
			Good:      200 * time.Millisecond,
			Fair:      500 * time.Millisecond,
		},
	}
}

// Load reads a YAML policy file and overlays it on the defaults, so partial
// files only override the keys they mention.
func Load(path string) (Policy, error) {
	p := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read policy file: %w", err)
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid policy file %s: %w", path, err)
	}

	return p, nil
}

// Validate checks the policy values are usable.
func (p Policy) Validate() error {
	if p.EarlyWindow <= 0 {
		return fmt.Errorf("early_window must be positive, got %s", p.EarlyWindow)
	}
	if p.PreflightWindow < p.EarlyWindow {
		return fmt.Errorf("preflight_window (%s) must not be shorter than early_window (%s)",
			p.PreflightWindow, p.EarlyWindow)
	}
	if p.DisconnectGrace <= 0 {
		return fmt.Errorf("disconnect_grace must be positive, got %s", p.DisconnectGrace)
	}
	if p.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", p.TickInterval)
	}
	if p.Network.Excellent <= 0 || p.Network.Good <= p.Network.Excellent || p.Network.Fair <= p.Network.Good {
		return fmt.Errorf("network thresholds must be ascending, got %s/%s/%s",
			p.Network.Excellent, p.Network.Good, p.Network.Fair)
	}
	return nil
}
