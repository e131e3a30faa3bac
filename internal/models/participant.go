package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of the consultation a participant is on.
type Role string

const (
	RoleExpert Role = "expert"
	RoleClient Role = "client"
)

// Valid reports whether the role is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleExpert || r == RoleClient
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleExpert {
		return RoleClient
	}
	return RoleExpert
}

// NetQuality is the bucketed network quality estimated by the preflight probe.
type NetQuality string

const (
	NetExcellent NetQuality = "excellent"
	NetGood      NetQuality = "good"
	NetFair      NetQuality = "fair"
	NetPoor      NetQuality = "poor"
)

// DeviceStatus reports which local devices passed the preflight checks.
type DeviceStatus struct {
	Camera     bool `json:"camera"`
	Microphone bool `json:"microphone"`
	Speaker    bool `json:"speaker"`
}

// Permissions reports which media permissions the participant has granted.
type Permissions struct {
	Camera     bool `json:"camera"`
	Microphone bool `json:"microphone"`
}

// NetworkQuality is the submitted result of a network probe.
type NetworkQuality struct {
	Quality     NetQuality `json:"quality"`
	RoundTripMs int        `json:"roundTripMs"`
}

// Participant is one party's transient coordination state for a session.
// It lives in memory for the lifetime of the session and is rebuilt from
// scratch when a client reconnects after a coordinator restart.
type Participant struct {
	UserID uuid.UUID
	Role   Role

	// Online is transport-level presence, toggled by connect/disconnect.
	Online bool
	// Ready is the explicit declaration gated on the device invariant.
	// It is cleared whenever Online drops.
	Ready bool

	Devices     DeviceStatus
	Permissions Permissions
	Network     *NetworkQuality
	DeviceLabel string

	// LastOnlineChange is the time of the most recent Online flip, used by
	// the disconnect grace timer.
	LastOnlineChange time.Time
}

// EligibleForReady reports whether the device invariant for the given medium
// is satisfied: a working microphone always, plus a working camera for video.
// Chat sessions need no devices at all.
func (p *Participant) EligibleForReady(medium Medium) bool {
	switch medium {
	case MediumChat:
		return true
	case MediumVideo:
		return p.Devices.Microphone && p.Devices.Camera
	default:
		return p.Devices.Microphone
	}
}
