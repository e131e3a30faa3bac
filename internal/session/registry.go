package session

import (
	"time"

	"github.com/advicelink/sessiond/internal/models"
)

// DeviceReport is a partial device-status update submitted after a preflight
// run. Nil fields are left unchanged so clients can report devices as they
// are tested rather than all at once.
type DeviceReport struct {
	Camera      *bool
	Microphone  *bool
	Speaker     *bool
	Permissions *models.Permissions
	Label       string
}

// Registry owns the two Participant records for one session and is the only
// writer of online/ready/device/network state. It is not safe for concurrent
// use on its own: the owning coordinator serialises all access through its
// command queue.
type Registry struct {
	medium       models.Medium
	participants map[models.Role]*models.Participant
	now          func() time.Time

	// onChange fires after every effective mutation so the coordinator can
	// re-evaluate admission without polling.
	onChange func(models.Role)
}

// NewRegistry creates the registry for a session. Participant records are
// created lazily on first contact and persist for the session's lifetime.
func NewRegistry(ref models.ReservationRef, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	r := &Registry{
		medium:       ref.Medium,
		participants: make(map[models.Role]*models.Participant, 2),
		now:          now,
	}
	for _, role := range []models.Role{models.RoleExpert, models.RoleClient} {
		r.participants[role] = &models.Participant{
			UserID: ref.UserIDForRole(role),
			Role:   role,
		}
	}
	return r
}

// OnChange registers the readiness-changed callback. Only the coordinator
// sets this.
func (r *Registry) OnChange(fn func(models.Role)) {
	r.onChange = fn
}

// Participant returns the record for a role. The returned pointer is owned by
// the registry; callers copy what they need.
func (r *Registry) Participant(role models.Role) *models.Participant {
	return r.participants[role]
}

// SetOnline records transport-level presence. Idempotent: repeating the
// current value changes nothing and fires no callback. Going offline clears
// the ready flag, whatever its value was.
func (r *Registry) SetOnline(role models.Role, online bool) error {
	p, err := r.lookup(role)
	if err != nil {
		return err
	}
	if p.Online == online {
		return nil
	}

	p.Online = online
	p.LastOnlineChange = r.now()
	if !online {
		p.Ready = false
	}

	r.changed(role)
	return nil
}

// UpdateDeviceStatus merges a partial device report. It recomputes eligibility
// as a side effect of the invariant but never sets ready itself; a participant
// whose camera dies after declaring ready keeps the flag until they drop
// offline or the coordinator acts on it.
func (r *Registry) UpdateDeviceStatus(role models.Role, report DeviceReport) error {
	p, err := r.lookup(role)
	if err != nil {
		return err
	}

	var dirty bool
	if report.Camera != nil && p.Devices.Camera != *report.Camera {
		p.Devices.Camera = *report.Camera
		dirty = true
	}
	if report.Microphone != nil && p.Devices.Microphone != *report.Microphone {
		p.Devices.Microphone = *report.Microphone
		dirty = true
	}
	if report.Speaker != nil && p.Devices.Speaker != *report.Speaker {
		p.Devices.Speaker = *report.Speaker
		dirty = true
	}
	if report.Permissions != nil && p.Permissions != *report.Permissions {
		p.Permissions = *report.Permissions
		dirty = true
	}
	if report.Label != "" && p.DeviceLabel != report.Label {
		p.DeviceLabel = report.Label
		dirty = true
	}

	if dirty {
		r.changed(role)
	}
	return nil
}

// UpdateNetworkQuality records the latest probe result for a role.
func (r *Registry) UpdateNetworkQuality(role models.Role, nq models.NetworkQuality) error {
	p, err := r.lookup(role)
	if err != nil {
		return err
	}
	p.Network = &nq
	r.changed(role)
	return nil
}

// SetReady records the explicit readiness declaration. Setting ready=true
// fails with ErrNotEligible while the device invariant for the session's
// medium is unmet, or while the participant is offline.
func (r *Registry) SetReady(role models.Role, ready bool) error {
	p, err := r.lookup(role)
	if err != nil {
		return err
	}

	if ready {
		if !p.Online || !p.EligibleForReady(r.medium) {
			return ErrNotEligible
		}
	}

	if p.Ready == ready {
		return nil
	}
	p.Ready = ready
	r.changed(role)
	return nil
}

// BothReady reports whether both participants are online and ready.
func (r *Registry) BothReady() bool {
	for _, p := range r.participants {
		if !p.Online || !p.Ready {
			return false
		}
	}
	return true
}

// AnyOnline reports whether at least one participant is connected.
func (r *Registry) AnyOnline() bool {
	for _, p := range r.participants {
		if p.Online {
			return true
		}
	}
	return false
}

// OfflineSince returns, for an offline role, the time it went offline.
// The second return is false while the role is online.
func (r *Registry) OfflineSince(role models.Role) (time.Time, bool) {
	p := r.participants[role]
	if p == nil || p.Online {
		return time.Time{}, false
	}
	return p.LastOnlineChange, true
}

func (r *Registry) lookup(role models.Role) (*models.Participant, error) {
	p, ok := r.participants[role]
	if !ok {
		return nil, ErrUnknownRole
	}
	return p, nil
}

func (r *Registry) changed(role models.Role) {
	if r.onChange != nil {
		r.onChange(role)
	}
}
