// Package preflight implements the device and network checks a participant
// runs before declaring readiness. The probe is platform-bound at the edges
// only: media access and ping transport are injected interfaces, so the probe
// itself (and everything above it) unit-tests with fakes. Results stay local
// to the participant until explicitly submitted through the gateway.
package preflight

import (
	"context"
	"errors"
)

// Distinct error kinds: missing hardware and a declined permission prompt
// need different remediation guidance on the client.
var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrPermissionDenied  = errors.New("permission denied")
)

// Reason codes surfaced to the client alongside a failed check.
const (
	ReasonDeviceUnavailable = "device_unavailable"
	ReasonPermissionDenied  = "permission_denied"
	ReasonUnknown           = "unknown"
)

// Device describes a probed local device.
type Device struct {
	Label string
}

// MediaDevices abstracts the platform's media layer. Each accessor returns
// the device that would be used for the session, ErrDeviceUnavailable when no
// hardware is present, or ErrPermissionDenied when the user declined access.
type MediaDevices interface {
	Camera(ctx context.Context) (Device, error)
	Microphone(ctx context.Context) (Device, error)
	Speaker(ctx context.Context) (Device, error)

	// MicrophoneLevel samples the current input level, 0..100.
	MicrophoneLevel(ctx context.Context) (int, error)
}

// DeviceCheck is the outcome of probing one device.
type DeviceCheck struct {
	Available bool   `json:"available"`
	Label     string `json:"label,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// DeviceTestResult aggregates the three device checks.
type DeviceTestResult struct {
	Camera     DeviceCheck `json:"camera"`
	Microphone DeviceCheck `json:"microphone"`
	Speaker    DeviceCheck `json:"speaker"`
}

// RunDeviceTests probes camera, microphone and speaker. It never fails as a
// whole: each device reports its own availability and failure reason, since
// a missing camera must not block an audio-only consultation.
func (p *Probe) RunDeviceTests(ctx context.Context) DeviceTestResult {
	return DeviceTestResult{
		Camera:     check(ctx, p.devices.Camera),
		Microphone: check(ctx, p.devices.Microphone),
		Speaker:    check(ctx, p.devices.Speaker),
	}
}

// SampleMicrophoneLevel returns the current input level clamped to 0..100.
func (p *Probe) SampleMicrophoneLevel(ctx context.Context) (int, error) {
	level, err := p.devices.MicrophoneLevel(ctx)
	if err != nil {
		return 0, err
	}
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return level, nil
}

func check(ctx context.Context, probe func(context.Context) (Device, error)) DeviceCheck {
	dev, err := probe(ctx)
	if err != nil {
		return DeviceCheck{Available: false, Reason: reasonFor(err)}
	}
	return DeviceCheck{Available: true, Label: dev.Label}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, ErrDeviceUnavailable):
		return ReasonDeviceUnavailable
	default:
		return ReasonUnknown
	}
}
