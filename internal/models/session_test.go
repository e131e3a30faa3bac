package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusScheduled, StatusPreSession, StatusWaitingRoom, StatusActive} {
		require.False(t, s.IsTerminal(), "%s", s)
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusExpired} {
		require.True(t, s.IsTerminal(), "%s", s)
	}
}

func TestNewDisplayID(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	display := NewDisplayID(id)
	require.True(t, len(display) > 3)
	require.Equal(t, "CS-", display[:3])

	// Stable for the same session, distinct across sessions.
	require.Equal(t, display, NewDisplayID(id))
	require.NotEqual(t, display, NewDisplayID(uuid.Must(uuid.NewV7())))
}

func TestDurationMinutes(t *testing.T) {
	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	s := &Session{}
	require.Zero(t, s.DurationMinutes())

	s.ActualStart = &start
	require.Zero(t, s.DurationMinutes())

	ended := start.Add(29*time.Minute + 40*time.Second)
	s.ActualEnd = &ended
	require.Equal(t, 30, s.DurationMinutes())
}

func TestRoleHelpers(t *testing.T) {
	require.True(t, RoleExpert.Valid())
	require.True(t, RoleClient.Valid())
	require.False(t, Role("moderator").Valid())

	require.Equal(t, RoleClient, RoleExpert.Other())
	require.Equal(t, RoleExpert, RoleClient.Other())
}

func TestEligibleForReady(t *testing.T) {
	tests := []struct {
		name    string
		medium  Medium
		devices DeviceStatus
		want    bool
	}{
		{name: "chat needs nothing", medium: MediumChat, want: true},
		{name: "voice needs a microphone", medium: MediumVoice, devices: DeviceStatus{Microphone: true}, want: true},
		{name: "voice without microphone", medium: MediumVoice, devices: DeviceStatus{Camera: true, Speaker: true}, want: false},
		{name: "video needs microphone and camera", medium: MediumVideo, devices: DeviceStatus{Microphone: true, Camera: true}, want: true},
		{name: "video without camera", medium: MediumVideo, devices: DeviceStatus{Microphone: true}, want: false},
		{name: "video without microphone", medium: MediumVideo, devices: DeviceStatus{Camera: true}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Participant{Devices: tt.devices}
			require.Equal(t, tt.want, p.EligibleForReady(tt.medium))
		})
	}
}

func TestUserIDForRole(t *testing.T) {
	ref := ReservationRef{
		ExpertID: uuid.Must(uuid.NewV7()),
		ClientID: uuid.Must(uuid.NewV7()),
	}
	require.Equal(t, ref.ExpertID, ref.UserIDForRole(RoleExpert))
	require.Equal(t, ref.ClientID, ref.UserIDForRole(RoleClient))
}
