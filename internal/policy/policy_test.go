package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("early_window: 2m\ndisconnect_grace: 90s\n"), 0o600))

	p, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 2*time.Minute, p.EarlyWindow)
	require.Equal(t, 90*time.Second, p.DisconnectGrace)
	// Unmentioned keys keep their defaults.
	require.Equal(t, 80*time.Millisecond, p.Network.Excellent)
	require.Equal(t, time.Second, p.TickInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("early_window: -5m\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateThresholdOrdering(t *testing.T) {
	p := Default()
	p.Network.Good = 50 * time.Millisecond // below excellent
	require.Error(t, p.Validate())
}
