package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, JobControlInteractive, cfg.JobControlMode)
	require.Equal(t, 200*time.Millisecond, cfg.UvarPollInterval)
	require.Empty(t, cfg.Features)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
job_control = "full"
uvar_poll_interval_ms = 500

[features]
qmark-noglob = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, JobControlFull, cfg.JobControlMode)
	require.Equal(t, 500*time.Millisecond, cfg.UvarPollInterval)
	require.True(t, cfg.Features["qmark-noglob"])
}

func TestLoadRejectsInvalidJobControlMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`job_control = "bogus"`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
