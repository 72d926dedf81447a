package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, cfg.Server.Address)
	assert.Equal(t, DefaultStaleSessionAge, cfg.Sessions.StaleAge)
	assert.Equal(t, DefaultRecentCallBuffer, cfg.Activity.RecentBufferSize)
	assert.True(t, cfg.Profile.AllowTempFallback)
}

func TestLoadOverridesAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: "127.0.0.1:9999"
sessions:
  stale_age: 1h
profile:
  real_profile_dir: /home/user/.config/chromium/Default
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Address)
	assert.Equal(t, time.Hour, cfg.Sessions.StaleAge)
	assert.Equal(t, "/home/user/.config/chromium/Default", cfg.Profile.RealProfileDir)

	// Unspecified fields get defaults.
	assert.Equal(t, DefaultSweepInterval, cfg.Sessions.SweepInterval)
	assert.Equal(t, DefaultMaxTabResults, cfg.Sessions.MaxTabResults)
	assert.NotEmpty(t, cfg.Logging.Dir)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, cfg.Server.Address)
}
