// Package config loads the Aviary configuration from YAML with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultAddress          = "127.0.0.1:4499"
	DefaultStaleSessionAge  = 24 * time.Hour
	DefaultRecentCallBuffer = 1000
	DefaultMaxTabResults    = 20
	DefaultSweepInterval    = 30 * time.Minute
)

// Config represents the complete Aviary configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionConfig  `yaml:"sessions"`
	Activity ActivityConfig `yaml:"activity"`
	Profile  ProfileConfig  `yaml:"profile"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// SessionConfig controls session lifecycle thresholds.
type SessionConfig struct {
	MetadataDir   string        `yaml:"metadata_dir"`
	StaleAge      time.Duration `yaml:"stale_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxTabResults int           `yaml:"max_tab_results"`
}

// ActivityConfig controls the tool-call ledger.
type ActivityConfig struct {
	RecentBufferSize int `yaml:"recent_buffer_size"`
}

// ProfileConfig controls browser identity resolution.
type ProfileConfig struct {
	RealProfileDir          string `yaml:"real_profile_dir"`
	PersistentDir           string `yaml:"persistent_dir"`
	TempDir                 string `yaml:"temp_dir"`
	AllowPersistentFallback bool   `yaml:"allow_persistent_fallback"`
	AllowTempFallback       bool   `yaml:"allow_temp_fallback"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Default returns a Config populated with defaults rooted under the user home.
func Default() *Config {
	base := defaultBaseDir()
	return &Config{
		Server: ServerConfig{Address: DefaultAddress},
		Sessions: SessionConfig{
			MetadataDir:   filepath.Join(base, "sessions"),
			StaleAge:      DefaultStaleSessionAge,
			SweepInterval: DefaultSweepInterval,
			MaxTabResults: DefaultMaxTabResults,
		},
		Activity: ActivityConfig{RecentBufferSize: DefaultRecentCallBuffer},
		Profile: ProfileConfig{
			PersistentDir:           filepath.Join(base, "profile"),
			TempDir:                 os.TempDir(),
			AllowPersistentFallback: true,
			AllowTempFallback:       true,
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join(base, "logs"),
			Level: "info",
		},
	}
}

// Load reads configuration from path, applying defaults for missing fields.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Sessions.MetadataDir == "" {
		c.Sessions.MetadataDir = def.Sessions.MetadataDir
	}
	if c.Sessions.StaleAge <= 0 {
		c.Sessions.StaleAge = def.Sessions.StaleAge
	}
	if c.Sessions.SweepInterval <= 0 {
		c.Sessions.SweepInterval = def.Sessions.SweepInterval
	}
	if c.Sessions.MaxTabResults <= 0 {
		c.Sessions.MaxTabResults = def.Sessions.MaxTabResults
	}
	if c.Activity.RecentBufferSize <= 0 {
		c.Activity.RecentBufferSize = def.Activity.RecentBufferSize
	}
	if c.Profile.PersistentDir == "" {
		c.Profile.PersistentDir = def.Profile.PersistentDir
	}
	if c.Profile.TempDir == "" {
		c.Profile.TempDir = def.Profile.TempDir
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = def.Logging.Dir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "aviary")
	}
	return filepath.Join(home, ".aviary")
}
