package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".careerpilot"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// envPrefix namespaces all environment overrides.
	envPrefix = "CAREERPILOT"
)

// ConfigPath returns the path to the config file. CAREERPILOT_CONFIG wins
// over the default location under the home directory.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("CAREERPILOT_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Load reads the config file (if present), applies environment overrides,
// and returns the merged configuration. A missing file is not an error:
// defaults plus environment are used.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// fall through to env overrides
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating the directory if needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// DBPath returns the resolved path to the SQLite database file.
func (c *Config) DBPath() (string, error) {
	dir, err := expandHome(c.Paths.DataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Paths.DBFile), nil
}

func (c *Config) normalize() error {
	if c.Analysis.MaxIterations <= 0 {
		c.Analysis.MaxIterations = DefaultConfig().Analysis.MaxIterations
	}
	if c.Analysis.ConfidenceThreshold <= 0 || c.Analysis.ConfidenceThreshold > 1 {
		c.Analysis.ConfidenceThreshold = DefaultConfig().Analysis.ConfidenceThreshold
	}
	if c.Events.MaxAttempts <= 0 {
		c.Events.MaxAttempts = DefaultConfig().Events.MaxAttempts
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		c.Realtime.HeartbeatInterval = DefaultConfig().Realtime.HeartbeatInterval
	}
	if c.Realtime.SendBuffer <= 0 {
		c.Realtime.SendBuffer = DefaultConfig().Realtime.SendBuffer
	}
	if c.Scheduler.LockPath == "" {
		dir, err := expandHome(c.Paths.DataDir)
		if err != nil {
			return err
		}
		c.Scheduler.LockPath = filepath.Join(dir, "scheduler.lock")
	}
	return nil
}
