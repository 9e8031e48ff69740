package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	// StorePath is the SQLite database path. The literal ":memory:"
	// selects the in-memory store, useful for smoke runs.
	StorePath string `yaml:"store_path" json:"store_path"`

	// Timezone is the IANA zone used when an event carries none.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Context is the default site context queried by the CLI.
	Context string `yaml:"context" json:"context"`

	// HorizonDays is the query window length in days.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// LeaseMinutes is how long a checked-out edit may stay
	// uncommitted before the sweeper cancels it.
	LeaseMinutes int `yaml:"lease_minutes" json:"lease_minutes"`

	// SweepCron is the cron-style schedule for the lease sweeper.
	SweepCron string `yaml:"sweep" json:"sweep"`

	// ExportPath, if set, is where the CLI writes an ICS export of
	// the queried calendar.
	ExportPath string `yaml:"export_path,omitempty" json:"export_path,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		StorePath:    "calcore.db",
		Timezone:     "UTC",
		Context:      "main",
		HorizonDays:  28,
		LeaseMinutes: 30,
		SweepCron:    "@every 1m",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.StorePath == "" {
		c.StorePath = "calcore.db"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Context == "" {
		c.Context = "main"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 28
	}
	if c.LeaseMinutes <= 0 {
		c.LeaseMinutes = 30
	}
	if c.SweepCron == "" {
		c.SweepCron = "@every 1m"
	}
}

// Lease returns the edit lease as a duration.
func (c *Config) Lease() time.Duration {
	return time.Duration(c.LeaseMinutes) * time.Minute
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there with
// 0600 perms and returned; otherwise the file is read, unmarshalled
// and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path,
// atomically via a temp file + rename, ensuring 0600 permissions and
// a 0700 parent directory.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calcore-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	return nil
}
