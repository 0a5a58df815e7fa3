// Package config loads the engine configuration from an optional YAML file
// and fills in defaults. All tunables flow through the Config object passed
// into constructors; nothing reads global state.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Remote struct {
	// DSN selects the backend by scheme: https://, postgres://, memory://.
	// Empty means local-only operation.
	DSN string `yaml:"dsn"`
	// Path is the object path on the backend.
	Path           string `yaml:"path"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Sync struct {
	DownloadAttempts     int `yaml:"download_attempts"`
	UploadAttempts       int `yaml:"upload_attempts"`
	BaseDelayMillis      int `yaml:"base_delay_ms"`
	MaxDelayMillis       int `yaml:"max_delay_ms"`
	RateLimitDelayMillis int `yaml:"rate_limit_delay_ms"`
	LockTimeoutSeconds   int `yaml:"lock_timeout_seconds"`
	StaleLockMinutes     int `yaml:"stale_lock_minutes"`
}

type Ingest struct {
	Source             string  `yaml:"source"`
	PriceThreshold     float64 `yaml:"price_threshold"`
	MaxPerRun          int     `yaml:"max_per_run"`
	FreshnessHours     int     `yaml:"freshness_hours"`
	SettleDelaySeconds int     `yaml:"settle_delay_seconds"`
}

type Backup struct {
	MaxBackups    int `yaml:"max_backups"`
	RetentionDays int `yaml:"retention_days"`
}

type Log struct {
	// File enables rotated file logging alongside stderr when set.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type Config struct {
	// DataDir anchors the default locations of the working file, backups,
	// locks and the inbox.
	DataDir      string `yaml:"data_dir"`
	WorkingFile  string `yaml:"working_file"`
	BackupDir    string `yaml:"backup_dir"`
	LockDir      string `yaml:"lock_dir"`
	InboxDir     string `yaml:"inbox_dir"`
	ProcessedDir string `yaml:"processed_dir"`

	Remote Remote `yaml:"remote"`
	Sync   Sync   `yaml:"sync"`
	Ingest Ingest `yaml:"ingest"`
	Backup Backup `yaml:"backup"`
	Log    Log    `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// WithDefaults returns a copy with defaults applied to every unset field.
func (c Config) WithDefaults() Config {
	c.applyDefaults()
	return c
}

// Rebase moves the configuration onto a new data directory, re-deriving
// every path still at its DataDir-relative default. Explicitly pinned paths
// are kept. Defaults are compared against the configuration's own DataDir,
// so a config file with its own data_dir rebases correctly.
func (c Config) Rebase(dir string) Config {
	if dir == "" || dir == c.DataDir {
		return c
	}
	derived := Config{DataDir: c.DataDir}
	derived.applyDefaults()
	out := c
	out.DataDir = dir
	if c.WorkingFile == derived.WorkingFile {
		out.WorkingFile = ""
	}
	if c.BackupDir == derived.BackupDir {
		out.BackupDir = ""
	}
	if c.LockDir == derived.LockDir {
		out.LockDir = ""
	}
	if c.InboxDir == derived.InboxDir {
		out.InboxDir = ""
	}
	if c.ProcessedDir == derived.ProcessedDir {
		out.ProcessedDir = ""
	}
	out.applyDefaults()
	return out
}

// Load reads a YAML config file and applies defaults for everything left
// unset. Unknown keys are rejected to catch typos.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.WorkingFile == "" {
		c.WorkingFile = filepath.Join(c.DataDir, "price_history.json")
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.DataDir, "backups")
	}
	if c.LockDir == "" {
		c.LockDir = filepath.Join(c.DataDir, "locks")
	}
	if c.InboxDir == "" {
		c.InboxDir = filepath.Join(c.DataDir, "inbox")
	}
	if c.ProcessedDir == "" {
		c.ProcessedDir = filepath.Join(c.InboxDir, "processed")
	}
	if c.Remote.Path == "" {
		c.Remote.Path = "price_history.json"
	}
	if c.Remote.TimeoutSeconds <= 0 {
		c.Remote.TimeoutSeconds = 30
	}
	if c.Sync.DownloadAttempts <= 0 {
		c.Sync.DownloadAttempts = 3
	}
	if c.Sync.UploadAttempts <= 0 {
		c.Sync.UploadAttempts = 5
	}
	if c.Sync.BaseDelayMillis <= 0 {
		c.Sync.BaseDelayMillis = 500
	}
	if c.Sync.MaxDelayMillis <= 0 {
		c.Sync.MaxDelayMillis = 8000
	}
	if c.Sync.RateLimitDelayMillis <= 0 {
		c.Sync.RateLimitDelayMillis = 2000
	}
	if c.Sync.LockTimeoutSeconds <= 0 {
		c.Sync.LockTimeoutSeconds = 30
	}
	if c.Sync.StaleLockMinutes <= 0 {
		c.Sync.StaleLockMinutes = 10
	}
	if c.Ingest.Source == "" {
		c.Ingest.Source = "olx.ro"
	}
	if c.Ingest.PriceThreshold <= 0 {
		c.Ingest.PriceThreshold = 1.0
	}
	if c.Ingest.MaxPerRun <= 0 {
		c.Ingest.MaxPerRun = 1000
	}
	if c.Ingest.FreshnessHours <= 0 {
		c.Ingest.FreshnessHours = 24
	}
	if c.Ingest.SettleDelaySeconds <= 0 {
		c.Ingest.SettleDelaySeconds = 2
	}
	if c.Backup.MaxBackups <= 0 {
		c.Backup.MaxBackups = 10
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 30
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 20
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 30
	}
}

func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}
func (c Config) BaseDelay() time.Duration {
	return time.Duration(c.Sync.BaseDelayMillis) * time.Millisecond
}
func (c Config) MaxDelay() time.Duration {
	return time.Duration(c.Sync.MaxDelayMillis) * time.Millisecond
}
func (c Config) RateLimitDelay() time.Duration {
	return time.Duration(c.Sync.RateLimitDelayMillis) * time.Millisecond
}
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.Sync.LockTimeoutSeconds) * time.Second
}
func (c Config) StaleLockAge() time.Duration {
	return time.Duration(c.Sync.StaleLockMinutes) * time.Minute
}
func (c Config) Freshness() time.Duration {
	return time.Duration(c.Ingest.FreshnessHours) * time.Hour
}
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Ingest.SettleDelaySeconds) * time.Second
}
