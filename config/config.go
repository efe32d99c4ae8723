// Package config loads the sync engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Skrufy/ConstructionManager-sub008/fieldsync"
	"github.com/Skrufy/ConstructionManager-sub008/logging"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "2m". Plain integers are taken as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(ns)
	return nil
}

// Std returns the plain time.Duration value.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration for the sync daemon.
type Config struct {
	Remote  RemoteConfig   `yaml:"remote"`
	Sync    SyncConfig     `yaml:"sync"`
	Backoff BackoffConfig  `yaml:"backoff"`
	Storage StorageConfig  `yaml:"storage"`
	Logging logging.Config `yaml:"logging"`
}

// RemoteConfig describes the remote construction API.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// SyncConfig tunes the scheduler and conflict handling.
type SyncConfig struct {
	Interval Duration           `yaml:"interval"`
	Strategy fieldsync.Strategy `yaml:"strategy"`
}

// BackoffConfig mirrors fieldsync.BackoffConfig in YAML-friendly form.
type BackoffConfig struct {
	BaseDelay     Duration `yaml:"base_delay"`
	Multiplier    float64  `yaml:"multiplier"`
	MaxDelay      Duration `yaml:"max_delay"`
	JitterPercent float64  `yaml:"jitter_percent"`
	MaxRetries    int      `yaml:"max_retries"`
}

// StorageConfig describes the local SQLite store.
type StorageConfig struct {
	Path      string `yaml:"path"`
	TableName string `yaml:"table_name"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	backoff := fieldsync.DefaultBackoffConfig()
	return &Config{
		Remote: RemoteConfig{
			Timeout: Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			Interval: Duration(fieldsync.DefaultSyncInterval),
			Strategy: fieldsync.StrategyServerWins,
		},
		Backoff: BackoffConfig{
			BaseDelay:     Duration(backoff.BaseDelay),
			Multiplier:    backoff.Multiplier,
			MaxDelay:      Duration(backoff.MaxDelay),
			JitterPercent: backoff.JitterPercent,
			MaxRetries:    backoff.MaxRetries,
		},
		Storage: StorageConfig{
			Path:      "fieldsync.db",
			TableName: "sync_queue",
		},
		Logging: logging.DefaultConfig,
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	switch c.Sync.Strategy {
	case fieldsync.StrategyServerWins, fieldsync.StrategyClientWins,
		fieldsync.StrategyMerge, fieldsync.StrategyManual:
	default:
		return fmt.Errorf("sync.strategy %q is not a known strategy", c.Sync.Strategy)
	}
	if c.Backoff.MaxRetries < 0 {
		return fmt.Errorf("backoff.max_retries must not be negative")
	}
	if c.Backoff.JitterPercent < 0 || c.Backoff.JitterPercent > 1 {
		return fmt.Errorf("backoff.jitter_percent must be within [0, 1]")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	return nil
}

// FieldsyncBackoff converts the YAML backoff section into the engine's form.
func (c *Config) FieldsyncBackoff() fieldsync.BackoffConfig {
	return fieldsync.BackoffConfig{
		BaseDelay:     c.Backoff.BaseDelay.Std(),
		Multiplier:    c.Backoff.Multiplier,
		MaxDelay:      c.Backoff.MaxDelay.Std(),
		JitterPercent: c.Backoff.JitterPercent,
		MaxRetries:    c.Backoff.MaxRetries,
	}
}
