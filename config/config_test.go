package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skrufy/ConstructionManager-sub008/fieldsync"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, fieldsync.DefaultSyncInterval, cfg.Sync.Interval.Std())
	assert.Equal(t, fieldsync.StrategyServerWins, cfg.Sync.Strategy)
	assert.Equal(t, "fieldsync.db", cfg.Storage.Path)
	assert.Equal(t, "sync_queue", cfg.Storage.TableName)

	backoff := fieldsync.DefaultBackoffConfig()
	assert.Equal(t, backoff.BaseDelay, cfg.Backoff.BaseDelay.Std())
	assert.Equal(t, backoff.MaxRetries, cfg.Backoff.MaxRetries)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
remote:
  base_url: https://api.example.com
  timeout: 10s
sync:
  interval: 2m
  strategy: merge
backoff:
  base_delay: 500ms
  max_retries: 8
storage:
  path: /var/lib/fieldsync/queue.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout.Std())
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval.Std())
	assert.Equal(t, fieldsync.StrategyMerge, cfg.Sync.Strategy)
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff.BaseDelay.Std())
	assert.Equal(t, 8, cfg.Backoff.MaxRetries)
	assert.Equal(t, "/var/lib/fieldsync/queue.db", cfg.Storage.Path)

	// Untouched sections keep their defaults.
	assert.Equal(t, "sync_queue", cfg.Storage.TableName)
	assert.Equal(t, fieldsync.DefaultBackoffConfig().Multiplier, cfg.Backoff.Multiplier)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "remote: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
remote:
  base_url: https://api.example.com
  timeout: banana
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Remote.BaseURL = "https://api.example.com"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing base url", func(c *Config) { c.Remote.BaseURL = "" }, "base_url"},
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }, "interval"},
		{"unknown strategy", func(c *Config) { c.Sync.Strategy = "coin-flip" }, "strategy"},
		{"negative retries", func(c *Config) { c.Backoff.MaxRetries = -1 }, "max_retries"},
		{"jitter above one", func(c *Config) { c.Backoff.JitterPercent = 1.5 }, "jitter"},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFieldsyncBackoff(t *testing.T) {
	cfg := Default()
	cfg.Backoff.BaseDelay = Duration(2 * time.Second)
	cfg.Backoff.MaxRetries = 7

	got := cfg.FieldsyncBackoff()
	assert.Equal(t, 2*time.Second, got.BaseDelay)
	assert.Equal(t, 7, got.MaxRetries)
	assert.Equal(t, cfg.Backoff.Multiplier, got.Multiplier)
}
