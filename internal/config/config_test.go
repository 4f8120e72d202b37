package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 4, cfg.Executor.Workers)
	assert.Equal(t, 5, cfg.Executor.RetryCap)
	assert.Equal(t, 2*time.Second, cfg.Executor.Backoff.Base)
	assert.Equal(t, 30*time.Second, cfg.Executor.Backoff.Max)
	assert.Equal(t, 2*time.Minute, cfg.Executor.LeaseDuration)
	assert.Equal(t, 5*time.Minute, cfg.Quota.UsageCacheTTL)
	assert.Equal(t, "@every 1m", cfg.Sweeper.Schedule)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_URL", "postgresql://u:p@db:5432/dozilab")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("OS_REGION_NAME", "RegionTwo")
	t.Setenv("DOZILAB_EXECUTOR_WORKERS", "16")
	t.Setenv("DOZILAB_EXECUTOR_BACKOFF_MAX", "45s")
	t.Setenv("DOZILAB_OPENSTACK_BACKEND", OpenStackFake)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgresql://u:p@db:5432/dozilab", cfg.Database.URL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "RegionTwo", cfg.OpenStack.Region)
	assert.Equal(t, 16, cfg.Executor.Workers)
	assert.Equal(t, 45*time.Second, cfg.Executor.Backoff.Max)
	assert.Equal(t, OpenStackFake, cfg.OpenStack.Backend)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dozilab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: memory
executor:
  retry_cap: 3
  lease_duration: 10m
  backoff:
    base: 1s
    max: 2m
sweeper:
  schedule: "*/5 * * * *"
`), 0o600))

	t.Run("explicit path", func(t *testing.T) {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, StoreMemory, cfg.Store)
		assert.Equal(t, 3, cfg.Executor.RetryCap)
		assert.Equal(t, 2*time.Minute, cfg.Executor.Backoff.Max)
		assert.Equal(t, "*/5 * * * *", cfg.Sweeper.Schedule)
		assert.Equal(t, 4, cfg.Executor.Workers, "defaults fill the rest")
	})

	t.Run("env path and override", func(t *testing.T) {
		t.Setenv(EnvConfigFile, path)
		t.Setenv("DOZILAB_EXECUTOR_RETRY_CAP", "7")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, StoreMemory, cfg.Store)
		assert.Equal(t, 7, cfg.Executor.RetryCap)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown store", func(c *Config) { c.Store = "sqlite" }, "store must be"},
		{"postgres without url", func(c *Config) { c.Database.URL = "" }, "database.url is required"},
		{"unknown backend", func(c *Config) { c.OpenStack.Backend = "aws" }, "openstack.backend"},
		{"zero workers", func(c *Config) { c.Executor.Workers = 0 }, "executor.workers"},
		{"zero retry cap", func(c *Config) { c.Executor.RetryCap = 0 }, "executor.retry_cap"},
		{"negative step timeout", func(c *Config) { c.Executor.StepTimeout = -time.Second }, "executor.step_timeout must be positive"},
		{"multiplier below one", func(c *Config) { c.Executor.Backoff.Multiplier = 0.5 }, "multiplier"},
		{"jitter of one", func(c *Config) { c.Executor.Backoff.Jitter = 1 }, "jitter"},
		{"max below base", func(c *Config) { c.Executor.Backoff.Max = time.Second; c.Executor.Backoff.Base = 5 * time.Second }, "must not be below"},
		{"poll outlives lease", func(c *Config) { c.Executor.Backoff.Max = time.Minute }, "half of executor.lease_duration"},
		{"claim shorter than step", func(c *Config) { c.Executor.Visibility = time.Minute }, "must exceed executor.step_timeout"},
		{"bad schedule", func(c *Config) { c.Sweeper.Schedule = "sometimes" }, "sweeper.schedule"},
		{"zero batch", func(c *Config) { c.Sweeper.BatchSize = 0 }, "sweeper.batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("memory store needs no database", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Store = StoreMemory
		cfg.Database.URL = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestRedactedYAML(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.URL = "postgresql://dozilab:hunter2@db:5432/dozilab"
	cfg.Vault.Token = "hvs.secret"
	cfg.S3.SecretKey = "s3-secret"

	out, err := cfg.Redacted().YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.NotContains(t, string(out), "hvs.secret")
	assert.NotContains(t, string(out), "s3-secret")
	assert.Equal(t, "hvs.secret", cfg.Vault.Token, "original is untouched")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Contains(t, decoded, "executor")
	assert.Contains(t, string(out), "lease_duration: 2m0s")
}
