package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"env": "test",
		"port": 8090,
		"app_name": "parcelharvest",
		"engine": {
			"worker_count": 8,
			"queue_capacity": 500,
			"rate_limit": {"capacity": 10, "refill_per_second": 4.5},
			"cache": {"backend": "redis", "default_ttl_seconds": 600},
			"retry": {"max_attempts": 5}
		},
		"remote": {"base_url": "https://api.example.com", "api_key": "k"}
	}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, 8, cfg.Engine.WorkerCount)
	assert.Equal(t, 500, cfg.Engine.QueueCapacity)
	assert.Equal(t, 10, cfg.Engine.RateLimit.Capacity)
	assert.Equal(t, 4.5, cfg.Engine.RateLimit.RefillPerSecond)
	assert.Equal(t, "redis", cfg.Engine.Cache.Backend)
	assert.Equal(t, 600, cfg.Engine.Cache.DefaultTTLSeconds)
	assert.Equal(t, 5, cfg.Engine.Retry.MaxAttempts)
	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)

	// Unset knobs were defaulted.
	assert.Equal(t, 10_000, cfg.Engine.RateLimit.AcquireTimeoutMS)
	assert.Equal(t, 60, cfg.Engine.Cache.NegativeTTLSeconds)
	assert.Equal(t, 4, cfg.Engine.Pool.MaxConnections)
	assert.Equal(t, 200, cfg.Engine.Retry.BaseBackoffMS)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorContains(t, err, "error reading config file")
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": `), 0o600))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "error parsing config file")
}

func TestApplyDefaults(t *testing.T) {
	var cfg EngineConfig
	cfg.ApplyDefaults()

	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 0, cfg.QueueCapacity, "queue stays unbounded unless configured")
	assert.Equal(t, 5, cfg.RateLimit.Capacity)
	assert.Equal(t, 2.0, cfg.RateLimit.RefillPerSecond)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 300, cfg.Cache.DefaultTTLSeconds)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}
