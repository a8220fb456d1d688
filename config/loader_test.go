package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khoshtrip/backend/types"
)

const sampleConfig = `
name: khoshtrip
version: 1.2.0
server:
  http:
    port: 9000
store:
  type: redis
  redis:
    host: redis.internal
    query_timeout: 250ms
cache:
  excluded_params: [page]
  fan_out:
    image: [product_detail]
metrics:
  sample_retention: 12h
  min_samples: 20
`

func TestLoadFromBytesOverDefaults(t *testing.T) {
	cfg, err := NewLoader().WithEnvironment(map[string]string{}).LoadFromBytes([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "khoshtrip", cfg.Name)
	assert.Equal(t, 9000, cfg.Server.HTTP.Port)
	assert.Equal(t, "redis.internal", cfg.Store.Redis.Host)
	assert.Equal(t, 6379, cfg.Store.Redis.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.Redis.QueryTimeout)
	assert.Equal(t, []string{"page"}, cfg.Cache.ExcludedParams)
	assert.Equal(t, "view_cache", cfg.Cache.Namespace)
	assert.Equal(t, []string{"product_detail"}, cfg.Cache.FanOut["image"])
	assert.Contains(t, cfg.Cache.FanOut, "product")
	assert.Equal(t, 12*time.Hour, cfg.Metrics.SampleRetention)
	assert.Equal(t, int64(20), cfg.Metrics.MinSamples)
}

func TestEnvironmentOverrides(t *testing.T) {
	cfg, err := NewLoader().WithEnvironment(map[string]string{
		"TRIPCACHE_REDIS_HOST":       "cache.example",
		"TRIPCACHE_REDIS_PORT":       "6380",
		"TRIPCACHE_REDIS_PASSWORD":   "secret",
		"TRIPCACHE_HTTP_PORT":        "8181",
		"TRIPCACHE_LOG_LEVEL":        "debug",
		"TRIPCACHE_ADMIN_TOKEN_HASH": "$2a$10$abc",
	}).LoadFromBytes([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "cache.example", cfg.Store.Redis.Host)
	assert.Equal(t, 6380, cfg.Store.Redis.Port)
	assert.Equal(t, "secret", cfg.Store.Redis.Password)
	assert.Equal(t, 8181, cfg.Server.HTTP.Port)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "$2a$10$abc", cfg.Auth.AdminTokenHash)
}

func TestValidationFailure(t *testing.T) {
	_, err := NewLoader().WithEnvironment(map[string]string{}).LoadFromBytes([]byte("store:\n  type: memcached\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)

	_, err = NewLoader().WithEnvironment(map[string]string{}).LoadFromBytes([]byte("server: [1, 2]"))
	assert.ErrorIs(t, err, types.ErrConfigParseFailed)
}

func TestLoadFromFile(t *testing.T) {
	loader := NewLoader().WithEnvironment(map[string]string{})

	_, err := loader.LoadFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, types.ErrConfigNotFound)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg, err := loader.LoadFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", cfg.Version)
}

func TestParserPaths(t *testing.T) {
	cfg, err := NewLoader().WithEnvironment(map[string]string{}).LoadFromBytes([]byte(sampleConfig))
	require.NoError(t, err)

	cm := NewStaticManager(cfg)

	assert.Equal(t, "redis.internal", cm.GetValue("store.redis.host", ""))
	assert.Equal(t, "fallback", cm.GetValue("store.redis.nope", "fallback"))

	var timeout time.Duration
	require.NoError(t, cm.GetAs("store.redis.query_timeout", &timeout))
	assert.Equal(t, 250*time.Millisecond, timeout)

	var heavy []string
	require.NoError(t, cm.GetAs("cache.heavy_models", &heavy))
	assert.Contains(t, heavy, "purchasehistory")

	assert.ErrorIs(t, cm.GetAs("cache.unknown", &heavy), types.ErrConfigNotFound)
	assert.Contains(t, cm.GetAllPaths(), "store.redis.host")
}
