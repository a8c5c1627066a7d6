package config

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, 10, cfg.Hold.MaxSeats)
	assert.Equal(t, 5*time.Minute, cfg.Hold.TTL)
	assert.Equal(t, 60*time.Second, cfg.Hold.RenewThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Hold.Extension)
	assert.Equal(t, 15*time.Second, cfg.Hold.SweepInterval)
	assert.Equal(t, StoreMemory, cfg.Hold.Store)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, CatalogFile, cfg.Catalog.Source)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("HOLD_MAX_SEATS", "6")
	t.Setenv("HOLD_TTL", "2m")
	t.Setenv("HOLD_RENEW_THRESHOLD", "30s")
	t.Setenv("HOLD_STORE", "REDIS")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Hold.MaxSeats)
	assert.Equal(t, 2*time.Minute, cfg.Hold.TTL)
	assert.Equal(t, StoreRedis, cfg.Hold.Store)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.RateLimit.Capacity)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.TTL)
	assert.True(t, cfg.NeedsRedis())
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":    {"JWT_SECRET": ""},
		"unknown store":     {"HOLD_STORE": "etcd"},
		"threshold too big": {"HOLD_RENEW_THRESHOLD": "10m"},
		"zero seats":        {"HOLD_MAX_SEATS": "0"},
		"mysql without db":  {"CATALOG_SOURCE": "mysql"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestRateLimitConfig_Normalize(t *testing.T) {
	c := RateLimitConfig{RefillInterval: 3 * time.Second}.normalize()
	assert.Equal(t, 1, c.Capacity)
	assert.Equal(t, 1, c.RefillTokens)
	assert.Equal(t, 15*time.Second, c.TTL)
	assert.Equal(t, "rl", c.Prefix)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()
	_, err = NewRedisClient(RedisConfig{Addr: mr.Addr()})
	assert.Error(t, err)
}
