package config

import (
	"time"

	"github.com/spf13/viper"
)

// RateLimitConfig drives the Redis token bucket in front of the hold
// endpoints.  Each key starts with Capacity tokens and regains
// RefillTokens every RefillInterval.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
	Debug          bool
}

func setRateLimitDefaults(v *viper.Viper) {
	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_CAPACITY", 60)
	v.SetDefault("RATE_LIMIT_REFILL_TOKENS", 1)
	v.SetDefault("RATE_LIMIT_REFILL_INTERVAL", "1s")
	v.SetDefault("RATE_LIMIT_TTL", "10m")
	v.SetDefault("RATE_LIMIT_PREFIX", "rl")
	v.SetDefault("RATE_LIMIT_DEBUG", false)
}

func bindRateLimit(v *viper.Viper) RateLimitConfig {
	c := RateLimitConfig{
		Enabled:        v.GetBool("RATE_LIMIT_ENABLED"),
		Capacity:       v.GetInt("RATE_LIMIT_CAPACITY"),
		RefillTokens:   v.GetInt("RATE_LIMIT_REFILL_TOKENS"),
		RefillInterval: v.GetDuration("RATE_LIMIT_REFILL_INTERVAL"),
		TTL:            v.GetDuration("RATE_LIMIT_TTL"),
		Prefix:         v.GetString("RATE_LIMIT_PREFIX"),
		Debug:          v.GetBool("RATE_LIMIT_DEBUG"),
	}
	if b := v.GetInt("RATE_LIMIT_BURST"); b > 0 {
		c.Capacity = b
	}
	if every := v.GetDuration("RATE_LIMIT_REFILL_EVERY"); every > 0 {
		c.RefillTokens = 1
		c.RefillInterval = every
	}
	return c.normalize()
}

// normalize clamps nonsensical values.  Keys must outlive a few refill
// intervals or idle clients would regain a full bucket too early.
func (c RateLimitConfig) normalize() RateLimitConfig {
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
		c.TTL = minTTL
	}
	if c.Prefix == "" {
		c.Prefix = "rl"
	}
	return c
}
