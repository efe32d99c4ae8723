package fieldsync

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig tunes the retry delay curve. Exponential growth avoids
// thundering-herd retries against a recovering server, jitter desynchronizes
// clients, and the cap bounds worst-case latency.
type BackoffConfig struct {
	BaseDelay     time.Duration
	Multiplier    float64
	MaxDelay      time.Duration
	JitterPercent float64
	MaxRetries    int
}

// DefaultBackoffConfig returns the standard retry policy.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:     time.Second,
		Multiplier:    2,
		MaxDelay:      30 * time.Second,
		JitterPercent: 0.2,
		MaxRetries:    5,
	}
}

// normalized fills zero values with defaults so a partially specified config
// never produces a zero or negative delay.
func (c BackoffConfig) normalized() BackoffConfig {
	def := DefaultBackoffConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.JitterPercent < 0 {
		c.JitterPercent = 0
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	return c
}

// Delay computes the retry delay for the given zero-based attempt:
// min(base * multiplier^attempt, max), perturbed by ±jitterPercent with a
// uniform random factor, floored to whole milliseconds.
func Delay(attempt int, cfg BackoffConfig) time.Duration {
	return delayWithRand(attempt, cfg, rand.Float64)
}

// UnjitteredDelay is Delay without the random perturbation. The driver logs
// it and tests assert on it.
func UnjitteredDelay(attempt int, cfg BackoffConfig) time.Duration {
	cfg = cfg.normalized()
	if attempt < 0 {
		attempt = 0
	}

	base := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if capped := float64(cfg.MaxDelay); base > capped {
		base = capped
	}
	return time.Duration(base)
}

func delayWithRand(attempt int, cfg BackoffConfig, randFloat func() float64) time.Duration {
	cfg = cfg.normalized()
	base := float64(UnjitteredDelay(attempt, cfg))

	// Uniform factor in [-jitter, +jitter].
	jitter := cfg.JitterPercent * (2*randFloat() - 1)
	perturbed := base * (1 + jitter)
	if perturbed < 0 {
		perturbed = 0
	}

	ms := math.Floor(perturbed / float64(time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}
