package resilience

import (
	"context"
	"sync"
	"time"
)

// AdaptiveLimiter throttles outgoing RPC calls and reacts to the node's
// rate-limit responses.
//
//   - on a rate-limit response the rate is multiplied by BackoffFactor
//   - after RecoveryWindow consecutive successes it grows by RecoveryFactor
//   - the rate stays within [MinRate, MaxRate]
type AdaptiveLimiter struct {
	limiter *RateLimiter
	cfg     AdaptiveLimiterConfig

	mu             sync.Mutex
	current        float64
	successes      int
	lastAdjustment time.Time
	rateLimitHits  int64
}

// AdaptiveLimiterConfig configures the adaptive limiter.
type AdaptiveLimiterConfig struct {
	BaseRate       float64 // requests per second (default: 10)
	MinRate        float64 // default: 1
	MaxRate        float64 // default: BaseRate * 2
	Burst          int
	BackoffFactor  float64 // default: 0.5
	RecoveryFactor float64 // default: 1.1
	RecoveryWindow int     // default: 20
}

// NewAdaptiveLimiter creates a new adaptive rate limiter.
func NewAdaptiveLimiter(cfg AdaptiveLimiterConfig) *AdaptiveLimiter {
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = 10
	}
	if cfg.MinRate <= 0 {
		cfg.MinRate = 1
	}
	if cfg.MaxRate <= 0 {
		cfg.MaxRate = cfg.BaseRate * 2
	}
	if cfg.MinRate > cfg.BaseRate {
		cfg.MinRate = cfg.BaseRate
	}
	if cfg.MaxRate < cfg.BaseRate {
		cfg.MaxRate = cfg.BaseRate
	}
	if cfg.BackoffFactor <= 0 || cfg.BackoffFactor >= 1 {
		cfg.BackoffFactor = 0.5
	}
	if cfg.RecoveryFactor <= 1 {
		cfg.RecoveryFactor = 1.1
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 20
	}

	return &AdaptiveLimiter{
		limiter:        NewRateLimiter(cfg.BaseRate, cfg.Burst),
		cfg:            cfg,
		current:        cfg.BaseRate,
		lastAdjustment: time.Now(),
	}
}

// Wait blocks until the next call may go out.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// RecordSuccess counts a successful call.
func (a *AdaptiveLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successes++
	if a.successes < a.cfg.RecoveryWindow {
		return
	}
	a.successes = 0

	if a.current >= a.cfg.MaxRate || time.Since(a.lastAdjustment) < time.Second {
		return
	}
	a.setRate(a.current * a.cfg.RecoveryFactor)
}

// RecordRateLimit cuts the rate after the node answered with a rate-limit
// error.
func (a *AdaptiveLimiter) RecordRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rateLimitHits++
	a.successes = 0
	a.setRate(a.current * a.cfg.BackoffFactor)
}

// setRate must be called with mu held.
func (a *AdaptiveLimiter) setRate(rate float64) {
	if rate < a.cfg.MinRate {
		rate = a.cfg.MinRate
	}
	if rate > a.cfg.MaxRate {
		rate = a.cfg.MaxRate
	}
	if rate == a.current {
		return
	}
	a.current = rate
	a.limiter.SetRate(rate)
	a.lastAdjustment = time.Now()
}

// CurrentRate returns the current rate in requests per second.
func (a *AdaptiveLimiter) CurrentRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// RateLimitHits returns how many rate-limit responses were recorded.
func (a *AdaptiveLimiter) RateLimitHits() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rateLimitHits
}

// IsThrottled returns true if we're operating below base rate.
func (a *AdaptiveLimiter) IsThrottled() bool {
	return a.CurrentRate() < a.cfg.BaseRate
}
