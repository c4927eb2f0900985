package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by every RPC call of a provider.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a new rate limiter
// rate: number of requests per second
// burst: maximum burst size
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = int(rate)
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done. The lock is only
// held while inspecting the bucket, never while sleeping.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := rl.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return 0, true
	}

	wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
	if wait < 5*time.Millisecond {
		wait = 5 * time.Millisecond
	}
	return wait, false
}

// refill must be called with mu held.
func (rl *RateLimiter) refill() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastUpdate).Seconds() * rl.rate
	if rl.tokens > float64(rl.burst) {
		rl.tokens = float64(rl.burst)
	}
	rl.lastUpdate = now
}

// SetRate changes the rate limit (requests per second)
func (rl *RateLimiter) SetRate(rate float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	rl.rate = rate
}

// Rate returns the current rate in requests per second.
func (rl *RateLimiter) Rate() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.rate
}
