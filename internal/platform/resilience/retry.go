package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0.0 to 1.0

	// RateLimitMultiplier stretches the delay when the failure was a
	// rate-limit response from the node.
	RateLimitMultiplier float64
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:         3,
		BaseDelay:           1 * time.Second,
		MaxDelay:            30 * time.Second,
		Jitter:              0.1,
		RateLimitMultiplier: 2,
	}
}

// ErrorClass tells the retry loop how to treat a failed attempt.
type ErrorClass int

const (
	// ClassTransient is retried with the normal backoff.
	ClassTransient ErrorClass = iota
	// ClassRateLimited is retried with a stretched backoff.
	ClassRateLimited
	// ClassPermanent stops the loop immediately.
	ClassPermanent
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Policy bundles the retry configuration with error classification and
// an optional hook that runs between attempts.
type Policy struct {
	Config RetryConfig

	// Classify defaults to DefaultClassify.
	Classify func(error) ErrorClass

	// BeforeRetry runs after a failed attempt and before the backoff wait.
	// attempt is 1-based and refers to the attempt that just failed.
	BeforeRetry func(ctx context.Context, attempt int, delay time.Duration, err error, class ErrorClass)
}

// Backoff returns the wait before the attempt following a failed attempt.
// The delay grows linearly with the attempt number and is multiplied by
// RateLimitMultiplier for rate-limited failures.
func (c RetryConfig) Backoff(attempt int, class ErrorClass) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.BaseDelay) * float64(attempt)
	if class == ClassRateLimited && c.RateLimitMultiplier > 1 {
		delay *= c.RateLimitMultiplier
	}
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	// Add jitter: randomize delay by ±jitter percent
	if c.Jitter > 0 {
		jitterAmount := delay * c.Jitter
		delay = delay - jitterAmount + rand.Float64()*jitterAmount*2
	}

	return time.Duration(delay)
}

// RetryWithResult executes fn until it succeeds, the policy classifies the
// error as permanent, the attempts are exhausted or ctx is done. The last
// error is returned wrapped so errors.Is and errors.As still reach it.
func RetryWithResult[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.Config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = DefaultClassify
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		class := classify(err)
		if class == ClassPermanent {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}

		// Don't sleep after last attempt
		if attempt == attempts {
			break
		}

		delay := p.Config.Backoff(attempt, class)
		if p.BeforeRetry != nil {
			p.BeforeRetry(ctx, attempt, delay, err, class)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled during backoff: %w: %w", ctx.Err(), lastErr)
		}
	}

	return zero, fmt.Errorf("max retry attempts reached: %w", lastErr)
}

// DefaultClassify treats context cancellation and an open circuit as
// permanent and everything else as transient.
func DefaultClassify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassTransient
	case errors.Is(err, ErrCircuitOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ClassPermanent
	default:
		return ClassTransient
	}
}
