package cache

import (
	"context"
	"errors"
	"time"

	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
)

// LayeredCache implements a two-tier cache (L1: memory, L2: Redis).
// Either tier may be nil.
type LayeredCache struct {
	l1      Cache
	l2      Cache
	l1TTL   time.Duration
	metrics *observability.Metrics
}

// NewLayeredCache creates a new layered cache. l1TTL caps how long an entry
// lives in memory; zero means one minute.
func NewLayeredCache(l1, l2 Cache, l1TTL time.Duration, metrics *observability.Metrics) *LayeredCache {
	if l1TTL <= 0 {
		l1TTL = time.Minute
	}
	return &LayeredCache{l1: l1, l2: l2, l1TTL: l1TTL, metrics: metrics}
}

// Get retrieves a value from cache (L1 → L2 → miss)
func (lc *LayeredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if lc.l1 != nil {
		if val, err := lc.l1.Get(ctx, key); err == nil {
			lc.metrics.RecordCacheHit(ctx, "l1")
			return val, nil
		}
		lc.metrics.RecordCacheMiss(ctx, "l1")
	}

	if lc.l2 != nil {
		val, err := lc.l2.Get(ctx, key)
		if err == nil {
			lc.metrics.RecordCacheHit(ctx, "l2")
			if lc.l1 != nil {
				_ = lc.l1.Set(ctx, key, val, lc.l1TTL)
			}
			return val, nil
		}
		lc.metrics.RecordCacheMiss(ctx, "l2")
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrNotFound
}

// Set writes through to both tiers. It fails only when every present tier
// failed.
func (lc *LayeredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1TTL := ttl
		if l1TTL > lc.l1TTL {
			l1TTL = lc.l1TTL
		}
		l1Err = lc.l1.Set(ctx, key, value, l1TTL)
	}
	if lc.l2 != nil {
		l2Err = lc.l2.Set(ctx, key, value, ttl)
	}

	switch {
	case lc.l1 != nil && lc.l2 != nil:
		if l1Err != nil && l2Err != nil {
			return l2Err
		}
		return nil
	case l1Err != nil:
		return l1Err
	default:
		return l2Err
	}
}

// Delete removes a key from both cache layers
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	var errs []error
	if lc.l1 != nil {
		errs = append(errs, lc.l1.Delete(ctx, key))
	}
	if lc.l2 != nil {
		errs = append(errs, lc.l2.Delete(ctx, key))
	}
	return errors.Join(errs...)
}

// Close closes both cache layers
func (lc *LayeredCache) Close() error {
	var errs []error
	if lc.l1 != nil {
		errs = append(errs, lc.l1.Close())
	}
	if lc.l2 != nil {
		errs = append(errs, lc.l2.Close())
	}
	return errors.Join(errs...)
}
