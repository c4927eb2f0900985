// Package cache stores immutable lookups (token metadata) in a local LRU
// with an optional shared Redis tier behind it. Values are JSON encoded so
// both tiers hold the same bytes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a key is not found in cache
	ErrNotFound = errors.New("cache: key not found")
)

// Cache defines the interface for cache operations
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON reads key and decodes it into a T.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, error) {
	var out T
	raw, err := c.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return out, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}
