package cache

import (
	"context"
	"sync"
	"time"

	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
)

// WarmupProvider is anything that can pre-populate the cache at startup.
type WarmupProvider interface {
	Name() string
	Warmup(ctx context.Context) error
}

// WarmupResult contains the result of warming a single provider.
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// Warmer runs every registered provider in parallel under one deadline.
// Failures are logged and reported, never fatal.
type Warmer struct {
	providers []WarmupProvider
	logger    *observability.Logger
	timeout   time.Duration
}

// NewWarmer creates a new cache warmer.
func NewWarmer(logger *observability.Logger, timeout time.Duration) *Warmer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Warmer{logger: logger, timeout: timeout}
}

// Register adds a warmup provider.
func (w *Warmer) Register(p WarmupProvider) {
	w.providers = append(w.providers, p)
}

// Warmup executes all registered providers and returns their results in
// registration order.
func (w *Warmer) Warmup(ctx context.Context) []WarmupResult {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	results := make([]WarmupResult, len(w.providers))
	var wg sync.WaitGroup
	for i, p := range w.providers {
		wg.Add(1)
		go func(i int, p WarmupProvider) {
			defer wg.Done()
			start := time.Now()
			err := p.Warmup(ctx)
			results[i] = WarmupResult{Provider: p.Name(), Duration: time.Since(start), Err: err}
		}(i, p)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			w.logger.LogWarn(ctx, "cache warmup failed", "provider", r.Provider, "error", r.Err, "duration", r.Duration)
		}
	}
	w.logger.LogInfo(ctx, "cache warmup finished", "providers", len(results), "failed", failed)

	return results
}
