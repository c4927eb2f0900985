package blockchain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/resilience"
)

// Multicall3Address is the canonical Multicall3 deployment, present on Base.
var Multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

// Provider runs every chain read through rate limiting, a circuit breaker
// and the retry policy, reconnecting the pool between attempts when the
// node stops answering.
type Provider struct {
	pool           *ClientPool
	retry          resilience.RetryConfig
	requestTimeout time.Duration
	limiter        *resilience.AdaptiveLimiter
	breaker        *resilience.CircuitBreaker
	multicall      common.Address

	logger  *observability.Logger
	metrics *observability.Metrics
}

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	Retry          resilience.RetryConfig
	RequestTimeout time.Duration
	Limiter        resilience.AdaptiveLimiterConfig
	Breaker        resilience.CircuitBreakerConfig
	Multicall      common.Address

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewProvider wraps pool. Zero config fields take package defaults.
func NewProvider(pool *ClientPool, cfg ProviderConfig) *Provider {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Retry.RateLimitMultiplier < 1 {
		cfg.Retry.RateLimitMultiplier = resilience.DefaultRetryConfig().RateLimitMultiplier
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Multicall == (common.Address{}) {
		cfg.Multicall = Multicall3Address
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	p := &Provider{
		pool:           pool,
		retry:          cfg.Retry,
		requestTimeout: cfg.RequestTimeout,
		limiter:        resilience.NewAdaptiveLimiter(cfg.Limiter),
		multicall:      cfg.Multicall,
		logger:         cfg.Logger.Component("provider"),
		metrics:        cfg.Metrics,
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg.Name = "rpc"
	}
	breakerCfg.Counts = countsAgainstBreaker
	breakerCfg.OnStateChange = func(name string, from, to resilience.State) {
		p.logger.LogWarn(context.Background(), "circuit breaker state changed",
			"breaker", name, "from", from.String(), "to", to.String())
		p.metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
	}
	p.breaker = resilience.NewCircuitBreaker(breakerCfg)

	return p
}

// Pool returns the underlying connection pool.
func (p *Provider) Pool() *ClientPool { return p.pool }

// Call runs fn against the active connection with retries. Each attempt
// loads the connection once and gets its own request timeout. Failures
// surface as *ProviderError.
func Call[T any](ctx context.Context, p *Provider, op string, fn func(context.Context, Backend) (T, error)) (T, error) {
	start := time.Now()
	attempts := 0

	policy := resilience.Policy{
		Config:   p.retry,
		Classify: classifier(ctx),
		BeforeRetry: func(ctx context.Context, attempt int, delay time.Duration, err error, class resilience.ErrorClass) {
			p.metrics.RecordRPCRetry(ctx, op, class.String())
			p.logger.LogWarn(ctx, "RPC call failed, retrying",
				"op", op,
				"attempt", attempt,
				"delay", delay.String(),
				"class", class.String(),
				"error", err.Error(),
			)
			if class == resilience.ClassRateLimited {
				return
			}
			p.ensureConnected(ctx)
		},
	}

	res, err := resilience.RetryWithResult(ctx, policy, func(ctx context.Context) (T, error) {
		attempts++
		if err := p.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}

		conn := p.pool.Current()
		res, err := resilience.ExecuteWithResult(p.breaker, ctx, func(ctx context.Context) (T, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
			defer cancel()
			return fn(attemptCtx, conn.backend)
		})
		switch {
		case err == nil:
			p.limiter.RecordSuccess()
		case IsRateLimited(err):
			p.limiter.RecordRateLimit()
		}
		return res, err
	})

	p.metrics.RecordRPCCall(ctx, op, err == nil, time.Since(start))
	if err != nil {
		return res, &ProviderError{Op: op, Attempts: attempts, Err: err}
	}
	return res, nil
}

// ensureConnected probes the active connection and replaces it when the
// probe fails, so the next attempt runs on a fresh client.
func (p *Provider) ensureConnected(ctx context.Context) {
	conn := p.pool.Current()
	if err := p.pool.Probe(ctx, conn); err == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.pool.setHealthy(ctx, conn, false)
	if _, err := p.pool.Reconnect(ctx, conn); err != nil {
		p.logger.LogError(ctx, "RPC reconnect failed", err, "url", conn.Endpoint())
	}
}

// Health probes the active connection.
func (p *Provider) Health(ctx context.Context) error {
	if err := p.pool.Probe(ctx, p.pool.Current()); err != nil {
		return fmt.Errorf("provider unhealthy: %w", err)
	}
	return nil
}

// Healthy reports the result of the most recent probe without doing I/O.
func (p *Provider) Healthy() bool { return p.pool.Healthy() }

// Close releases the connection pool.
func (p *Provider) Close() { p.pool.Close() }
