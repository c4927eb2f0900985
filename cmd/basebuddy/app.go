package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/RoiLaboratories/BaseBuddy/internal/api"
	"github.com/RoiLaboratories/BaseBuddy/internal/blockchain"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/cache"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/config"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/resilience"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/worker"
	"github.com/RoiLaboratories/BaseBuddy/internal/pools"
	"github.com/RoiLaboratories/BaseBuddy/internal/portfolio"
	"github.com/RoiLaboratories/BaseBuddy/internal/pricing"
	"github.com/RoiLaboratories/BaseBuddy/internal/swap"
	"github.com/RoiLaboratories/BaseBuddy/internal/tokens"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.TracerProvider

	provider *blockchain.Provider
	cache    *cache.LayeredCache
	tokens   *tokens.Registry
	pools    *pools.Resolver
	oracle   *pricing.Oracle
	workers  *worker.Pool
	engine   *swap.Engine
	balances *portfolio.Aggregator
}

// newApp loads configuration and builds the object graph. The returned
// close func releases everything in reverse order.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, func(), error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	a := &app{cfg: cfg}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*app, func(), error) {
		closeAll()
		return nil, nil, err
	}

	// Observability comes first so every later step can log.
	a.logger = observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	a.metrics, err = observability.NewMetrics(cfg.Observability.ServiceName, cfg.Observability.MetricsEnabled)
	if err != nil {
		return fail(fmt.Errorf("create metrics: %w", err))
	}
	closers = append(closers, func() { _ = a.metrics.Shutdown(context.Background()) })

	a.tracer, err = observability.NewTracerProvider(ctx, cfg.Observability.ServiceName, version, cfg.Observability.OTLPEndpoint)
	if err != nil {
		return fail(fmt.Errorf("create tracer: %w", err))
	}
	closers = append(closers, func() { _ = a.tracer.Shutdown(context.Background()) })

	// Chain access
	clientPool, err := blockchain.NewClientPool(ctx, blockchain.ClientPoolConfig{
		Endpoints:      cfg.Chain.RPCURLs,
		Dial:           blockchain.HTTPDialer(cfg.Chain.RequestTimeout),
		ChainID:        cfg.Chain.ChainID,
		Logger:         a.logger,
		Metrics:        a.metrics,
		HealthInterval: cfg.Chain.HealthCheckInterval,
	})
	if err != nil {
		return fail(fmt.Errorf("connect rpc: %w", err))
	}
	a.provider = blockchain.NewProvider(clientPool, blockchain.ProviderConfig{
		Retry:          retryConfig(cfg.Retry),
		RequestTimeout: cfg.Chain.RequestTimeout,
		Limiter: resilience.AdaptiveLimiterConfig{
			BaseRate: cfg.RateLimit.RPS,
			Burst:    cfg.RateLimit.Burst,
		},
		Breaker: resilience.CircuitBreakerConfig{
			Name:             "rpc",
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
			Timeout:          cfg.CircuitBreaker.Timeout,
		},
		Multicall: common.HexToAddress(cfg.Chain.Multicall),
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	closers = append(closers, a.provider.Close)

	// Token metadata cache: memory, plus redis when configured.
	mem := cache.NewMemoryCache(cfg.Cache.Capacity)
	closers = append(closers, func() { _ = mem.Close() })
	var l2 cache.Cache
	if cfg.Cache.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			// the shared cache is an optimization; run without it
			a.logger.LogWarn(ctx, "redis unavailable, using memory cache only",
				"addr", cfg.Cache.Redis.Addr, "error", err.Error())
		} else {
			l2 = redisCache
			closers = append(closers, func() { _ = redisCache.Close() })
		}
	}
	a.cache = cache.NewLayeredCache(mem, l2, 0, a.metrics)

	a.tokens, err = tokens.NewRegistry(tokens.Config{
		Reader:   a.provider,
		Cache:    a.cache,
		CacheTTL: cfg.Cache.TTL,
		Logger:   a.logger,
	})
	if err != nil {
		return fail(err)
	}
	for _, tc := range cfg.Tokens {
		t := tokens.Token{
			Symbol:   tc.Symbol,
			Address:  common.HexToAddress(tc.Address),
			Decimals: tc.Decimals,
			Name:     tc.Name,
		}
		if err := a.tokens.Register(t); err != nil {
			return fail(fmt.Errorf("register token %s: %w", tc.Symbol, err))
		}
	}

	a.pools = pools.NewResolver(pools.Config{
		Reader:       a.provider,
		Factory:      common.HexToAddress(cfg.Uniswap.Factory),
		InitCodeHash: common.HexToHash(cfg.Uniswap.InitCodeHash),
		FeeTiers:     feeTiers(cfg.Uniswap.FeeTiers),
		KnownPools:   knownPools(cfg.Uniswap.KnownPools),
		TierTimeout:  cfg.Uniswap.PoolTimeout,
		Logger:       a.logger,
		Metrics:      a.metrics,
	})

	a.oracle = pricing.NewOracle(pricing.Config{
		Pools:                a.pools,
		Tokens:               a.tokens,
		Prices:               priceConfigs(cfg.Prices.Tokens),
		ETHUSDCPool:          common.HexToAddress(cfg.Prices.ETHUSDCPool),
		DisableCbETHFallback: !cfg.Prices.CbETHFallback,
		FallbackETHPrice:     cfg.Prices.FallbackETHPrice,
		Logger:               a.logger,
		Metrics:              a.metrics,
	})

	a.workers = worker.NewPool(cfg.Worker.Size, cfg.Worker.Queue)
	closers = append(closers, a.workers.Close)

	a.engine, err = swap.NewEngine(swap.Config{
		Tokens:        a.tokens,
		Pools:         a.pools,
		RoutingTokens: cfg.Uniswap.RoutingTokens,
		Router:        common.HexToAddress(cfg.Uniswap.Router),
		Deadline:      cfg.Swap.Deadline,
		Logger:        a.logger,
		Metrics:       a.metrics,
	})
	if err != nil {
		return fail(err)
	}

	a.balances = portfolio.NewAggregator(portfolio.Config{
		Reader:  a.provider,
		Tokens:  a.tokens,
		Prices:  a.oracle,
		Workers: a.workers,
		Logger:  a.logger,
		Metrics: a.metrics,
	})

	return a, closeAll, nil
}

// warm pre-populates caches before serving.
func (a *app) warm(ctx context.Context) {
	w := cache.NewWarmer(a.logger, 0)
	w.Register(a.tokens)
	w.Warmup(ctx)
}

func (a *app) apiServer() *api.Server {
	return api.NewServer(api.Config{
		Tokens:          a.tokens,
		Quotes:          a.engine,
		Prices:          a.oracle,
		Balances:        a.balances,
		Chain:           a.provider,
		DefaultSlippage: a.cfg.Swap.DefaultSlippage,
		Logger:          a.logger,
		Metrics:         a.metrics,
	})
}

func retryConfig(r config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:         r.MaxAttempts,
		BaseDelay:           r.BaseDelay,
		MaxDelay:            r.MaxDelay,
		Jitter:              r.Jitter,
		RateLimitMultiplier: r.RateLimitMultiplier,
	}
}

func feeTiers(in []uint32) []pools.FeeTier {
	out := make([]pools.FeeTier, len(in))
	for i, f := range in {
		out[i] = pools.FeeTier(f)
	}
	return out
}

func knownPools(in []config.KnownPoolConfig) []pools.KnownPool {
	if len(in) == 0 {
		return nil
	}
	out := make([]pools.KnownPool, len(in))
	for i, kp := range in {
		out[i] = pools.KnownPool{
			TokenA:  common.HexToAddress(kp.TokenA),
			TokenB:  common.HexToAddress(kp.TokenB),
			Address: common.HexToAddress(kp.Address),
			Fee:     pools.FeeTier(kp.Fee),
		}
	}
	return out
}

func priceConfigs(in map[string]config.TokenPriceConfig) map[string]pricing.TokenPriceConfig {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]pricing.TokenPriceConfig, len(in))
	for sym, pc := range in {
		out[sym] = pricing.TokenPriceConfig{
			UsePool:     pc.UsePool,
			StaticPrice: pc.StaticPrice,
			PairWith:    pc.PairWith,
			Fee:         pools.FeeTier(pc.Fee),
		}
	}
	return out
}
