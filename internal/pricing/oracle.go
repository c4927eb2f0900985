// Package pricing derives USD prices for tokens from pool state.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"

	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
	"github.com/RoiLaboratories/BaseBuddy/internal/pools"
	"github.com/RoiLaboratories/BaseBuddy/internal/tokens"
)

// DefaultETHUSDCPool is read first for the native price.
var DefaultETHUSDCPool = common.HexToAddress("0xFb53Fe0c27ABEF48602cCA25be1314D8f94Af9E6")

// DefaultFallbackETHPrice is handed out when every pool stage fails.
const DefaultFallbackETHPrice = 2000.0

const maxPairDepth = 3

var (
	ErrUnknownPairToken = errors.New("price pair token not registered")
	ErrBadPrice         = errors.New("pool produced no usable price")
)

// TokenPriceConfig is the price policy of one token.
type TokenPriceConfig struct {
	// UsePool prices the token from its pool against PairWith. Otherwise
	// StaticPrice is returned as is; 0 means unpriced.
	UsePool     bool          `mapstructure:"use_pool" json:"use_pool"`
	StaticPrice float64       `mapstructure:"static_price" json:"static_price"`
	PairWith    string        `mapstructure:"pair_with" json:"pair_with"`
	Fee         pools.FeeTier `mapstructure:"fee" json:"fee"`
}

// DefaultPriceConfigs is the built-in price policy keyed by upper-case
// symbol. ETH and WETH are always priced from the native stages.
func DefaultPriceConfigs() map[string]TokenPriceConfig {
	return map[string]TokenPriceConfig{
		"USDC":  {StaticPrice: 1},
		"USDBC": {StaticPrice: 1},
		"CBETH": {UsePool: true, PairWith: "WETH", Fee: pools.FeeLow},
		"PUMP":  {},
		"ENB":   {},
	}
}

// PoolSource is the pool access the oracle needs.
type PoolSource interface {
	LoadPool(ctx context.Context, addr common.Address) (*pools.Pool, error)
	FindPoolWithFee(ctx context.Context, a, b tokens.Token, fee pools.FeeTier) (*pools.Pool, error)
}

// TokenSource looks tokens up by symbol.
type TokenSource interface {
	BySymbol(symbol string) (tokens.Token, bool)
}

// Config configures an Oracle.
type Config struct {
	Pools  PoolSource
	Tokens TokenSource
	// Prices overrides entries of DefaultPriceConfigs.
	Prices map[string]TokenPriceConfig

	ETHUSDCPool          common.Address
	DisableCbETHFallback bool
	FallbackETHPrice     float64

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Oracle prices tokens in USD.
type Oracle struct {
	pools         PoolSource
	tokens        TokenSource
	prices        map[string]TokenPriceConfig
	ethPool       common.Address
	cbethFallback bool
	fallbackPrice float64

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	mu     sync.Mutex
	health OracleHealth
}

// NewOracle creates an oracle.
func NewOracle(cfg Config) *Oracle {
	if cfg.ETHUSDCPool == (common.Address{}) {
		cfg.ETHUSDCPool = DefaultETHUSDCPool
	}
	if cfg.FallbackETHPrice <= 0 {
		cfg.FallbackETHPrice = DefaultFallbackETHPrice
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	prices := DefaultPriceConfigs()
	for sym, pc := range cfg.Prices {
		prices[strings.ToUpper(sym)] = pc
	}

	return &Oracle{
		pools:         cfg.Pools,
		tokens:        cfg.Tokens,
		prices:        prices,
		ethPool:       cfg.ETHUSDCPool,
		cbethFallback: !cfg.DisableCbETHFallback,
		fallbackPrice: cfg.FallbackETHPrice,
		logger:        cfg.Logger.Component("pricing"),
		metrics:       cfg.Metrics,
		tracer:        observability.Tracer("basebuddy/pricing"),
	}
}

// PriceConfig returns the policy applied to symbol.
func (o *Oracle) PriceConfig(symbol string) TokenPriceConfig {
	if pc, ok := o.prices[strings.ToUpper(symbol)]; ok {
		return pc
	}
	return TokenPriceConfig{UsePool: true, PairWith: "WETH", Fee: pools.FeeMedium}
}

// PriceOf returns the USD price of one whole token. The native asset and
// WETH never fail. A static price of 0 means the token is unpriced.
func (o *Oracle) PriceOf(ctx context.Context, t tokens.Token) (float64, error) {
	ctx, span := observability.StartSpan(ctx, o.tracer, "pricing.PriceOf", "token", t.Symbol)
	price, err := o.priceOf(ctx, t, 0)
	observability.EndSpanWithError(span, err)
	return price, err
}

func (o *Oracle) priceOf(ctx context.Context, t tokens.Token, depth int) (float64, error) {
	if t.PoolAddress() == tokens.WETHAddress {
		return o.ETHPrice(ctx), nil
	}
	if depth >= maxPairDepth {
		return 0, fmt.Errorf("price %s: pair chain deeper than %d", t.Symbol, maxPairDepth)
	}

	pc := o.PriceConfig(t.Symbol)
	if !pc.UsePool {
		return pc.StaticPrice, nil
	}

	pairSymbol := pc.PairWith
	if pairSymbol == "" {
		pairSymbol = "WETH"
	}
	pair, ok := o.tokens.BySymbol(pairSymbol)
	if !ok {
		return 0, fmt.Errorf("price %s: %w: %s", t.Symbol, ErrUnknownPairToken, pairSymbol)
	}
	if tokens.SamePoolToken(t, pair) {
		return 0, fmt.Errorf("price %s: paired with itself", t.Symbol)
	}
	fee := pc.Fee
	if fee == 0 {
		fee = pools.FeeMedium
	}

	pool, err := o.pools.FindPoolWithFee(ctx, t, pair, fee)
	if err != nil {
		return 0, fmt.Errorf("price %s: %w", t.Symbol, err)
	}
	if pool == nil {
		o.logger.LogDebug(ctx, "no pool for token price, using static price",
			"token", t.Symbol, "pair", pair.Symbol, "static_price", pc.StaticPrice)
		return pc.StaticPrice, nil
	}

	inPair, err := SpotPrice(pool, t, pair)
	if err != nil {
		return 0, fmt.Errorf("price %s: %w", t.Symbol, err)
	}
	if inPair == 0 {
		return pc.StaticPrice, nil
	}

	pairUSD, err := o.priceOf(ctx, pair, depth+1)
	if err != nil {
		return 0, err
	}
	return inPair * pairUSD, nil
}

// ETHPrice returns the native price in USD: the ETH/USDC pool, then the
// cbETH route, then the fallback constant. It never fails.
func (o *Oracle) ETHPrice(ctx context.Context) float64 {
	price, err := o.ethFromPool(ctx)
	if err == nil {
		o.recordETH(ctx, SourcePool, price, nil)
		return price
	}
	o.logger.LogWarn(ctx, "ETH/USDC pool price unavailable", "pool", o.ethPool.Hex(), "error", err.Error())

	if o.cbethFallback {
		o.metrics.RecordPriceFallback(ctx, string(SourceCbETH))
		observability.AddSpanEvent(ctx, "price_fallback", "stage", string(SourceCbETH))
		cbPrice, cbErr := o.ethFromCbETH(ctx)
		if cbErr == nil {
			o.recordETH(ctx, SourceCbETH, cbPrice, err)
			return cbPrice
		}
		o.logger.LogWarn(ctx, "cbETH price route unavailable", "error", cbErr.Error())
		err = errors.Join(err, cbErr)
	}

	o.metrics.RecordPriceFallback(ctx, string(SourceConstant))
	observability.AddSpanEvent(ctx, "price_fallback", "stage", string(SourceConstant))
	o.logger.LogWarn(ctx, "using fallback ETH price", "price", o.fallbackPrice)
	o.recordETH(ctx, SourceConstant, o.fallbackPrice, err)
	return o.fallbackPrice
}

func (o *Oracle) ethFromPool(ctx context.Context) (float64, error) {
	weth, usdc, err := o.lookup("WETH", "USDC")
	if err != nil {
		return 0, err
	}
	pool, err := o.pools.LoadPool(ctx, o.ethPool)
	if err != nil {
		return 0, err
	}
	if pool == nil {
		return 0, fmt.Errorf("%w: %s has no liquidity", ErrBadPrice, o.ethPool.Hex())
	}
	price, err := SpotPrice(pool, weth, usdc)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: zero ETH/USDC price", ErrBadPrice)
	}
	return price, nil
}

// ethFromCbETH derives ETH/USD as (USDC per cbETH) / (WETH per cbETH).
func (o *Oracle) ethFromCbETH(ctx context.Context) (float64, error) {
	weth, usdc, err := o.lookup("WETH", "USDC")
	if err != nil {
		return 0, err
	}
	cbeth, _, err := o.lookup("cbETH", "cbETH")
	if err != nil {
		return 0, err
	}

	ethPool, err := o.pools.FindPoolWithFee(ctx, cbeth, weth, pools.FeeLow)
	if err != nil {
		return 0, err
	}
	usdPool, err := o.pools.FindPoolWithFee(ctx, cbeth, usdc, pools.FeeMedium)
	if err != nil {
		return 0, err
	}
	if ethPool == nil || usdPool == nil {
		return 0, fmt.Errorf("%w: cbETH pools missing", ErrBadPrice)
	}

	wethPerCbETH, err := SpotPrice(ethPool, cbeth, weth)
	if err != nil {
		return 0, err
	}
	usdPerCbETH, err := SpotPrice(usdPool, cbeth, usdc)
	if err != nil {
		return 0, err
	}
	if wethPerCbETH == 0 || usdPerCbETH == 0 {
		return 0, fmt.Errorf("%w: zero cbETH price", ErrBadPrice)
	}
	return usdPerCbETH / wethPerCbETH, nil
}

func (o *Oracle) lookup(a, b string) (tokens.Token, tokens.Token, error) {
	ta, ok := o.tokens.BySymbol(a)
	if !ok {
		return tokens.Token{}, tokens.Token{}, fmt.Errorf("%w: %s", ErrUnknownPairToken, a)
	}
	tb, ok := o.tokens.BySymbol(b)
	if !ok {
		return tokens.Token{}, tokens.Token{}, fmt.Errorf("%w: %s", ErrUnknownPairToken, b)
	}
	return ta, tb, nil
}

func (o *Oracle) recordETH(ctx context.Context, source PriceSource, price float64, cause error) {
	o.metrics.RecordETHPrice(ctx, price)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.health.Source = source
	o.health.ETHPrice = price
	now := time.Now()
	if source == SourcePool {
		o.health.LastSuccess = now
		o.health.ConsecutiveFallbacks = 0
		return
	}
	o.health.LastFallback = now
	o.health.ConsecutiveFallbacks++
	if cause != nil {
		o.health.LastError = cause.Error()
	}
}

// Health returns the native price state.
func (o *Oracle) Health() OracleHealth {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.health
}

// SpotPrice is the pool's mid price of one whole base token in quote
// tokens.
func SpotPrice(pool *pools.Pool, base, quote tokens.Token) (float64, error) {
	mid, err := pool.MidPrice(base, quote)
	if err != nil {
		return 0, err
	}
	f, _ := mid.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) || f < 0 {
		return 0, fmt.Errorf("%w: %s/%s in %s", ErrBadPrice, base.Symbol, quote.Symbol, pool.Address.Hex())
	}
	return f, nil
}
