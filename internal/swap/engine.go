// Package swap computes deterministic swap quotes over Uniswap V3 pools.
package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/RoiLaboratories/BaseBuddy/internal/blockchain"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
	"github.com/RoiLaboratories/BaseBuddy/internal/pools"
	"github.com/RoiLaboratories/BaseBuddy/internal/pricing"
	"github.com/RoiLaboratories/BaseBuddy/internal/pricing/uniswapv3"
	"github.com/RoiLaboratories/BaseBuddy/internal/tokens"
)

// DefaultRouter is the Uniswap universal router on Base.
var DefaultRouter = common.HexToAddress("0x198EF79F1F515F02dFE9e3115eD9fC07183f02fC")

// DefaultRoutingTokens are tried in order for two-hop routes.
var DefaultRoutingTokens = []string{"WETH", "USDC", "USDbC"}

const DefaultDeadline = 20 * time.Minute

// TokenResolver resolves user input to tokens.
type TokenResolver interface {
	Resolve(ctx context.Context, input string) (tokens.Token, error)
	BySymbol(symbol string) (tokens.Token, bool)
}

// PoolFinder locates a usable pool for a pair. A nil pool with a nil error
// means no direct liquidity.
type PoolFinder interface {
	FindPool(ctx context.Context, a, b tokens.Token) (*pools.Pool, error)
}

// Config configures an Engine.
type Config struct {
	Tokens        TokenResolver
	Pools         PoolFinder
	RoutingTokens []string
	Router        common.Address
	// Deadline is added to the quote time for SwapParams.Deadline.
	Deadline time.Duration
	Now      func() time.Time

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Engine quotes swaps. It is safe for concurrent use.
type Engine struct {
	tokens   TokenResolver
	pools    PoolFinder
	routing  []string
	router   common.Address
	deadline time.Duration
	now      func() time.Time

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewEngine creates a quote engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token resolver is required")
	}
	if cfg.Pools == nil {
		return nil, fmt.Errorf("pool finder is required")
	}
	if len(cfg.RoutingTokens) == 0 {
		cfg.RoutingTokens = DefaultRoutingTokens
	}
	if cfg.Router == (common.Address{}) {
		cfg.Router = DefaultRouter
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	return &Engine{
		tokens:   cfg.Tokens,
		pools:    cfg.Pools,
		routing:  cfg.RoutingTokens,
		router:   cfg.Router,
		deadline: cfg.Deadline,
		now:      cfg.Now,
		logger:   cfg.Logger.Component("swap"),
		metrics:  cfg.Metrics,
		tracer:   observability.Tracer("basebuddy/swap"),
	}, nil
}

// QuoteExactInput quotes selling amountIn of tokenIn. Tokens are symbols
// or addresses; amounts are decimal strings in whole tokens.
func (e *Engine) QuoteExactInput(ctx context.Context, tokenIn, tokenOut, amountIn string, slippagePct float64) (q *Quote, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, e.tracer, "swap.QuoteExactInput",
		"token_in", tokenIn, "token_out", tokenOut, "amount_in", amountIn)
	defer func() { e.finish(ctx, span, ExactInput, q, err, start) }()

	units, err := slippageUnits(slippagePct)
	if err != nil {
		return nil, err
	}
	if err := checkPositive(amountIn, "amountIn"); err != nil {
		return nil, err
	}
	in, out, err := e.resolvePair(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	amount, err := parsePositive(in, amountIn, "amountIn")
	if err != nil {
		return nil, err
	}

	hops, err := e.findRoute(ctx, in, out)
	if err != nil {
		return nil, err
	}
	received, err := forward(hops, amount)
	if err != nil {
		return nil, err
	}
	if received.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrDustAmount, amountIn, in.Symbol)
	}
	return e.buildQuote(ExactInput, in, out, hops, amount, received, units)
}

// QuoteExactOutput quotes buying amountOut of tokenOut while spending at
// most maxAmountIn of tokenIn. A budget below the required input yields
// *InsufficientLiquidityError carrying what the budget buys instead.
func (e *Engine) QuoteExactOutput(ctx context.Context, tokenIn, tokenOut, amountOut, maxAmountIn string, slippagePct float64) (q *Quote, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, e.tracer, "swap.QuoteExactOutput",
		"token_in", tokenIn, "token_out", tokenOut, "amount_out", amountOut, "max_amount_in", maxAmountIn)
	defer func() { e.finish(ctx, span, ExactOutput, q, err, start) }()

	units, err := slippageUnits(slippagePct)
	if err != nil {
		return nil, err
	}
	if err := checkPositive(amountOut, "amountOut"); err != nil {
		return nil, err
	}
	if err := checkPositive(maxAmountIn, "maxAmountIn"); err != nil {
		return nil, err
	}
	in, out, err := e.resolvePair(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	target, err := parsePositive(out, amountOut, "amountOut")
	if err != nil {
		return nil, err
	}
	budget, err := parsePositive(in, maxAmountIn, "maxAmountIn")
	if err != nil {
		return nil, err
	}

	hops, err := e.findRoute(ctx, in, out)
	if err != nil {
		return nil, err
	}
	required, err := backward(hops, target)
	if err != nil {
		return nil, err
	}
	if required.Sign() == 0 {
		return nil, ErrZeroRequiredInput
	}
	if required.Cmp(budget) > 0 {
		return nil, shortfall(hops, required, budget)
	}
	return e.buildQuote(ExactOutput, in, out, hops, required, target, units)
}

func (e *Engine) resolvePair(ctx context.Context, tokenIn, tokenOut string) (tokens.Token, tokens.Token, error) {
	in, err := e.tokens.Resolve(ctx, tokenIn)
	if err != nil {
		return tokens.Token{}, tokens.Token{}, err
	}
	out, err := e.tokens.Resolve(ctx, tokenOut)
	if err != nil {
		return tokens.Token{}, tokens.Token{}, err
	}
	if tokens.SamePoolToken(in, out) {
		return tokens.Token{}, tokens.Token{}, fmt.Errorf("%w: %s and %s", ErrSameToken, in.Symbol, out.Symbol)
	}
	return in, out, nil
}

// checkPositive rejects malformed and non-positive amounts before any
// token is resolved.
func checkPositive(amount, field string) error {
	d, err := tokens.ParseDecimal(amount)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d.Sign() <= 0 {
		return &ZeroAmountError{Field: field, Input: amount}
	}
	return nil
}

func parsePositive(t tokens.Token, amount, field string) (*big.Int, error) {
	raw, err := t.ParseAmount(amount)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	if raw.Sign() <= 0 {
		return nil, &ZeroAmountError{Field: field, Input: amount}
	}
	return raw, nil
}

// findRoute prefers a direct pool, then the first routing token with both
// legs available.
func (e *Engine) findRoute(ctx context.Context, in, out tokens.Token) ([]Hop, error) {
	direct, err := e.pools.FindPool(ctx, in, out)
	if err != nil {
		return nil, err
	}
	if direct != nil {
		return []Hop{{Pool: direct, TokenIn: in, TokenOut: out}}, nil
	}

	var tried []string
	for _, sym := range e.routing {
		mid, ok := e.tokens.BySymbol(sym)
		if !ok || tokens.SamePoolToken(mid, in) || tokens.SamePoolToken(mid, out) {
			continue
		}
		tried = append(tried, mid.Symbol)

		var first, second *pools.Pool
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			p, err := e.pools.FindPool(gctx, in, mid)
			first = p
			return err
		})
		g.Go(func() error {
			p, err := e.pools.FindPool(gctx, mid, out)
			second = p
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if first != nil && second != nil {
			return []Hop{
				{Pool: first, TokenIn: in, TokenOut: mid},
				{Pool: second, TokenIn: mid, TokenOut: out},
			}, nil
		}
		e.logger.LogDebug(ctx, "routing token has no complete route",
			"via", mid.Symbol, "first_leg", first != nil, "second_leg", second != nil)
	}
	return nil, &NoRouteError{TokenIn: in.Symbol, TokenOut: out.Symbol, Tried: tried}
}

// forward runs amountIn through the route.
func forward(hops []Hop, amountIn *big.Int) (*big.Int, error) {
	amount := amountIn
	for _, h := range hops {
		zeroForOne, err := h.Pool.ZeroForOne(h.TokenIn.PoolAddress())
		if err != nil {
			return nil, err
		}
		res, err := uniswapv3.SwapExactInput(h.Pool.SqrtPriceX96, h.Pool.Liquidity, amount, zeroForOne, uint32(h.Pool.Fee))
		if err != nil {
			return nil, hopError(h, err)
		}
		amount = res.AmountOut
	}
	return amount, nil
}

// backward solves the route for amountOut from the last hop to the first.
func backward(hops []Hop, amountOut *big.Int) (*big.Int, error) {
	amount := amountOut
	for i := len(hops) - 1; i >= 0; i-- {
		h := hops[i]
		zeroForOne, err := h.Pool.ZeroForOne(h.TokenIn.PoolAddress())
		if err != nil {
			return nil, err
		}
		res, err := uniswapv3.SwapExactOutput(h.Pool.SqrtPriceX96, h.Pool.Liquidity, amount, zeroForOne, uint32(h.Pool.Fee))
		if err != nil {
			return nil, hopError(h, err)
		}
		amount = res.AmountIn
	}
	return amount, nil
}

func hopError(h Hop, err error) error {
	if errors.Is(err, uniswapv3.ErrInsufficientLiquidity) {
		return &InsufficientLiquidityError{Pool: h.Pool.Address}
	}
	return fmt.Errorf("swap %s->%s in %s: %w", h.TokenIn.Symbol, h.TokenOut.Symbol, h.Pool.Address.Hex(), err)
}

// shortfall re-quotes the budget as exact input to report what it buys.
func shortfall(hops []Hop, required, budget *big.Int) *InsufficientLiquidityError {
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(budget), new(big.Float).SetInt(required)).Float64()
	serr := &InsufficientLiquidityError{
		Required:       required,
		Max:            budget,
		ShortfallRatio: ratio,
	}
	if achievable, err := forward(hops, budget); err == nil {
		serr.Achievable = achievable
	}
	return serr
}

func (e *Engine) buildQuote(dir Direction, in, out tokens.Token, hops []Hop, amountIn, amountOut *big.Int, units int64) (*Quote, error) {
	mids := make([]*big.Float, 0, len(hops))
	route := []string{in.Symbol}
	var fee float64
	for _, h := range hops {
		mid, err := h.Pool.MidPrice(h.TokenIn, h.TokenOut)
		if err != nil {
			return nil, err
		}
		mids = append(mids, mid)
		route = append(route, h.TokenOut.Symbol)
		fee += h.Pool.Fee.Percent()
	}
	execution := pricing.ExecutionPrice(amountIn, amountOut, in.Decimals, out.Decimals)

	path, err := EncodePath(hops, dir == ExactOutput)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		Direction:   dir,
		TokenIn:     in,
		TokenOut:    out,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		SlippagePct: float64(units) / 1_000_000,
		PriceImpact: pricing.PriceImpact(execution, pricing.ChainPrices(mids...)),
		Fee:         fee,
		Route:       route,
		Hops:        hops,
		Params: SwapParams{
			Pool:     hops[0].Pool.Address,
			Router:   e.router,
			Path:     path,
			Deadline: e.now().Add(e.deadline),
		},
	}

	if dir == ExactOutput {
		q.MinimumOutput = new(big.Int).Set(amountOut)
		q.MaximumInput = maximumInput(amountIn, units)
		q.Params.AmountOut = amountOut
		q.Params.AmountInMaximum = q.MaximumInput
	} else {
		q.MinimumOutput = minimumOutput(amountOut, units)
		q.Params.AmountIn = amountIn
		q.Params.AmountOutMinimum = q.MinimumOutput
	}
	return q, nil
}

func (e *Engine) finish(ctx context.Context, span trace.Span, dir Direction, q *Quote, err error, start time.Time) {
	hops := 0
	if q != nil {
		hops = len(q.Hops)
	}
	e.metrics.RecordQuote(ctx, dir.String(), hops, Outcome(err), time.Since(start))
	observability.EndSpanWithError(span, err)

	if err != nil {
		e.logger.LogDebug(ctx, "quote failed", "direction", dir.String(), "outcome", Outcome(err), "error", err.Error())
		return
	}
	e.logger.LogDebug(ctx, "quote computed",
		"direction", dir.String(),
		"route", q.RouteString(),
		"amount_in", q.AmountIn.String(),
		"amount_out", q.AmountOut.String(),
		"price_impact_pct", q.PriceImpact,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Outcome classifies a quote error for metrics and API mapping.
func Outcome(err error) string {
	var (
		noRoute     *NoRouteError
		liquidity   *InsufficientLiquidityError
		zero        *ZeroAmountError
		unsupported *tokens.UnsupportedTokenError
		provider    *blockchain.ProviderError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &noRoute):
		return "no_route"
	case errors.As(err, &liquidity):
		return "insufficient_liquidity"
	case errors.As(err, &unsupported):
		return "unsupported_token"
	case errors.As(err, &zero),
		errors.Is(err, ErrInvalidSlippage),
		errors.Is(err, ErrSameToken),
		errors.Is(err, ErrDustAmount),
		errors.Is(err, tokens.ErrInvalidAmount):
		return "invalid_input"
	case errors.As(err, &provider):
		return "provider_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
