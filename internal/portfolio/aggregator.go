// Package portfolio reads wallet balances across the supported tokens and
// values them in USD.
package portfolio

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"

	"github.com/RoiLaboratories/BaseBuddy/internal/money"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/worker"
	"github.com/RoiLaboratories/BaseBuddy/internal/tokens"
)

// BalanceReader is the chain access the aggregator needs.
type BalanceReader interface {
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenBalances(ctx context.Context, owner common.Address, tokens []common.Address) ([]*big.Int, error)
}

// TokenLister lists the supported tokens in display order.
type TokenLister interface {
	Supported() []tokens.Token
}

// Pricer prices one whole token in USD.
type Pricer interface {
	PriceOf(ctx context.Context, t tokens.Token) (float64, error)
}

// BalanceEntry is one non-zero holding.
type BalanceEntry struct {
	Symbol   string       `json:"symbol"`
	Token    tokens.Token `json:"token"`
	Balance  string       `json:"balance"`
	Raw      *big.Int     `json:"raw"`
	USDValue float64      `json:"usd_value"`
}

// Portfolio is a wallet snapshot.
type Portfolio struct {
	Owner   common.Address `json:"owner"`
	Entries []BalanceEntry `json:"entries"`
	// Skipped lists tokens whose balance could not be read.
	Skipped []string  `json:"skipped,omitempty"`
	ReadAt  time.Time `json:"read_at"`
}

// TotalUSD sums the entries' USD values.
func (p *Portfolio) TotalUSD() money.USD {
	total := money.Zero()
	for _, e := range p.Entries {
		total = total.Add(money.NewUSD(e.USDValue))
	}
	return total
}

// Config configures an Aggregator.
type Config struct {
	Reader  BalanceReader
	Tokens  TokenLister
	Prices  Pricer
	Workers *worker.Pool
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Aggregator builds portfolios.
type Aggregator struct {
	reader  BalanceReader
	tokens  TokenLister
	prices  Pricer
	workers *worker.Pool
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewAggregator creates an aggregator. Without Workers a pool sized to
// the token list is created per call.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Aggregator{
		reader:  cfg.Reader,
		tokens:  cfg.Tokens,
		prices:  cfg.Prices,
		workers: cfg.Workers,
		logger:  cfg.Logger.Component("portfolio"),
		metrics: cfg.Metrics,
		tracer:  observability.Tracer("basebuddy/portfolio"),
	}
}

type holding struct {
	token tokens.Token
	raw   *big.Int
}

// AllBalances returns every strictly positive balance of owner, in
// registry order. A failed native read aborts; a failed token read is
// logged and skipped; a failed price values the entry at 0.
func (a *Aggregator) AllBalances(ctx context.Context, owner common.Address) (p *Portfolio, err error) {
	ctx, span := observability.StartSpan(ctx, a.tracer, "portfolio.AllBalances", "owner", owner.Hex())
	defer func() {
		entries := 0
		if p != nil {
			entries = len(p.Entries)
		}
		a.metrics.RecordBalanceRead(ctx, err == nil, entries)
		observability.EndSpanWithError(span, err)
	}()

	held, skipped, err := a.readBalances(ctx, owner)
	if err != nil {
		return nil, err
	}

	p = &Portfolio{
		Owner:   owner,
		Entries: make([]BalanceEntry, len(held)),
		Skipped: skipped,
		ReadAt:  time.Now().UTC(),
	}
	for i, h := range held {
		p.Entries[i] = BalanceEntry{
			Symbol:  h.token.Symbol,
			Token:   h.token,
			Balance: h.token.FormatAmount(h.raw),
			Raw:     h.raw,
		}
	}
	if err := a.value(ctx, p.Entries); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *Aggregator) readBalances(ctx context.Context, owner common.Address) ([]holding, []string, error) {
	supported := a.tokens.Supported()

	var (
		erc20     []tokens.Token
		addresses []common.Address
	)
	for _, t := range supported {
		if !t.Native() {
			erc20 = append(erc20, t)
			addresses = append(addresses, t.Address)
		}
	}

	native, err := a.reader.NativeBalance(ctx, owner)
	if err != nil {
		return nil, nil, fmt.Errorf("native balance of %s: %w", owner.Hex(), err)
	}

	var balances []*big.Int
	if len(addresses) > 0 {
		balances, err = a.reader.TokenBalances(ctx, owner, addresses)
		if err != nil {
			return nil, nil, fmt.Errorf("token balances of %s: %w", owner.Hex(), err)
		}
	}
	byAddr := make(map[common.Address]*big.Int, len(erc20))
	var skipped []string
	for i, t := range erc20 {
		if i >= len(balances) || balances[i] == nil {
			a.logger.LogWarn(ctx, "token balance unavailable, skipping",
				"owner", owner.Hex(), "token", t.Symbol, "address", t.Address.Hex())
			skipped = append(skipped, t.Symbol)
			continue
		}
		byAddr[t.Address] = balances[i]
	}

	held := make([]holding, 0, len(supported))
	for _, t := range supported {
		raw := native
		if !t.Native() {
			raw = byAddr[t.Address]
		}
		if raw == nil || raw.Sign() <= 0 {
			continue
		}
		held = append(held, holding{token: t, raw: raw})
	}
	return held, skipped, nil
}

// value prices entries on the worker pool. Price errors leave USDValue 0.
func (a *Aggregator) value(ctx context.Context, entries []BalanceEntry) error {
	if len(entries) == 0 || a.prices == nil {
		return nil
	}

	pool := a.workers
	if pool == nil {
		pool = worker.NewPool(len(entries), len(entries))
		defer pool.Close()
	}

	jobs := make([]worker.Job[float64], len(entries))
	for i, e := range entries {
		jobs[i] = worker.Job[float64]{
			ID: e.Symbol,
			Execute: func(ctx context.Context) (float64, error) {
				price, err := a.prices.PriceOf(ctx, e.Token)
				if err != nil {
					return 0, err
				}
				units, _ := e.Token.Units(e.Raw).Float64()
				return units * price, nil
			},
		}
	}

	for i, res := range worker.Run(ctx, pool, jobs) {
		if res.Err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.LogWarn(ctx, "balance priced at zero", "token", res.JobID, "error", res.Err.Error())
			continue
		}
		entries[i].USDValue = res.Value
	}
	return nil
}
