package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/RoiLaboratories/BaseBuddy/internal/platform/cache"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
)

// ErrSymbolConflict is returned when registering a symbol that already
// belongs to a different address.
var ErrSymbolConflict = errors.New("symbol already registered to another address")

// UnsupportedTokenError reports input that is neither a known symbol nor a
// resolvable token address.
type UnsupportedTokenError struct {
	Input     string
	Supported []string
}

func (e *UnsupportedTokenError) Error() string {
	return fmt.Sprintf("unsupported token %q (supported: %s)", e.Input, strings.Join(e.Supported, ", "))
}

// MetadataReader reads ERC-20 metadata from chain.
type MetadataReader interface {
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	TokenSymbol(ctx context.Context, token common.Address) (string, error)
}

// Config configures a Registry.
type Config struct {
	// Tokens replaces the built-in table when non-empty.
	Tokens []Token
	Reader MetadataReader
	// Cache holds tokens synthesized from chain. Optional.
	Cache    cache.Cache
	CacheTTL time.Duration
	// LookupTimeout bounds one shared on-chain lookup. Defaults to 30s.
	LookupTimeout time.Duration
	Logger        *observability.Logger
}

// Registry resolves symbols and addresses to tokens.
type Registry struct {
	mu        sync.RWMutex
	ordered   []Token
	bySymbol  map[string]int
	byAddress map[common.Address]int

	reader        MetadataReader
	cache         cache.Cache
	cacheTTL      time.Duration
	lookupTimeout time.Duration
	lookups       singleflight.Group
	logger        *observability.Logger
}

// NewRegistry builds a registry from cfg.Tokens, or the built-in table.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 30 * time.Second
	}
	list := cfg.Tokens
	if len(list) == 0 {
		list = Builtin()
	}

	r := &Registry{
		bySymbol:      make(map[string]int, len(list)),
		byAddress:     make(map[common.Address]int, len(list)),
		reader:        cfg.Reader,
		cache:         cfg.Cache,
		cacheTTL:      cfg.CacheTTL,
		lookupTimeout: cfg.LookupTimeout,
		logger:        cfg.Logger.Component("tokens"),
	}
	for _, t := range list {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t, or replaces the entry with the same address. A symbol
// may only map to one address.
func (r *Registry) Register(t Token) error {
	t.Symbol = strings.TrimSpace(t.Symbol)
	if t.Symbol == "" {
		return fmt.Errorf("register token %s: empty symbol", t.Address.Hex())
	}
	key := strings.ToUpper(t.Symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.bySymbol[key]; ok && r.ordered[i].Address != t.Address {
		return fmt.Errorf("register %s at %s: %w (%s)", t.Symbol, t.Address.Hex(), ErrSymbolConflict, r.ordered[i].Address.Hex())
	}

	if i, ok := r.byAddress[t.Address]; ok {
		delete(r.bySymbol, strings.ToUpper(r.ordered[i].Symbol))
		r.ordered[i] = t
		r.bySymbol[key] = i
		return nil
	}

	r.ordered = append(r.ordered, t)
	r.bySymbol[key] = len(r.ordered) - 1
	r.byAddress[t.Address] = len(r.ordered) - 1
	return nil
}

// Supported returns the registered tokens in table order.
func (r *Registry) Supported() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Token, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Symbols returns the registered symbols in table order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.ordered))
	for i, t := range r.ordered {
		out[i] = t.Symbol
	}
	return out
}

// BySymbol looks up a registered token without touching the chain.
func (r *Registry) BySymbol(symbol string) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, false
	}
	return r.ordered[i], true
}

func (r *Registry) byAddr(addr common.Address) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byAddress[addr]
	if !ok {
		return Token{}, false
	}
	return r.ordered[i], true
}

// Resolve maps a symbol or an address to a token. Symbols match
// case-insensitively. An unknown well-formed address is looked up on
// chain; anything else yields *UnsupportedTokenError.
func (r *Registry) Resolve(ctx context.Context, input string) (Token, error) {
	s := strings.TrimSpace(input)
	if t, ok := r.BySymbol(s); ok {
		return t, nil
	}
	if !common.IsHexAddress(s) {
		return Token{}, r.unsupported(input)
	}

	addr := common.HexToAddress(s)
	if t, ok := r.byAddr(addr); ok {
		return t, nil
	}
	if r.reader == nil {
		return Token{}, r.unsupported(input)
	}
	return r.lookup(ctx, addr)
}

func (r *Registry) unsupported(input string) error {
	return &UnsupportedTokenError{Input: input, Supported: r.Symbols()}
}

func cacheKey(addr common.Address) string {
	return "token:" + strings.ToLower(addr.Hex())
}

// lookup synthesizes a token from on-chain metadata. Concurrent lookups of
// the same address share one round of calls.
func (r *Registry) lookup(ctx context.Context, addr common.Address) (Token, error) {
	if r.cache != nil {
		t, err := cache.GetJSON[Token](ctx, r.cache, cacheKey(addr))
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			r.logger.LogWarn(ctx, "token cache read failed", "address", addr.Hex(), "error", err.Error())
		}
	}

	// the shared call outlives any single caller's cancellation
	ch := r.lookups.DoChan(addr.Hex(), func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer cancel()

		decimals, err := r.reader.TokenDecimals(lookupCtx, addr)
		if err != nil {
			return Token{}, err
		}
		symbol, err := r.reader.TokenSymbol(lookupCtx, addr)
		if err != nil {
			return Token{}, err
		}
		if symbol == "" {
			symbol = addr.Hex()[:10]
		}
		return Token{Symbol: symbol, Address: addr, Decimals: decimals, Name: symbol}, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Token{}, fmt.Errorf("resolve token %s: %w", addr.Hex(), ctx.Err())
	}
	if res.Err != nil {
		return Token{}, fmt.Errorf("resolve token %s: %w", addr.Hex(), res.Err)
	}
	t := res.Val.(Token)

	if r.cache != nil {
		if err := cache.SetJSON(ctx, r.cache, cacheKey(addr), t, r.cacheTTL); err != nil {
			r.logger.LogWarn(ctx, "token cache write failed", "address", addr.Hex(), "error", err.Error())
		}
	}
	r.logger.LogDebug(ctx, "synthesized token from chain", "address", addr.Hex(), "symbol", t.Symbol, "decimals", t.Decimals)
	return t, nil
}

// Name implements cache.WarmupProvider.
func (r *Registry) Name() string { return "tokens" }

// Warmup reads decimals() for every registered ERC-20 and warns when the
// chain disagrees with the table.
func (r *Registry) Warmup(ctx context.Context) error {
	if r.reader == nil {
		return nil
	}
	var errs []error
	for _, t := range r.Supported() {
		if t.Native() {
			continue
		}
		decimals, err := r.reader.TokenDecimals(ctx, t.Address)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Symbol, err))
			continue
		}
		if decimals != t.Decimals {
			r.logger.LogWarn(ctx, "token decimals differ from chain",
				"symbol", t.Symbol,
				"address", t.Address.Hex(),
				"configured", t.Decimals,
				"onchain", decimals,
			)
		}
	}
	return errors.Join(errs...)
}
