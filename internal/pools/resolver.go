package pools

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/RoiLaboratories/BaseBuddy/internal/blockchain"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
	"github.com/RoiLaboratories/BaseBuddy/internal/tokens"
)

// Uniswap V3 deployment on Base.
var (
	DefaultFactory      = common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD")
	DefaultInitCodeHash = common.HexToHash("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")
)

// DefaultKnownPools are curated pools for pairs whose derived address is
// unreliable.
func DefaultKnownPools() []KnownPool {
	weth := tokens.WETHAddress
	return []KnownPool{
		{
			TokenA:  common.HexToAddress("0x32c43d8D7245924f9232D69200fbE139aC05227B"), // PUMP
			TokenB:  weth,
			Address: common.HexToAddress("0x47eDbFC8E489eD5C7eb2b7b8E7a5e32dc2Aec515"),
			Fee:     FeeHigh,
		},
		{
			TokenA:  common.HexToAddress("0xF73978B3A7D1d4974abAE11f696c1b4408c027A0"), // ENB
			TokenB:  weth,
			Address: common.HexToAddress("0xfAB2F613D2b4c43AE304860f759575359EaC0566"),
			Fee:     FeeHigh,
		},
	}
}

// ErrIdenticalTokens is returned when both sides of a lookup trade as the
// same pool token.
var ErrIdenticalTokens = errors.New("identical pool tokens")

// ChainReader is the chain access the resolver needs.
type ChainReader interface {
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	PoolState(ctx context.Context, pool common.Address) (*blockchain.PoolState, error)
}

// Config configures a Resolver. Zero fields take the Base defaults.
type Config struct {
	Reader       ChainReader
	Factory      common.Address
	InitCodeHash common.Hash
	FeeTiers     []FeeTier
	KnownPools   []KnownPool
	// TierTimeout bounds the probe of one fee tier.
	TierTimeout time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Resolver locates the pool to trade a pair through.
type Resolver struct {
	reader       ChainReader
	factory      common.Address
	initCodeHash common.Hash
	feeTiers     []FeeTier
	known        []KnownPool
	tierTimeout  time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a resolver. A nil KnownPools uses the curated
// defaults; an empty non-nil slice disables them.
func NewResolver(cfg Config) *Resolver {
	if cfg.Factory == (common.Address{}) {
		cfg.Factory = DefaultFactory
	}
	if cfg.InitCodeHash == (common.Hash{}) {
		cfg.InitCodeHash = DefaultInitCodeHash
	}
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = DefaultFeeTiers
	}
	if cfg.KnownPools == nil {
		cfg.KnownPools = DefaultKnownPools()
	}
	if cfg.TierTimeout <= 0 {
		cfg.TierTimeout = 20 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Resolver{
		reader:       cfg.Reader,
		factory:      cfg.Factory,
		initCodeHash: cfg.InitCodeHash,
		feeTiers:     cfg.FeeTiers,
		known:        cfg.KnownPools,
		tierTimeout:  cfg.TierTimeout,
		logger:       cfg.Logger.Component("pools"),
		metrics:      cfg.Metrics,
	}
}

// ComputePoolAddress derives a pool address the way the factory deploys
// it: CREATE2 with salt keccak256(abi.encode(token0, token1, fee)).
func ComputePoolAddress(factory common.Address, initCodeHash common.Hash, tokenA, tokenB common.Address, fee FeeTier) common.Address {
	token0, token1 := SortTokens(tokenA, tokenB)

	encoded := make([]byte, 0, 96)
	encoded = append(encoded, common.LeftPadBytes(token0.Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(token1.Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(new(big.Int).SetUint64(uint64(fee)).Bytes(), 32)...)

	var salt [32]byte
	copy(salt[:], crypto.Keccak256(encoded))
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes())
}

// PoolAddress derives the pool address for a pair with the configured
// factory.
func (r *Resolver) PoolAddress(a, b tokens.Token, fee FeeTier) common.Address {
	return ComputePoolAddress(r.factory, r.initCodeHash, a.PoolAddress(), b.PoolAddress(), fee)
}

// FindPool returns the first usable pool for the pair: a verified curated
// pool, else the first derived pool with liquidity in ascending fee order.
// A nil pool with a nil error means the pair has no direct liquidity.
func (r *Resolver) FindPool(ctx context.Context, a, b tokens.Token) (*Pool, error) {
	addrA, addrB := a.PoolAddress(), b.PoolAddress()
	if addrA == addrB {
		return nil, fmt.Errorf("%w: %s and %s", ErrIdenticalTokens, a.Symbol, b.Symbol)
	}

	for _, k := range r.known {
		if !k.Matches(addrA, addrB) {
			continue
		}
		pool, err := r.loadVerified(ctx, k.Address, addrA, addrB)
		if err != nil {
			return nil, fmt.Errorf("load known pool %s/%s: %w", a.Symbol, b.Symbol, err)
		}
		if pool != nil {
			if pool.Fee != k.Fee {
				r.logger.LogDebug(ctx, "known pool fee differs from chain",
					"pool", k.Address.Hex(), "declared", uint32(k.Fee), "onchain", uint32(pool.Fee))
			}
			r.metrics.RecordPoolLookup(ctx, "known", uint32(pool.Fee))
			return pool, nil
		}
		r.logger.LogWarn(ctx, "known pool unusable, deriving instead",
			"pool", k.Address.Hex(), "pair", a.Symbol+"/"+b.Symbol)
	}

	for _, fee := range r.feeTiers {
		pool, err := r.probeTier(ctx, addrA, addrB, fee)
		if err != nil {
			return nil, fmt.Errorf("find pool %s/%s at %s: %w", a.Symbol, b.Symbol, fee, err)
		}
		if pool != nil {
			r.metrics.RecordPoolLookup(ctx, "derived", uint32(fee))
			return pool, nil
		}
	}

	r.metrics.RecordPoolLookup(ctx, "miss", 0)
	r.logger.LogDebug(ctx, "no direct pool", "pair", a.Symbol+"/"+b.Symbol)
	return nil, nil
}

// FindPoolWithFee looks up the derived pool for a pair at one fee tier,
// falling back to FindPool when that tier has no liquidity.
func (r *Resolver) FindPoolWithFee(ctx context.Context, a, b tokens.Token, fee FeeTier) (*Pool, error) {
	addrA, addrB := a.PoolAddress(), b.PoolAddress()
	if addrA == addrB {
		return nil, fmt.Errorf("%w: %s and %s", ErrIdenticalTokens, a.Symbol, b.Symbol)
	}
	pool, err := r.probeTier(ctx, addrA, addrB, fee)
	if err != nil {
		return nil, fmt.Errorf("find pool %s/%s at %s: %w", a.Symbol, b.Symbol, fee, err)
	}
	if pool != nil {
		r.metrics.RecordPoolLookup(ctx, "derived", uint32(fee))
		return pool, nil
	}
	return r.FindPool(ctx, a, b)
}

func (r *Resolver) probeTier(ctx context.Context, a, b common.Address, fee FeeTier) (*Pool, error) {
	tierCtx, cancel := context.WithTimeout(ctx, r.tierTimeout)
	defer cancel()
	return r.loadVerified(tierCtx, ComputePoolAddress(r.factory, r.initCodeHash, a, b, fee), a, b)
}

// LoadPool reads and validates the pool at addr. It returns nil, nil when
// addr holds no pool or the pool has no liquidity.
func (r *Resolver) LoadPool(ctx context.Context, addr common.Address) (*Pool, error) {
	code, err := r.reader.CodeAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, nil
	}

	state, err := r.reader.PoolState(ctx, addr)
	if err != nil {
		if blockchain.IsContractAbsent(err) {
			r.logger.LogDebug(ctx, "address is not a pool", "address", addr.Hex(), "error", err.Error())
			return nil, nil
		}
		return nil, err
	}

	pool, err := NewPool(*state)
	if err != nil {
		if errors.Is(err, ErrZeroLiquidity) || errors.Is(err, ErrInvalidPool) {
			r.logger.LogDebug(ctx, "pool unusable", "address", addr.Hex(), "reason", err.Error())
			return nil, nil
		}
		return nil, err
	}
	return pool, nil
}

// loadVerified loads addr and checks it actually trades a against b.
func (r *Resolver) loadVerified(ctx context.Context, addr, a, b common.Address) (*Pool, error) {
	pool, err := r.LoadPool(ctx, addr)
	if err != nil || pool == nil {
		return nil, err
	}
	if !pool.Has(a) || !pool.Has(b) {
		r.logger.LogWarn(ctx, "pool tokens do not match pair",
			"pool", addr.Hex(), "token0", pool.Token0.Hex(), "token1", pool.Token1.Hex())
		return nil, nil
	}
	return pool, nil
}
