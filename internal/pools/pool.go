package pools

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/RoiLaboratories/BaseBuddy/internal/blockchain"
	"github.com/RoiLaboratories/BaseBuddy/internal/money"
	"github.com/RoiLaboratories/BaseBuddy/internal/pricing/uniswapv3"
	"github.com/RoiLaboratories/BaseBuddy/internal/tokens"
)

var (
	// ErrZeroLiquidity marks a pool with no active liquidity. Such a pool is
	// never used.
	ErrZeroLiquidity = errors.New("pool has zero liquidity")
	// ErrInvalidPool marks a snapshot that cannot be priced.
	ErrInvalidPool = errors.New("invalid pool state")
	// ErrTokenNotInPool is returned when asking a pool about a token it
	// does not hold.
	ErrTokenNotInPool = errors.New("token not in pool")
)

// FeeTier is a pool fee in hundredths of a basis point.
type FeeTier uint32

const (
	FeeLow    FeeTier = 500
	FeeMedium FeeTier = 3000
	FeeHigh   FeeTier = 10000
)

// DefaultFeeTiers are probed in this order.
var DefaultFeeTiers = []FeeTier{FeeLow, FeeMedium, FeeHigh}

// Percent returns the fee as a percentage, e.g. 0.3 for 3000.
func (f FeeTier) Percent() float64 {
	return float64(f) / 10_000
}

// BPS returns the fee in basis points.
func (f FeeTier) BPS() money.BPS {
	return money.NewBPSFromInt(int64(f) / 100)
}

// Valid reports whether f is one of the enumerated tiers.
func (f FeeTier) Valid() bool {
	for _, t := range DefaultFeeTiers {
		if t == f {
			return true
		}
	}
	return false
}

func (f FeeTier) String() string {
	return fmt.Sprintf("%g%%", f.Percent())
}

// Pool is a read-only snapshot of a pool's current range. It is fetched
// fresh for every quote.
type Pool struct {
	Address      common.Address
	Token0       common.Address
	Token1       common.Address
	Fee          FeeTier
	SqrtPriceX96 *big.Int
	Tick         int32
	Liquidity    *big.Int
}

// KnownPool pins a pool by address for a pair. It is a hint: the pool is
// still verified on chain before use.
type KnownPool struct {
	TokenA  common.Address
	TokenB  common.Address
	Address common.Address
	Fee     FeeTier
}

// Matches reports whether the known pool is for the unordered pair a, b.
func (k KnownPool) Matches(a, b common.Address) bool {
	return (k.TokenA == a && k.TokenB == b) || (k.TokenA == b && k.TokenB == a)
}

// NewPool validates a chain snapshot. Tokens are put in ascending order,
// inverting the price if the snapshot had them reversed, and the tick is
// clamped into the valid range.
func NewPool(state blockchain.PoolState) (*Pool, error) {
	if state.Token0 == state.Token1 {
		return nil, fmt.Errorf("%w: token0 equals token1 (%s)", ErrInvalidPool, state.Token0.Hex())
	}
	if state.SqrtPriceX96 == nil || state.SqrtPriceX96.Sign() <= 0 {
		return nil, fmt.Errorf("%w: uninitialized price", ErrInvalidPool)
	}
	if state.Liquidity == nil || state.Liquidity.Sign() <= 0 {
		return nil, ErrZeroLiquidity
	}

	p := &Pool{
		Address:      state.Address,
		Token0:       state.Token0,
		Token1:       state.Token1,
		Fee:          FeeTier(state.Fee),
		SqrtPriceX96: new(big.Int).Set(state.SqrtPriceX96),
		Tick:         uniswapv3.ClampTick(state.Tick),
		Liquidity:    new(big.Int).Set(state.Liquidity),
	}

	if bytesGreater(p.Token0, p.Token1) {
		p.Token0, p.Token1 = p.Token1, p.Token0
		q192 := new(big.Int).Lsh(big.NewInt(1), 192)
		p.SqrtPriceX96 = new(big.Int).Quo(q192, p.SqrtPriceX96)
		p.Tick = uniswapv3.ClampTick(-int64(p.Tick))
		if p.SqrtPriceX96.Sign() == 0 {
			return nil, fmt.Errorf("%w: price out of range after reordering", ErrInvalidPool)
		}
	}
	return p, nil
}

func bytesGreater(a, b common.Address) bool {
	return bytes.Compare(a[:], b[:]) > 0
}

// SortTokens returns a and b in pool order.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytesGreater(a, b) {
		return b, a
	}
	return a, b
}

// Has reports whether the pool holds token.
func (p *Pool) Has(token common.Address) bool {
	return token == p.Token0 || token == p.Token1
}

// ZeroForOne reports the swap direction for selling tokenIn.
func (p *Pool) ZeroForOne(tokenIn common.Address) (bool, error) {
	switch tokenIn {
	case p.Token0:
		return true, nil
	case p.Token1:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s in pool %s", ErrTokenNotInPool, tokenIn.Hex(), p.Address.Hex())
	}
}

// Other returns the pool's token that is not token.
func (p *Pool) Other(token common.Address) (common.Address, error) {
	switch token {
	case p.Token0:
		return p.Token1, nil
	case p.Token1:
		return p.Token0, nil
	default:
		return common.Address{}, fmt.Errorf("%w: %s in pool %s", ErrTokenNotInPool, token.Hex(), p.Address.Hex())
	}
}

// MidPrice is the current price of one whole base token in quote tokens.
func (p *Pool) MidPrice(base, quote tokens.Token) (*big.Float, error) {
	b, q := base.PoolAddress(), quote.PoolAddress()
	switch {
	case b == p.Token0 && q == p.Token1:
		return uniswapv3.SqrtPriceToPrice(p.SqrtPriceX96, base.Decimals, quote.Decimals), nil
	case b == p.Token1 && q == p.Token0:
		price := uniswapv3.SqrtPriceToPrice(p.SqrtPriceX96, quote.Decimals, base.Decimals)
		return new(big.Float).SetPrec(price.Prec()).Quo(big.NewFloat(1), price), nil
	default:
		return nil, fmt.Errorf("%w: pair %s/%s in pool %s", ErrTokenNotInPool, base.Symbol, quote.Symbol, p.Address.Hex())
	}
}
