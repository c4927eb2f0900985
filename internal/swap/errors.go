package swap

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrZeroRequiredInput marks an exact-output computation that came out
	// at zero input. It is a fault, never a valid quote.
	ErrZeroRequiredInput = errors.New("required input computed as zero")
	ErrInvalidSlippage   = errors.New("slippage must be in [0, 100)")
	ErrSameToken         = errors.New("input and output are the same token")
	// ErrDustAmount is returned when an exact input is too small to buy a
	// single base unit of the output.
	ErrDustAmount = errors.New("amount too small to produce any output")
)

// NoRouteError reports a pair with neither a direct pool nor a two-hop
// route through any routing token.
type NoRouteError struct {
	TokenIn  string
	TokenOut string
	// Tried lists the routing tokens that were attempted.
	Tried []string
}

func (e *NoRouteError) Error() string {
	return fmt.Sprintf("no route from %s to %s", e.TokenIn, e.TokenOut)
}

// InsufficientLiquidityError is returned when an exact-output quote needs
// more than the caller's maximum input, or when a trade would drain the
// active range of a pool.
type InsufficientLiquidityError struct {
	// Required is the input the target output needs.
	Required *big.Int
	// Max is the caller's input budget.
	Max *big.Int
	// Achievable is what Max buys instead. Nil when the re-quote failed.
	Achievable *big.Int
	// ShortfallRatio is Max/Required.
	ShortfallRatio float64

	// Pool is set when the active range of this pool cannot fill the trade.
	Pool common.Address
}

func (e *InsufficientLiquidityError) Error() string {
	if e.Required == nil || e.Max == nil {
		return fmt.Sprintf("insufficient liquidity in pool %s", e.Pool.Hex())
	}
	msg := fmt.Sprintf("required input %s exceeds maximum %s (budget covers %.2f%%)",
		e.Required, e.Max, e.ShortfallRatio*100)
	if e.Achievable != nil {
		msg += fmt.Sprintf("; maximum buys %s", e.Achievable)
	}
	return msg
}

// ZeroAmountError reports a non-positive requested amount.
type ZeroAmountError struct {
	Field string
	Input string
}

func (e *ZeroAmountError) Error() string {
	return fmt.Sprintf("%s must be positive, got %q", e.Field, e.Input)
}
