package swap

import (
	"fmt"
	"math"
	"math/big"
)

// Slippage is held in millionths of a percent; slippageScale is 100%.
const slippageScale = 100_000_000

func slippageUnits(pct float64) (int64, error) {
	if math.IsNaN(pct) || pct < 0 || pct >= 100 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSlippage, pct)
	}
	units := int64(math.Round(pct * 1_000_000))
	if units >= slippageScale {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSlippage, pct)
	}
	return units, nil
}

// minimumOutput is expected*(100% - slippage), rounded down.
func minimumOutput(expected *big.Int, units int64) *big.Int {
	out := new(big.Int).Mul(expected, big.NewInt(slippageScale-units))
	return out.Quo(out, big.NewInt(slippageScale))
}

// maximumInput is required*(100% + slippage), rounded up.
func maximumInput(required *big.Int, units int64) *big.Int {
	num := new(big.Int).Mul(required, big.NewInt(slippageScale+units))
	num.Add(num, big.NewInt(slippageScale-1))
	return num.Quo(num, big.NewInt(slippageScale))
}
