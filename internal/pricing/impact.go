package pricing

import (
	"math"
	"math/big"
)

// ExecutionPrice is the realized rate of a trade in whole tokenOut per
// whole tokenIn.
func ExecutionPrice(amountIn, amountOut *big.Int, inDecimals, outDecimals uint8) *big.Float {
	in := RawToFloat(amountIn, inDecimals)
	if in.Sign() == 0 {
		return new(big.Float).SetPrec(floatPrec)
	}
	out := RawToFloat(amountOut, outDecimals)
	return out.Quo(out, in)
}

// PriceImpact returns |execution/mid - 1| as a percentage. The fee paid is
// part of the execution price, so a tiny trade reports roughly the fee.
func PriceImpact(execution, mid *big.Float) float64 {
	if mid == nil || mid.Sign() == 0 || execution == nil {
		return 0
	}
	ratio := new(big.Float).SetPrec(floatPrec).Quo(execution, mid)
	r, _ := ratio.Float64()
	return math.Abs(r-1) * 100
}

// ChainPrices multiplies per-hop mid prices into the route's mid price.
func ChainPrices(prices ...*big.Float) *big.Float {
	out := new(big.Float).SetPrec(floatPrec).SetInt64(1)
	for _, p := range prices {
		out.Mul(out, p)
	}
	return out
}
