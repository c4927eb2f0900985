package uniswapv3

import (
	"math/big"
)

const floatPrec = 256

// SqrtPriceToPrice returns the spot price of token0 denominated in token1,
// in whole-token units: sqrtPriceX96^2 / 2^192 * 10^(decimals0 - decimals1).
func SqrtPriceToPrice(sqrtPriceX96 *big.Int, decimals0, decimals1 uint8) *big.Float {
	num := new(big.Float).SetPrec(floatPrec).SetInt(new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96))
	den := new(big.Float).SetPrec(floatPrec).SetInt(new(big.Int).Lsh(big.NewInt(1), 192))
	price := new(big.Float).SetPrec(floatPrec).Quo(num, den)

	shift := int(decimals0) - int(decimals1)
	switch {
	case shift > 0:
		price.Mul(price, pow10(shift))
	case shift < 0:
		price.Quo(price, pow10(-shift))
	}
	return price
}

// RawPrice returns sqrtPriceX96^2 / 2^192, token1 base units per token0
// base unit.
func RawPrice(sqrtPriceX96 *big.Int) *big.Float {
	return SqrtPriceToPrice(sqrtPriceX96, 0, 0)
}

func pow10(n int) *big.Float {
	return new(big.Float).SetPrec(floatPrec).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil))
}
