package uniswapv3

import (
	"errors"
	"math/big"
)

var (
	ErrInvalidLiquidity      = errors.New("liquidity must be positive")
	ErrInvalidPrice          = errors.New("invalid sqrt price")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	q96 = new(big.Int).Lsh(big.NewInt(1), 96)
)

// Q96 returns 2^96 as a fresh value.
func Q96() *big.Int {
	return new(big.Int).Set(q96)
}

// GetAmount0Delta returns liquidity * (sqrtB - sqrtA) / (sqrtA * sqrtB),
// the token0 needed to move between the two prices.
// Ported from Uniswap V3 SqrtPriceMath.sol
func GetAmount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}

	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)

	if roundUp {
		return divRoundingUp(mulDivRoundingUp(numerator1, numerator2, sqrtRatioBX96), sqrtRatioAX96)
	}

	out := new(big.Int).Mul(numerator1, numerator2)
	out.Quo(out, sqrtRatioBX96)
	return out.Quo(out, sqrtRatioAX96)
}

// GetAmount1Delta returns liquidity * (sqrtB - sqrtA), the token1 needed
// to move between the two prices.
// Ported from Uniswap V3 SqrtPriceMath.sol
func GetAmount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}

	diff := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	if roundUp {
		return mulDivRoundingUp(liquidity, diff, q96)
	}
	out := new(big.Int).Mul(liquidity, diff)
	return out.Quo(out, q96)
}

// getNextSqrtPriceFromAmount0RoundingUp moves the price by a token0 amount.
// Arbitrary precision makes the overflow branch of the contract unnecessary.
func getNextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int).Set(sqrtPX96), nil
	}

	numerator1 := new(big.Int).Lsh(liquidity, 96)
	product := new(big.Int).Mul(amount, sqrtPX96)

	var denominator *big.Int
	if add {
		denominator = new(big.Int).Add(numerator1, product)
	} else {
		denominator = new(big.Int).Sub(numerator1, product)
		if denominator.Sign() <= 0 {
			return nil, ErrInsufficientLiquidity
		}
	}

	return mulDivRoundingUp(numerator1, sqrtPX96, denominator), nil
}

// getNextSqrtPriceFromAmount1RoundingDown moves the price by a token1 amount.
func getNextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	shifted := new(big.Int).Lsh(amount, 96)

	if add {
		return new(big.Int).Add(sqrtPX96, shifted.Quo(shifted, liquidity)), nil
	}

	quotient := divRoundingUp(shifted, liquidity)
	if sqrtPX96.Cmp(quotient) <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	return new(big.Int).Sub(sqrtPX96, quotient), nil
}

// GetNextSqrtPriceFromInput calculates the next sqrt price given an input amount
// zeroForOne: true if swapping token0 for token1, false otherwise
func GetNextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if liquidity.Sign() <= 0 {
		return nil, ErrInvalidLiquidity
	}

	if zeroForOne {
		return getNextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountIn, true)
	}
	return getNextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountIn, true)
}

// GetNextSqrtPriceFromOutput calculates the next sqrt price given an output amount
// zeroForOne: true if swapping token0 for token1, false otherwise
func GetNextSqrtPriceFromOutput(sqrtPX96, liquidity, amountOut *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if liquidity.Sign() <= 0 {
		return nil, ErrInvalidLiquidity
	}

	if zeroForOne {
		return getNextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountOut, false)
	}
	return getNextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountOut, false)
}

func mulDivRoundingUp(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return divRoundingUp(product, denominator)
}

func divRoundingUp(a, denominator *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, denominator, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
