package uniswapv3

import (
	"math/big"
)

// FeeDenominator is the pip scale fees are expressed in (1e6 = 100%).
const FeeDenominator = 1_000_000

// SwapStepResult holds the result of a single swap computation step
type SwapStepResult struct {
	SqrtRatioNextX96 *big.Int
	AmountIn         *big.Int // excludes FeeAmount
	AmountOut        *big.Int
	FeeAmount        *big.Int
}

// ComputeSwapStep computes the result of swapping within a single price range.
// A non-negative amountRemaining is an exact input; a negative one is an
// exact output.
// Ported from Uniswap V3 SwapMath.sol
func ComputeSwapStep(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining *big.Int, feePips uint32) (*SwapStepResult, error) {
	zeroForOne := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0
	exactIn := amountRemaining.Sign() >= 0
	fee := big.NewInt(int64(feePips))
	feeComplement := big.NewInt(int64(FeeDenominator - feePips))

	var (
		next      *big.Int
		amountIn  *big.Int
		amountOut *big.Int
		err       error
	)

	if exactIn {
		lessFee := new(big.Int).Mul(amountRemaining, feeComplement)
		lessFee.Quo(lessFee, big.NewInt(FeeDenominator))

		if zeroForOne {
			amountIn = GetAmount0Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
		} else {
			amountIn = GetAmount1Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
		}
		if lessFee.Cmp(amountIn) >= 0 {
			next = sqrtRatioTargetX96
		} else if next, err = GetNextSqrtPriceFromInput(sqrtRatioCurrentX96, liquidity, lessFee, zeroForOne); err != nil {
			return nil, err
		}
	} else {
		want := new(big.Int).Neg(amountRemaining)
		if zeroForOne {
			amountOut = GetAmount1Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, false)
		} else {
			amountOut = GetAmount0Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, false)
		}
		if want.Cmp(amountOut) >= 0 {
			next = sqrtRatioTargetX96
		} else if next, err = GetNextSqrtPriceFromOutput(sqrtRatioCurrentX96, liquidity, want, zeroForOne); err != nil {
			return nil, err
		}
	}

	reachedTarget := next.Cmp(sqrtRatioTargetX96) == 0

	if zeroForOne {
		if !(reachedTarget && exactIn) {
			amountIn = GetAmount0Delta(next, sqrtRatioCurrentX96, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			amountOut = GetAmount1Delta(next, sqrtRatioCurrentX96, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			amountIn = GetAmount1Delta(sqrtRatioCurrentX96, next, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			amountOut = GetAmount0Delta(sqrtRatioCurrentX96, next, liquidity, false)
		}
	}

	// cap the output amount to not exceed the remaining output amount
	if !exactIn {
		if want := new(big.Int).Neg(amountRemaining); amountOut.Cmp(want) > 0 {
			amountOut = want
		}
	}

	var feeAmount *big.Int
	if exactIn && !reachedTarget {
		feeAmount = new(big.Int).Sub(amountRemaining, amountIn)
	} else {
		feeAmount = mulDivRoundingUp(amountIn, fee, feeComplement)
	}

	return &SwapStepResult{
		SqrtRatioNextX96: next,
		AmountIn:         amountIn,
		AmountOut:        amountOut,
		FeeAmount:        feeAmount,
	}, nil
}

// SwapResult is the outcome of a swap simulated against a pool snapshot.
type SwapResult struct {
	AmountIn          *big.Int // including fee
	AmountOut         *big.Int
	FeeAmount         *big.Int
	SqrtPriceAfterX96 *big.Int
}

// priceLimit is the furthest price a swap may push the pool to.
func priceLimit(zeroForOne bool) *big.Int {
	if zeroForOne {
		return new(big.Int).Add(MinSqrtRatio, big.NewInt(1))
	}
	return new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1))
}

// SwapExactInput simulates selling amountIn against the active liquidity.
// Liquidity is assumed constant over the move (no initialized ticks are
// crossed), which matches a pool snapshot of slot0 and liquidity only.
// ErrInsufficientLiquidity means the input would drain the range.
func SwapExactInput(sqrtPriceX96, liquidity, amountIn *big.Int, zeroForOne bool, feePips uint32) (*SwapResult, error) {
	if liquidity.Sign() <= 0 {
		return nil, ErrInvalidLiquidity
	}
	if sqrtPriceX96.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	step, err := ComputeSwapStep(sqrtPriceX96, priceLimit(zeroForOne), liquidity, amountIn, feePips)
	if err != nil {
		return nil, err
	}
	spent := new(big.Int).Add(step.AmountIn, step.FeeAmount)
	if spent.Cmp(amountIn) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	return &SwapResult{
		AmountIn:          spent,
		AmountOut:         step.AmountOut,
		FeeAmount:         step.FeeAmount,
		SqrtPriceAfterX96: step.SqrtRatioNextX96,
	}, nil
}

// SwapExactOutput simulates buying amountOut from the active liquidity and
// returns the input required, fee included, rounded against the trader.
func SwapExactOutput(sqrtPriceX96, liquidity, amountOut *big.Int, zeroForOne bool, feePips uint32) (*SwapResult, error) {
	if liquidity.Sign() <= 0 {
		return nil, ErrInvalidLiquidity
	}
	if sqrtPriceX96.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	step, err := ComputeSwapStep(sqrtPriceX96, priceLimit(zeroForOne), liquidity, new(big.Int).Neg(amountOut), feePips)
	if err != nil {
		return nil, err
	}
	if step.AmountOut.Cmp(amountOut) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	return &SwapResult{
		AmountIn:          new(big.Int).Add(step.AmountIn, step.FeeAmount),
		AmountOut:         step.AmountOut,
		FeeAmount:         step.FeeAmount,
		SqrtPriceAfterX96: step.SqrtRatioNextX96,
	}, nil
}
