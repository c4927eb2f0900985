package uniswapv3

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigInt(t *testing.T, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad literal %s", s)
	return n
}

func TestGetSqrtRatioAtTick(t *testing.T) {
	tests := []struct {
		tick int32
		want string
	}{
		{MinTick, "4295128739"},
		{MaxTick, "1461446703485210103287273052203988822378723970342"},
		{0, "79228162514264337593543950336"},
		{60, "79466191966197645195421774833"},
		{-60, "78990846045029531151608375686"},
		{200000, "1744244129640337381386292603617838"},
	}
	for _, tt := range tests {
		got, err := GetSqrtRatioAtTick(tt.tick)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.String(), "tick %d", tt.tick)
	}

	_, err := GetSqrtRatioAtTick(MaxTick + 1)
	assert.ErrorIs(t, err, ErrInvalidTick)
}

func TestGetTickAtSqrtRatio(t *testing.T) {
	for _, tick := range []int32{-887272, -60, 0, 60, 200000} {
		ratio, err := GetSqrtRatioAtTick(tick)
		require.NoError(t, err)
		got, err := GetTickAtSqrtRatio(ratio)
		require.NoError(t, err)
		assert.Equal(t, tick, got)
	}

	_, err := GetTickAtSqrtRatio(MaxSqrtRatio)
	assert.ErrorIs(t, err, ErrInvalidSqrtRatio)
}

func TestClampTick(t *testing.T) {
	assert.Equal(t, MinTick, ClampTick(-900000))
	assert.Equal(t, MaxTick, ClampTick(1<<40))
	assert.Equal(t, int32(-201234), ClampTick(-201234))
}

// Hand computed: with sqrtP = 2^96 (price 1) and L = 1e24 the output is
// L*a/(L+a) for a = amountIn less the 0.30% fee, rounded down.
func TestSwapExactInput_HandComputed(t *testing.T) {
	liquidity := bigInt(t, "1000000000000000000000000")
	amountIn := bigInt(t, "1000000000000000000")

	for _, zeroForOne := range []bool{true, false} {
		res, err := SwapExactInput(Q96(), liquidity, amountIn, zeroForOne, 3000)
		require.NoError(t, err)
		assert.Equal(t, "996999005991991025", res.AmountOut.String(), "zeroForOne=%v", zeroForOne)
		assert.Equal(t, amountIn.String(), res.AmountIn.String())
	}

	res, err := SwapExactInput(Q96(), liquidity, amountIn, true, 3000)
	require.NoError(t, err)
	assert.Equal(t, "79228083523865064300074843162", res.SqrtPriceAfterX96.String())
}

func TestSwapExactOutput_RoundTrip(t *testing.T) {
	liquidity := bigInt(t, "1000000000000000000000000")
	amountIn := bigInt(t, "1000000000000000000")

	fwd, err := SwapExactInput(Q96(), liquidity, amountIn, true, 3000)
	require.NoError(t, err)

	back, err := SwapExactOutput(Q96(), liquidity, fwd.AmountOut, true, 3000)
	require.NoError(t, err)
	assert.Equal(t, amountIn.String(), back.AmountIn.String())
	assert.Equal(t, fwd.AmountOut.String(), back.AmountOut.String())
}

func TestSwapExactOutput_RoundsAgainstTrader(t *testing.T) {
	// 2500 USDC per WETH; WETH is token0 (18 dp), USDC token1 (6 dp)
	sqrtP := bigInt(t, "3961408125713216879677197")
	liquidity := bigInt(t, "5000000000000000000")
	usdc := big.NewInt(1_000_000_000) // 1000 USDC

	res, err := SwapExactOutput(sqrtP, liquidity, usdc, true, 500)
	require.NoError(t, err)

	fwd, err := SwapExactInput(sqrtP, liquidity, res.AmountIn, true, 500)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fwd.AmountOut.Cmp(usdc), 0, "required input must buy at least the target")
}

func TestSwap_InsufficientLiquidity(t *testing.T) {
	liquidity := big.NewInt(1_000_000)

	_, err := SwapExactOutput(Q96(), liquidity, big.NewInt(2_000_000), true, 3000)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = SwapExactInput(Q96(), big.NewInt(0), big.NewInt(1), true, 3000)
	assert.ErrorIs(t, err, ErrInvalidLiquidity)
}

func TestSqrtPriceToPrice(t *testing.T) {
	sqrtP := bigInt(t, "3961408125713216879677197")
	price, _ := SqrtPriceToPrice(sqrtP, 18, 6).Float64()
	assert.InDelta(t, 2500.0, price, 1e-6)

	one, _ := SqrtPriceToPrice(Q96(), 18, 18).Float64()
	assert.Equal(t, 1.0, one)
}
