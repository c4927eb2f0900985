package swap

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoiLaboratories/BaseBuddy/internal/blockchain"
	"github.com/RoiLaboratories/BaseBuddy/internal/pools"
	"github.com/RoiLaboratories/BaseBuddy/internal/tokens"
)

func testPool(t *testing.T, a, b tokens.Token, fee pools.FeeTier) *pools.Pool {
	t.Helper()
	t0, t1 := pools.SortTokens(a.PoolAddress(), b.PoolAddress())
	p, err := pools.NewPool(blockchain.PoolState{
		Token0: t0, Token1: t1, Fee: uint32(fee),
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96), Liquidity: big.NewInt(1),
	})
	require.NoError(t, err)
	return p
}

func TestEncodePath(t *testing.T) {
	builtin := map[string]tokens.Token{}
	for _, tok := range tokens.Builtin() {
		builtin[tok.Symbol] = tok
	}
	eth, weth, usdc, pump := builtin["ETH"], builtin["WETH"], builtin["USDC"], builtin["PUMP"]

	hops := []Hop{
		{Pool: testPool(t, pump, weth, pools.FeeHigh), TokenIn: pump, TokenOut: weth},
		{Pool: testPool(t, weth, usdc, pools.FeeLow), TokenIn: weth, TokenOut: usdc},
	}
	addr := func(tok tokens.Token) string { return hex.EncodeToString(tok.PoolAddress().Bytes()) }

	fwd, err := EncodePath(hops, false)
	require.NoError(t, err)
	assert.Equal(t, addr(pump)+"002710"+addr(weth)+"0001f4"+addr(usdc), hex.EncodeToString(fwd))

	rev, err := EncodePath(hops, true)
	require.NoError(t, err)
	assert.Equal(t, addr(usdc)+"0001f4"+addr(weth)+"002710"+addr(pump), hex.EncodeToString(rev))

	// the native asset is encoded as WETH
	single := []Hop{{Pool: testPool(t, weth, usdc, pools.FeeMedium), TokenIn: eth, TokenOut: usdc}}
	p, err := EncodePath(single, false)
	require.NoError(t, err)
	assert.Equal(t, addr(weth)+"000bb8"+addr(usdc), hex.EncodeToString(p))
}

func TestEncodePath_Invalid(t *testing.T) {
	_, err := EncodePath(nil, false)
	assert.ErrorIs(t, err, errEmptyRoute)

	builtin := tokens.Builtin()
	weth, usdc, pump := builtin[1], builtin[2], builtin[5]
	broken := []Hop{
		{Pool: testPool(t, pump, weth, pools.FeeHigh), TokenIn: pump, TokenOut: weth},
		{Pool: testPool(t, pump, usdc, pools.FeeHigh), TokenIn: pump, TokenOut: usdc},
	}
	_, err = EncodePath(broken, false)
	assert.Error(t, err)
}
