package pools

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoiLaboratories/BaseBuddy/internal/blockchain"
	"github.com/RoiLaboratories/BaseBuddy/internal/blockchain/chaintest"
)

var (
	wethUSDC500  = common.HexToAddress("0xd0b53D9277642d899DF5C87A3966A349A798F224")
	wethUSDC3000 = common.HexToAddress("0x6c561B446416E1A00E8E93E221854d6eA4171372")
	pumpCurated  = common.HexToAddress("0x47eDbFC8E489eD5C7eb2b7b8E7a5e32dc2Aec515")
)

func wethUSDCState(addr common.Address, fee uint32, liquidity int64) blockchain.PoolState {
	return blockchain.PoolState{
		Address:      addr,
		Token0:       weth.Address,
		Token1:       usdc.Address,
		Fee:          fee,
		SqrtPriceX96: new(big.Int).Set(sqrtPrice2500),
		Tick:         -197310,
		Liquidity:    big.NewInt(liquidity),
	}
}

func pumpWETHState(addr common.Address, fee uint32, liquidity int64) blockchain.PoolState {
	t0, t1 := SortTokens(pump.Address, weth.Address)
	return blockchain.PoolState{
		Address:      addr,
		Token0:       t0,
		Token1:       t1,
		Fee:          fee,
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96),
		Liquidity:    big.NewInt(liquidity),
	}
}

func TestFindPool_FirstTierWithLiquidity(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddPool(wethUSDCState(wethUSDC500, 500, 0))
	chain.AddPool(wethUSDCState(wethUSDC3000, 3000, 1_000_000))
	r := NewResolver(Config{Reader: chain})

	p, err := r.FindPool(context.Background(), weth, usdc)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, wethUSDC3000, p.Address)
	assert.Equal(t, FeeMedium, p.Fee)
}

func TestFindPool_OrderIndependent(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddPool(wethUSDCState(wethUSDC500, 500, 1_000_000))
	r := NewResolver(Config{Reader: chain})

	ab, err := r.FindPool(context.Background(), weth, usdc)
	require.NoError(t, err)
	ba, err := r.FindPool(context.Background(), usdc, weth)
	require.NoError(t, err)
	require.NotNil(t, ab)
	assert.Equal(t, ab, ba)

	// the native asset looks up through WETH
	native, err := r.FindPool(context.Background(), usdc, eth)
	require.NoError(t, err)
	assert.Equal(t, ab, native)
}

func TestFindPool_MissIsNotAnError(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddPool(wethUSDCState(wethUSDC500, 500, 0))
	r := NewResolver(Config{Reader: chain})

	p, err := r.FindPool(context.Background(), weth, usdc)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, len(DefaultFeeTiers), chain.Calls("CodeAt"))
}

func TestFindPool_NonPoolContractIsSkipped(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddPool(wethUSDCState(wethUSDC500, 500, 1_000_000))
	chain.AddPool(wethUSDCState(wethUSDC3000, 3000, 1_000_000))
	chain.Fail("PoolState:"+wethUSDC500.Hex(), chaintest.ErrNotContract)
	r := NewResolver(Config{Reader: chain})

	p, err := r.FindPool(context.Background(), weth, usdc)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, wethUSDC3000, p.Address)
}

func TestFindPool_TransientErrorPropagates(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddPool(wethUSDCState(wethUSDC500, 500, 1_000_000))
	chain.Fail("PoolState", chaintest.ErrRPCDown)
	r := NewResolver(Config{Reader: chain})

	p, err := r.FindPool(context.Background(), weth, usdc)
	assert.Nil(t, p)
	require.Error(t, err)
	var perr *blockchain.ProviderError
	assert.True(t, errors.As(err, &perr))
}

func TestFindPool_IdenticalTokens(t *testing.T) {
	r := NewResolver(Config{Reader: chaintest.NewReader()})
	_, err := r.FindPool(context.Background(), eth, weth)
	assert.ErrorIs(t, err, ErrIdenticalTokens)
}

func TestFindPool_CuratedPoolOnChainFeeWins(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddPool(pumpWETHState(pumpCurated, 3000, 1_000_000))
	r := NewResolver(Config{Reader: chain})

	p, err := r.FindPool(context.Background(), pump, eth)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, pumpCurated, p.Address)
	assert.Equal(t, FeeMedium, p.Fee)
	assert.Equal(t, 1, chain.Calls("PoolState"), "derivation is not attempted")
}

func TestFindPool_CuratedZeroLiquidityFallsThrough(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddPool(pumpWETHState(pumpCurated, 10000, 0))
	derived := ComputePoolAddress(DefaultFactory, DefaultInitCodeHash, pump.Address, weth.Address, FeeMedium)
	chain.AddPool(pumpWETHState(derived, 3000, 42))
	r := NewResolver(Config{Reader: chain})

	p, err := r.FindPool(context.Background(), weth, pump)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, derived, p.Address)
}

func TestFindPool_CuratedWrongTokensRejected(t *testing.T) {
	chain := chaintest.NewReader()
	state := wethUSDCState(pumpCurated, 10000, 1_000_000)
	chain.AddPool(state)
	r := NewResolver(Config{Reader: chain})

	p, err := r.FindPool(context.Background(), pump, weth)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFindPool_CustomKnownPoolsDisabled(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddPool(pumpWETHState(pumpCurated, 10000, 1_000_000))
	r := NewResolver(Config{Reader: chain, KnownPools: []KnownPool{}})

	p, err := r.FindPool(context.Background(), pump, weth)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFindPoolWithFee(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddPool(wethUSDCState(wethUSDC500, 500, 1_000_000))
	chain.AddPool(wethUSDCState(wethUSDC3000, 3000, 1_000_000))
	r := NewResolver(Config{Reader: chain})

	p, err := r.FindPoolWithFee(context.Background(), usdc, weth, FeeMedium)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, wethUSDC3000, p.Address)

	// an empty tier falls back to the ordinary search
	p, err = r.FindPoolWithFee(context.Background(), usdc, weth, FeeHigh)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, wethUSDC500, p.Address)
}

func TestLoadPool(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddPool(wethUSDCState(wethUSDC500, 500, 7))
	r := NewResolver(Config{Reader: chain})

	p, err := r.LoadPool(context.Background(), wethUSDC500)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "7", p.Liquidity.String())

	p, err = r.LoadPool(context.Background(), common.HexToAddress("0xdead"))
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFindPool_Cancelled(t *testing.T) {
	chain := chaintest.NewReader()
	r := NewResolver(Config{Reader: chain})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.FindPool(ctx, weth, usdc)
	assert.ErrorIs(t, err, context.Canceled)
}
