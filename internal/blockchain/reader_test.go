package blockchain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testPool  = common.HexToAddress("0xFb53Fe0c27ABEF48602cCA25be1314D8f94Af9E6")
	testWETH  = common.HexToAddress("0x4200000000000000000000000000000000000006")
	testUSDC  = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	testOwner = common.HexToAddress("0x000000000000000000000000000000000000bEEF")
)

func mustOutputs(t *testing.T, contract abi.ABI, method string, values ...interface{}) []byte {
	t.Helper()
	out, err := contract.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

func selectorIs(data []byte, contract abi.ABI, method string) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], contract.Methods[method].ID)
}

func poolHandler(t *testing.T, sqrtPrice *big.Int, tick int64, liquidity *big.Int) func(ethereum.CallMsg) ([]byte, error) {
	return func(msg ethereum.CallMsg) ([]byte, error) {
		switch {
		case selectorIs(msg.Data, poolABI, "token0"):
			return mustOutputs(t, poolABI, "token0", testWETH), nil
		case selectorIs(msg.Data, poolABI, "token1"):
			return mustOutputs(t, poolABI, "token1", testUSDC), nil
		case selectorIs(msg.Data, poolABI, "fee"):
			return mustOutputs(t, poolABI, "fee", big.NewInt(500)), nil
		case selectorIs(msg.Data, poolABI, "liquidity"):
			return mustOutputs(t, poolABI, "liquidity", liquidity), nil
		case selectorIs(msg.Data, poolABI, "slot0"):
			return mustOutputs(t, poolABI, "slot0",
				sqrtPrice, big.NewInt(tick), uint16(7), uint16(100), uint16(100), uint8(0), true), nil
		}
		return nil, errors.New("unknown selector")
	}
}

func TestPoolState_DecodesAllFields(t *testing.T) {
	primary := newFakeBackend("primary")
	p := newTestProvider(t, newFakeDialer(primary), "primary")

	sqrtPrice, _ := new(big.Int).SetString("3961408125713216879677197", 10)
	liquidity, _ := new(big.Int).SetString("1234567890123456789", 10)
	primary.setCall(poolHandler(t, sqrtPrice, -197310, liquidity))

	state, err := p.PoolState(context.Background(), testPool)
	require.NoError(t, err)

	assert.Equal(t, testPool, state.Address)
	assert.Equal(t, testWETH, state.Token0)
	assert.Equal(t, testUSDC, state.Token1)
	assert.Equal(t, uint32(500), state.Fee)
	assert.Equal(t, int64(-197310), state.Tick)
	assert.Equal(t, 0, sqrtPrice.Cmp(state.SqrtPriceX96))
	assert.Equal(t, 0, liquidity.Cmp(state.Liquidity))
}

func TestPoolState_FailsWhenOneReadFails(t *testing.T) {
	primary := newFakeBackend("primary")
	p := newTestProvider(t, newFakeDialer(primary), "primary")

	ok := poolHandler(t, big.NewInt(1), 0, big.NewInt(1))
	primary.setCall(func(msg ethereum.CallMsg) ([]byte, error) {
		if selectorIs(msg.Data, poolABI, "liquidity") {
			return nil, &jsonRPCError{code: 3, msg: "execution reverted", data: "0x"}
		}
		return ok(msg)
	})

	_, err := p.PoolState(context.Background(), testPool)
	require.Error(t, err)
	assert.True(t, IsContractAbsent(err))
}

func TestTokenSymbol_StringAndBytes32(t *testing.T) {
	primary := newFakeBackend("primary")
	p := newTestProvider(t, newFakeDialer(primary), "primary")

	primary.setCall(func(ethereum.CallMsg) ([]byte, error) {
		return mustOutputs(t, erc20ABI, "symbol", "USDC"), nil
	})
	sym, err := p.TokenSymbol(context.Background(), testUSDC)
	require.NoError(t, err)
	assert.Equal(t, "USDC", sym)

	var raw [32]byte
	copy(raw[:], "MKR")
	primary.setCall(func(ethereum.CallMsg) ([]byte, error) {
		return mustOutputs(t, erc20Bytes32ABI, "symbol", raw), nil
	})
	sym, err = p.TokenSymbol(context.Background(), testUSDC)
	require.NoError(t, err)
	assert.Equal(t, "MKR", sym)
}

func TestTokenDecimals(t *testing.T) {
	primary := newFakeBackend("primary")
	p := newTestProvider(t, newFakeDialer(primary), "primary")

	primary.setCall(func(ethereum.CallMsg) ([]byte, error) {
		return mustOutputs(t, erc20ABI, "decimals", uint8(6)), nil
	})
	dec, err := p.TokenDecimals(context.Background(), testUSDC)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), dec)
}

func TestNativeBalanceAndCode(t *testing.T) {
	primary := newFakeBackend("primary")
	primary.balances[testOwner] = big.NewInt(42)
	primary.code[testPool] = []byte{0x60, 0x80}
	p := newTestProvider(t, newFakeDialer(primary), "primary")

	bal, err := p.NativeBalance(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal.Int64())

	code, err := p.CodeAt(context.Background(), testPool)
	require.NoError(t, err)
	assert.NotEmpty(t, code)

	code, err = p.CodeAt(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestTokenBalances_Multicall(t *testing.T) {
	primary := newFakeBackend("primary")
	p := newTestProvider(t, newFakeDialer(primary), "primary")

	primary.setCall(func(msg ethereum.CallMsg) ([]byte, error) {
		require.Equal(t, Multicall3Address, *msg.To)
		args, err := multicall3ABI.Methods["aggregate3"].Inputs.Unpack(msg.Data[4:])
		require.NoError(t, err)
		require.Len(t, args, 1)

		okData := mustOutputs(t, erc20ABI, "balanceOf", big.NewInt(5_000_000))
		return mustOutputs(t, multicall3ABI, "aggregate3", []MulticallResult{
			{Success: true, ReturnData: okData},
			{Success: false, ReturnData: nil},
		}), nil
	})

	balances, err := p.TokenBalances(context.Background(), testOwner, []common.Address{testUSDC, testWETH})
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, int64(5_000_000), balances[0].Int64())
	assert.Nil(t, balances[1])
	assert.Equal(t, int32(1), primary.calls.Load(), "all balances in one round trip")
}

func TestTokenBalances_FallsBackToSingleReads(t *testing.T) {
	primary := newFakeBackend("primary")
	p := newTestProvider(t, newFakeDialer(primary), "primary")

	primary.setCall(func(msg ethereum.CallMsg) ([]byte, error) {
		switch *msg.To {
		case Multicall3Address:
			return nil, &jsonRPCError{code: 3, msg: "execution reverted", data: "0x"}
		case testUSDC:
			return mustOutputs(t, erc20ABI, "balanceOf", big.NewInt(7)), nil
		default:
			return []byte{}, nil
		}
	})

	balances, err := p.TokenBalances(context.Background(), testOwner, []common.Address{testUSDC, testWETH})
	require.NoError(t, err)
	assert.Equal(t, int64(7), balances[0].Int64())
	assert.Nil(t, balances[1])
}
