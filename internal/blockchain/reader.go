package blockchain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// Reader is the chain access the core depends on. *Provider implements it.
type Reader interface {
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	PoolState(ctx context.Context, pool common.Address) (*PoolState, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	TokenSymbol(ctx context.Context, token common.Address) (string, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	// TokenBalances returns one entry per token; an entry is nil when that
	// token's read failed.
	TokenBalances(ctx context.Context, owner common.Address, tokens []common.Address) ([]*big.Int, error)
	Health(ctx context.Context) error
}

var _ Reader = (*Provider)(nil)

// PoolState is a snapshot of a concentrated-liquidity pool's current range.
type PoolState struct {
	Address      common.Address
	Token0       common.Address
	Token1       common.Address
	Fee          uint32
	SqrtPriceX96 *big.Int
	Tick         int64
	Liquidity    *big.Int
}

// CodeAt returns the deployed bytecode at addr, empty for an EOA.
func (p *Provider) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return Call(ctx, p, "code_at", func(ctx context.Context, b Backend) ([]byte, error) {
		return b.CodeAt(ctx, addr, nil)
	})
}

// NativeBalance returns the ETH balance of owner in wei.
func (p *Provider) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return Call(ctx, p, "native_balance", func(ctx context.Context, b Backend) (*big.Int, error) {
		return b.BalanceAt(ctx, owner, nil)
	})
}

// contractCall performs an eth_call and decodes the result inside the
// retried function, so decode failures are classified with the call.
func contractCall[T any](ctx context.Context, p *Provider, op string, to common.Address, data []byte, decode func([]byte) (T, error)) (T, error) {
	return Call(ctx, p, op, func(ctx context.Context, b Backend) (T, error) {
		out, err := b.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			var zero T
			return zero, err
		}
		return decode(out)
	})
}

func mustPack(method string, pack func(string, ...interface{}) ([]byte, error), args ...interface{}) []byte {
	data, err := pack(method, args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", method, err))
	}
	return data
}

func unpackSingle[T any](method string, unpack func(string, []byte) ([]interface{}, error), data []byte) (T, error) {
	var zero T
	out, err := unpack(method, data)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrUnexpectedOutput, method, err)
	}
	if len(out) == 0 {
		return zero, fmt.Errorf("%w: %s returned nothing", ErrUnexpectedOutput, method)
	}
	v, ok := out[0].(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s returned %T", ErrUnexpectedOutput, method, out[0])
	}
	return v, nil
}

// PoolState reads token0, token1, fee, slot0 and liquidity concurrently.
// Any failed read fails the whole snapshot.
func (p *Provider) PoolState(ctx context.Context, pool common.Address) (*PoolState, error) {
	state := &PoolState{Address: pool}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr, err := contractCall(gctx, p, "pool_token0", pool, mustPack("token0", poolABI.Pack),
			func(b []byte) (common.Address, error) { return unpackSingle[common.Address]("token0", poolABI.Unpack, b) })
		state.Token0 = addr
		return err
	})
	g.Go(func() error {
		addr, err := contractCall(gctx, p, "pool_token1", pool, mustPack("token1", poolABI.Pack),
			func(b []byte) (common.Address, error) { return unpackSingle[common.Address]("token1", poolABI.Unpack, b) })
		state.Token1 = addr
		return err
	})
	g.Go(func() error {
		fee, err := contractCall(gctx, p, "pool_fee", pool, mustPack("fee", poolABI.Pack),
			func(b []byte) (*big.Int, error) { return unpackSingle[*big.Int]("fee", poolABI.Unpack, b) })
		if err == nil {
			state.Fee = uint32(fee.Uint64())
		}
		return err
	})
	g.Go(func() error {
		_, err := contractCall(gctx, p, "pool_slot0", pool, mustPack("slot0", poolABI.Pack),
			func(b []byte) (struct{}, error) { return struct{}{}, decodeSlot0(b, state) })
		return err
	})
	g.Go(func() error {
		liq, err := contractCall(gctx, p, "pool_liquidity", pool, mustPack("liquidity", poolABI.Pack),
			func(b []byte) (*big.Int, error) { return unpackSingle[*big.Int]("liquidity", poolABI.Unpack, b) })
		state.Liquidity = liq
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("read pool state %s: %w", pool.Hex(), err)
	}
	return state, nil
}

func decodeSlot0(data []byte, state *PoolState) error {
	out, err := poolABI.Unpack("slot0", data)
	if err != nil {
		return fmt.Errorf("%w: slot0: %v", ErrUnexpectedOutput, err)
	}
	if len(out) < 2 {
		return fmt.Errorf("%w: slot0 returned %d values", ErrUnexpectedOutput, len(out))
	}
	sqrtPrice, ok1 := out[0].(*big.Int)
	tick, ok2 := out[1].(*big.Int)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: slot0 returned %T, %T", ErrUnexpectedOutput, out[0], out[1])
	}
	state.SqrtPriceX96 = sqrtPrice
	state.Tick = tick.Int64()
	return nil
}

// TokenDecimals reads decimals() from an ERC-20.
func (p *Provider) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	return contractCall(ctx, p, "erc20_decimals", token, mustPack("decimals", erc20ABI.Pack),
		func(b []byte) (uint8, error) { return unpackSingle[uint8]("decimals", erc20ABI.Unpack, b) })
}

// TokenSymbol reads symbol() from an ERC-20, accepting both the string and
// the legacy bytes32 return type.
func (p *Provider) TokenSymbol(ctx context.Context, token common.Address) (string, error) {
	return contractCall(ctx, p, "erc20_symbol", token, mustPack("symbol", erc20ABI.Pack), decodeSymbol)
}

func decodeSymbol(data []byte) (string, error) {
	if s, err := unpackSingle[string]("symbol", erc20ABI.Unpack, data); err == nil {
		return strings.TrimSpace(s), nil
	}
	raw, err := unpackSingle[[32]byte]("symbol", erc20Bytes32ABI.Unpack, data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(bytes.TrimRight(raw[:], "\x00"))), nil
}

// BalanceOf reads an ERC-20 balance.
func (p *Provider) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return contractCall(ctx, p, "erc20_balance_of", token, packBalanceOf(owner),
		func(b []byte) (*big.Int, error) { return unpackSingle[*big.Int]("balanceOf", erc20ABI.Unpack, b) })
}
