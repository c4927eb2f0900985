// Package chaintest provides an in-memory blockchain.Reader for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/RoiLaboratories/BaseBuddy/internal/blockchain"
)

// ErrNotContract is what the fake returns for ERC-20 reads on an address it
// has no metadata for.
var ErrNotContract = fmt.Errorf("chaintest: %w", blockchain.ErrUnexpectedOutput)

// Reader is a concurrency-safe fake chain. Zero value is not usable; call
// NewReader.
type Reader struct {
	mu       sync.Mutex
	code     map[common.Address][]byte
	pools    map[common.Address]blockchain.PoolState
	decimals map[common.Address]uint8
	symbols  map[common.Address]string
	balances map[common.Address]map[common.Address]*big.Int
	native   map[common.Address]*big.Int
	failures map[string]error
	calls    map[string]int
}

var _ blockchain.Reader = (*Reader)(nil)

// NewReader returns an empty fake chain.
func NewReader() *Reader {
	return &Reader{
		code:     make(map[common.Address][]byte),
		pools:    make(map[common.Address]blockchain.PoolState),
		decimals: make(map[common.Address]uint8),
		symbols:  make(map[common.Address]string),
		balances: make(map[common.Address]map[common.Address]*big.Int),
		native:   make(map[common.Address]*big.Int),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// AddPool deploys a pool at state.Address.
func (r *Reader) AddPool(state blockchain.PoolState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code[state.Address] = []byte{0x60, 0x80, 0x60, 0x40}
	r.pools[state.Address] = state
}

// AddToken deploys an ERC-20 with the given metadata.
func (r *Reader) AddToken(addr common.Address, symbol string, decimals uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code[addr] = []byte{0x60, 0x80}
	r.symbols[addr] = symbol
	r.decimals[addr] = decimals
}

// SetBalance sets owner's balance of token.
func (r *Reader) SetBalance(token, owner common.Address, amount *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances[token] == nil {
		r.balances[token] = make(map[common.Address]*big.Int)
	}
	r.balances[token][owner] = amount
}

// SetNativeBalance sets owner's ETH balance.
func (r *Reader) SetNativeBalance(owner common.Address, amount *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.native[owner] = amount
}

// Fail makes every call of op return err until cleared with a nil err.
// Ops are named after the Reader methods, e.g. "PoolState". A key of the
// form "PoolState:0x..." fails only that address.
func (r *Reader) Fail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

// Calls returns how many times op was invoked.
func (r *Reader) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *Reader) enter(ctx context.Context, op string, addr common.Address) error {
	r.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := r.failures[op+":"+addr.Hex()]; ok {
		return err
	}
	if err, ok := r.failures[op]; ok {
		return err
	}
	return nil
}

func (r *Reader) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, "CodeAt", addr); err != nil {
		return nil, err
	}
	return r.code[addr], nil
}

func (r *Reader) PoolState(ctx context.Context, pool common.Address) (*blockchain.PoolState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, "PoolState", pool); err != nil {
		return nil, err
	}
	state, ok := r.pools[pool]
	if !ok {
		return nil, fmt.Errorf("read pool state %s: %w", pool.Hex(), ErrNotContract)
	}
	state.SqrtPriceX96 = new(big.Int).Set(state.SqrtPriceX96)
	state.Liquidity = new(big.Int).Set(state.Liquidity)
	return &state, nil
}

func (r *Reader) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, "TokenDecimals", token); err != nil {
		return 0, err
	}
	d, ok := r.decimals[token]
	if !ok {
		return 0, ErrNotContract
	}
	return d, nil
}

func (r *Reader) TokenSymbol(ctx context.Context, token common.Address) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, "TokenSymbol", token); err != nil {
		return "", err
	}
	s, ok := r.symbols[token]
	if !ok {
		return "", ErrNotContract
	}
	return s, nil
}

func (r *Reader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, "BalanceOf", token); err != nil {
		return nil, err
	}
	return r.balanceLocked(token, owner), nil
}

func (r *Reader) balanceLocked(token, owner common.Address) *big.Int {
	if b, ok := r.balances[token][owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (r *Reader) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, "NativeBalance", owner); err != nil {
		return nil, err
	}
	if b, ok := r.native[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// TokenBalances fails as a whole only on a "TokenBalances" failure; a
// "BalanceOf:<token>" failure leaves that entry nil.
func (r *Reader) TokenBalances(ctx context.Context, owner common.Address, tokens []common.Address) ([]*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(ctx, "TokenBalances", owner); err != nil {
		return nil, err
	}
	out := make([]*big.Int, len(tokens))
	for i, token := range tokens {
		if _, failed := r.failures["BalanceOf:"+token.Hex()]; failed {
			continue
		}
		out[i] = r.balanceLocked(token, owner)
	}
	return out, nil
}

func (r *Reader) Health(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enter(ctx, "Health", common.Address{})
}

// ErrRPCDown is a convenience transient failure.
var ErrRPCDown = &blockchain.ProviderError{Op: "eth_call", Attempts: 3, Err: errors.New("connection refused")}
