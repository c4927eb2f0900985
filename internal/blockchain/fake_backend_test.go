package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/RoiLaboratories/BaseBuddy/internal/platform/resilience"
)

var errConnRefused = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")

// jsonRPCError mimics the error type go-ethereum's rpc client returns for
// JSON-RPC error responses.
type jsonRPCError struct {
	code int
	msg  string
	data interface{}
}

func (e *jsonRPCError) Error() string          { return e.msg }
func (e *jsonRPCError) ErrorCode() int         { return e.code }
func (e *jsonRPCError) ErrorData() interface{} { return e.data }

type fakeBackend struct {
	name string

	mu       sync.Mutex
	callFn   func(msg ethereum.CallMsg) ([]byte, error)
	code     map[common.Address][]byte
	balances map[common.Address]*big.Int
	chainErr error

	calls  atomic.Int32
	closed atomic.Bool
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{
		name:     name,
		code:     make(map[common.Address][]byte),
		balances: make(map[common.Address]*big.Int),
	}
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	fn := f.callFn
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("%s: no contract handler", f.name)
	}
	return fn(msg)
}

func (f *fakeBackend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[account], nil
}

func (f *fakeBackend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return big.NewInt(8453), nil
}

func (f *fakeBackend) Close() { f.closed.Store(true) }

func (f *fakeBackend) setCall(fn func(msg ethereum.CallMsg) ([]byte, error)) {
	f.mu.Lock()
	f.callFn = fn
	f.mu.Unlock()
}

func (f *fakeBackend) setChainErr(err error) {
	f.mu.Lock()
	f.chainErr = err
	f.mu.Unlock()
}

// fakeDialer hands out one backend per endpoint name and counts dials.
type fakeDialer struct {
	mu       sync.Mutex
	backends map[string]*fakeBackend
	failing  map[string]bool
	dials    map[string]int
}

func newFakeDialer(backends ...*fakeBackend) *fakeDialer {
	d := &fakeDialer{
		backends: make(map[string]*fakeBackend),
		failing:  make(map[string]bool),
		dials:    make(map[string]int),
	}
	for _, b := range backends {
		d.backends[b.name] = b
	}
	return d
}

func (d *fakeDialer) dial(_ context.Context, endpoint string) (Backend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[endpoint]++
	if d.failing[endpoint] {
		return nil, errConnRefused
	}
	b, ok := d.backends[endpoint]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint %s", endpoint)
	}
	return b, nil
}

func (d *fakeDialer) dialCount(endpoint string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[endpoint]
}

func newTestProvider(t *testing.T, d *fakeDialer, endpoints ...string) *Provider {
	t.Helper()
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		Endpoints:  endpoints,
		Dial:       d.dial,
		ChainID:    8453,
		CloseGrace: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewProvider(pool, ProviderConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts:         4,
			BaseDelay:           time.Millisecond,
			RateLimitMultiplier: 2,
		},
		RequestTimeout: time.Second,
		Limiter:        resilience.AdaptiveLimiterConfig{BaseRate: 10000, MinRate: 1000, Burst: 100},
		Breaker:        resilience.CircuitBreakerConfig{FailureThreshold: 100},
	})
}
