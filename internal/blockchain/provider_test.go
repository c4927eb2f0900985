package blockchain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoiLaboratories/BaseBuddy/internal/platform/resilience"
)

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"base rate limit code", &jsonRPCError{code: -32016, msg: "over rate limit"}, true},
		{"limit exceeded code", &jsonRPCError{code: -32005, msg: "limit exceeded"}, true},
		{"wrapped code", fmt.Errorf("call: %w", &jsonRPCError{code: -32016}), true},
		{"http 429", rpc.HTTPError{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}, true},
		{"http 502", rpc.HTTPError{StatusCode: http.StatusBadGateway}, false},
		{"other rpc code", &jsonRPCError{code: -32000, msg: "header not found"}, false},
		{"text only", errors.New("429 rate limit exceeded"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimited(tt.err))
		})
	}
}

func TestIsReverted(t *testing.T) {
	assert.True(t, IsReverted(&jsonRPCError{code: 3, msg: "execution reverted", data: "0x"}))
	assert.True(t, IsReverted(&jsonRPCError{code: -32000, msg: "execution reverted", data: "0x08c379a0"}))
	assert.False(t, IsReverted(&jsonRPCError{code: -32016, msg: "rate limited", data: "retry later"}))
	assert.False(t, IsReverted(errConnRefused))
	assert.True(t, IsContractAbsent(fmt.Errorf("x: %w", ErrUnexpectedOutput)))
}

func TestCall_RateLimitedThenSuccess(t *testing.T) {
	primary := newFakeBackend("primary")
	d := newFakeDialer(primary)
	p := newTestProvider(t, d, "primary")

	attempts := 0
	primary.setCall(func(ethereum.CallMsg) ([]byte, error) {
		attempts++
		if attempts <= 3 {
			return nil, &jsonRPCError{code: -32016, msg: "over rate limit"}
		}
		return []byte{0x01}, nil
	})

	start := time.Now()
	out, err := contractCall(context.Background(), p, "test", common.Address{}, nil,
		func(b []byte) ([]byte, error) { return b, nil })
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, out)
	assert.Equal(t, 4, attempts)

	// rate-limited backoff is base*attempt*2: 2ms + 4ms + 6ms
	assert.GreaterOrEqual(t, time.Since(start), 12*time.Millisecond)
	assert.Equal(t, 1, d.dialCount("primary"), "rate limits must not trigger a reconnect")
	assert.Equal(t, int64(3), p.limiter.RateLimitHits())
}

func TestNewProvider_StretchesRateLimitBackoffByDefault(t *testing.T) {
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		Endpoints: []string{"primary"},
		Dial:      newFakeDialer(newFakeBackend("primary")).dial,
		ChainID:   8453,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	p := NewProvider(pool, ProviderConfig{
		Retry: resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
	})
	assert.Equal(t, 2.0, p.retry.RateLimitMultiplier)
	assert.Equal(t, 2*p.retry.Backoff(1, resilience.ClassTransient), p.retry.Backoff(1, resilience.ClassRateLimited))
}

func TestCall_DeadlineDuringBackoffKeepsRateLimit(t *testing.T) {
	primary := newFakeBackend("primary")
	p := newTestProvider(t, newFakeDialer(primary), "primary")
	p.retry.BaseDelay = time.Hour

	primary.setCall(func(ethereum.CallMsg) ([]byte, error) {
		return nil, &jsonRPCError{code: -32016, msg: "over rate limit"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := contractCall(ctx, p, "test", common.Address{}, nil,
		func(b []byte) ([]byte, error) { return b, nil })
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsRateLimited(err), "the node's answer must survive the deadline")
}

func TestCall_ReconnectsWhenProbeFails(t *testing.T) {
	primary := newFakeBackend("primary")
	backup := newFakeBackend("backup")
	d := newFakeDialer(primary, backup)
	p := newTestProvider(t, d, "primary", "backup")

	primary.setCall(func(ethereum.CallMsg) ([]byte, error) {
		primary.setChainErr(errConnRefused)
		return nil, errConnRefused
	})
	backup.setCall(func(ethereum.CallMsg) ([]byte, error) {
		return []byte("backup"), nil
	})

	out, err := contractCall(context.Background(), p, "test", common.Address{}, nil,
		func(b []byte) (string, error) { return string(b), nil })
	require.NoError(t, err)
	assert.Equal(t, "backup", out)
	assert.Equal(t, "backup", p.Pool().Current().endpoint)

	require.Eventually(t, primary.closed.Load, time.Second, time.Millisecond,
		"replaced connection should be closed after the grace period")
	assert.False(t, backup.closed.Load())
}

func TestCall_TransientWithHealthyProbeKeepsConnection(t *testing.T) {
	primary := newFakeBackend("primary")
	d := newFakeDialer(primary)
	p := newTestProvider(t, d, "primary")

	attempts := 0
	primary.setCall(func(ethereum.CallMsg) ([]byte, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("unexpected EOF")
		}
		return []byte{0x02}, nil
	})

	_, err := contractCall(context.Background(), p, "test", common.Address{}, nil,
		func(b []byte) ([]byte, error) { return b, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, d.dialCount("primary"))
	assert.False(t, primary.closed.Load())
}

func TestCall_ExhaustedReturnsProviderError(t *testing.T) {
	primary := newFakeBackend("primary")
	p := newTestProvider(t, newFakeDialer(primary), "primary")

	primary.setCall(func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("unexpected EOF")
	})

	_, err := contractCall(context.Background(), p, "slot0", common.Address{}, nil,
		func(b []byte) ([]byte, error) { return b, nil })
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "slot0", perr.Op)
	assert.Equal(t, 4, perr.Attempts)
	assert.Contains(t, err.Error(), "unexpected EOF")
}

func TestCall_RevertIsNotRetried(t *testing.T) {
	primary := newFakeBackend("primary")
	p := newTestProvider(t, newFakeDialer(primary), "primary")

	primary.setCall(func(ethereum.CallMsg) ([]byte, error) {
		return nil, &jsonRPCError{code: 3, msg: "execution reverted", data: "0x"}
	})

	_, err := contractCall(context.Background(), p, "token0", common.Address{}, nil,
		func(b []byte) ([]byte, error) { return b, nil })
	require.Error(t, err)
	assert.True(t, IsReverted(err))
	assert.True(t, IsContractAbsent(err))
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestCall_EmptyOutputIsContractAbsent(t *testing.T) {
	primary := newFakeBackend("primary")
	p := newTestProvider(t, newFakeDialer(primary), "primary")

	primary.setCall(func(ethereum.CallMsg) ([]byte, error) { return []byte{}, nil })

	_, err := p.TokenDecimals(context.Background(), common.HexToAddress("0x01"))
	require.Error(t, err)
	assert.True(t, IsContractAbsent(err))
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestCall_CancelledContextStops(t *testing.T) {
	primary := newFakeBackend("primary")
	p := newTestProvider(t, newFakeDialer(primary), "primary")

	ctx, cancel := context.WithCancel(context.Background())
	primary.setCall(func(ethereum.CallMsg) ([]byte, error) {
		cancel()
		return nil, errors.New("unexpected EOF")
	})

	_, err := contractCall(ctx, p, "test", common.Address{}, nil,
		func(b []byte) ([]byte, error) { return b, nil })
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Attempts)
}
