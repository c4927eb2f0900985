package blockchain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientPool_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   ClientPoolConfig
		errorMsg string
	}{
		{
			name:     "empty endpoints",
			config:   ClientPoolConfig{},
			errorMsg: "at least one RPC endpoint is required",
		},
		{
			name: "nothing dials",
			config: ClientPoolConfig{
				Endpoints: []string{"a", "b"},
				Dial:      newFakeDialer().dial,
			},
			errorMsg: "no RPC endpoint could be dialed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClientPool(context.Background(), tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestNewClientPool_SkipsUndialableEndpoint(t *testing.T) {
	backup := newFakeBackend("backup")
	d := newFakeDialer(backup)
	d.failing["primary"] = true

	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		Endpoints: []string{"primary", "backup"},
		Dial:      d.dial,
	})
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, "backup", pool.Current().endpoint)
	assert.True(t, pool.Healthy())
}

func TestNewClientPool_UnhealthyWhenFirstProbeFails(t *testing.T) {
	primary := newFakeBackend("primary")
	primary.setChainErr(errConnRefused)

	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		Endpoints: []string{"primary"},
		Dial:      newFakeDialer(primary).dial,
	})
	require.NoError(t, err)
	defer pool.Close()

	assert.False(t, pool.Healthy())
}

func TestProbe_ChainIDMismatch(t *testing.T) {
	primary := newFakeBackend("primary")
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		Endpoints: []string{"primary"},
		Dial:      newFakeDialer(primary).dial,
		ChainID:   1,
	})
	require.NoError(t, err)
	defer pool.Close()

	err = pool.Probe(context.Background(), pool.Current())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1")
	assert.False(t, pool.Healthy())
}

func TestReconnect_WrapsAroundToSameEndpoint(t *testing.T) {
	primary := newFakeBackend("primary")
	d := newFakeDialer(primary)
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		Endpoints:  []string{"primary"},
		Dial:       d.dial,
		CloseGrace: time.Hour,
	})
	require.NoError(t, err)
	defer pool.Close()

	stale := pool.Current()
	fresh, err := pool.Reconnect(context.Background(), stale)
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
	assert.Equal(t, 2, d.dialCount("primary"))
}

func TestReconnect_StaleAlreadyReplaced(t *testing.T) {
	primary := newFakeBackend("primary")
	backup := newFakeBackend("backup")
	d := newFakeDialer(primary, backup)
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		Endpoints:  []string{"primary", "backup"},
		Dial:       d.dial,
		CloseGrace: time.Hour,
	})
	require.NoError(t, err)
	defer pool.Close()

	stale := pool.Current()
	first, err := pool.Reconnect(context.Background(), stale)
	require.NoError(t, err)

	second, err := pool.Reconnect(context.Background(), stale)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, d.dialCount("backup"))
}

func TestReconnect_ConcurrentCallersAgree(t *testing.T) {
	primary := newFakeBackend("primary")
	backup := newFakeBackend("backup")
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		Endpoints:  []string{"primary", "backup"},
		Dial:       newFakeDialer(primary, backup).dial,
		CloseGrace: time.Hour,
	})
	require.NoError(t, err)
	defer pool.Close()

	stale := pool.Current()
	results := make([]*Conn, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := pool.Reconnect(context.Background(), stale)
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range results {
		assert.Same(t, pool.Current(), c)
	}
}

func TestCheckHealth_FailsOverAndRecovers(t *testing.T) {
	primary := newFakeBackend("primary")
	backup := newFakeBackend("backup")
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		Endpoints:  []string{"primary", "backup"},
		Dial:       newFakeDialer(primary, backup).dial,
		CloseGrace: time.Millisecond,
	})
	require.NoError(t, err)
	defer pool.Close()

	assert.True(t, pool.CheckHealth(context.Background()))

	primary.setChainErr(errConnRefused)
	assert.True(t, pool.CheckHealth(context.Background()))
	assert.Equal(t, "backup", pool.Current().endpoint)
	require.Eventually(t, primary.closed.Load, time.Second, time.Millisecond)
}

func TestStartHealthChecks_StopsOnClose(t *testing.T) {
	primary := newFakeBackend("primary")
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		Endpoints:      []string{"primary"},
		Dial:           newFakeDialer(primary).dial,
		HealthInterval: time.Millisecond,
	})
	require.NoError(t, err)

	pool.StartHealthChecks(context.Background())
	time.Sleep(5 * time.Millisecond)
	pool.Close()
	pool.Close()

	assert.True(t, primary.closed.Load())
}

func TestRedactEndpoint(t *testing.T) {
	assert.Equal(t, "https://base-mainnet.g.alchemy.com", redactEndpoint("https://base-mainnet.g.alchemy.com/v2/secret-key"))
	assert.Equal(t, "wss://mainnet.base.org", redactEndpoint("wss://mainnet.base.org"))
	assert.Equal(t, "invalid-endpoint", redactEndpoint("primary"))
}
