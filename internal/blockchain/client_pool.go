package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
)

// Conn is one dialed connection. A Conn is never mutated after creation;
// reconnecting replaces the pool's active Conn instead.
type Conn struct {
	backend  Backend
	endpoint string
	index    int
}

// Backend returns the underlying client.
func (c *Conn) Backend() Backend { return c.backend }

// Endpoint returns the redacted endpoint this connection was dialed to.
func (c *Conn) Endpoint() string { return redactEndpoint(c.endpoint) }

// ClientPool holds the active RPC connection and fails over across an
// ordered list of endpoints. The first endpoint is primary.
type ClientPool struct {
	endpoints []string
	dial      Dialer
	chainID   *big.Int

	active  atomic.Pointer[Conn]
	healthy atomic.Bool

	logger         *observability.Logger
	metrics        *observability.Metrics
	healthInterval time.Duration
	probeTimeout   time.Duration
	closeGrace     time.Duration

	stop      chan struct{}
	stopOnce  sync.Once
	loopGroup sync.WaitGroup
}

// ClientPoolConfig holds client pool configuration
type ClientPoolConfig struct {
	Endpoints []string
	Dial      Dialer

	// ChainID, when set, must match what the node reports on probe.
	ChainID int64

	Logger         *observability.Logger
	Metrics        *observability.Metrics
	HealthInterval time.Duration
	ProbeTimeout   time.Duration
	// CloseGrace is how long a replaced connection stays open so that
	// in-flight calls can finish on it.
	CloseGrace time.Duration
}

// NewClientPool dials the first endpoint that accepts a connection. A node
// that dials but fails its first probe is still used; the pool starts out
// unhealthy and the retry layer fails over on demand.
func NewClientPool(ctx context.Context, cfg ClientPoolConfig) (*ClientPool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if cfg.Dial == nil {
		cfg.Dial = HTTPDialer(30 * time.Second)
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = 30 * time.Second
	}

	cp := &ClientPool{
		endpoints:      cfg.Endpoints,
		dial:           cfg.Dial,
		logger:         cfg.Logger.Component("client_pool"),
		metrics:        cfg.Metrics,
		healthInterval: cfg.HealthInterval,
		probeTimeout:   cfg.ProbeTimeout,
		closeGrace:     cfg.CloseGrace,
		stop:           make(chan struct{}),
	}
	if cfg.ChainID != 0 {
		cp.chainID = big.NewInt(cfg.ChainID)
	}

	var dialErrs []error
	for i, endpoint := range cfg.Endpoints {
		backend, err := cp.dial(ctx, endpoint)
		if err != nil {
			cp.logger.LogError(ctx, "failed to connect to RPC endpoint", err, "url", redactEndpoint(endpoint))
			dialErrs = append(dialErrs, err)
			continue
		}
		conn := &Conn{backend: backend, endpoint: endpoint, index: i}
		cp.active.Store(conn)

		if err := cp.Probe(ctx, conn); err != nil {
			cp.logger.LogWarn(ctx, "RPC endpoint connected but failed health probe",
				"url", conn.Endpoint(), "error", err.Error())
			cp.setHealthy(ctx, conn, false)
		} else {
			cp.setHealthy(ctx, conn, true)
			cp.logger.Info("connected to RPC endpoint", "url", conn.Endpoint())
		}
		return cp, nil
	}

	return nil, fmt.Errorf("no RPC endpoint could be dialed: %w", errors.Join(dialErrs...))
}

// Current returns the active connection. Callers load it once per attempt
// so a single attempt never mixes two connections.
func (cp *ClientPool) Current() *Conn {
	return cp.active.Load()
}

// Healthy reports whether the active connection answered its last probe.
func (cp *ClientPool) Healthy() bool {
	return cp.healthy.Load()
}

// Probe checks conn with a chain id request, the cheapest call that proves
// the node is reachable and on the right network.
func (cp *ClientPool) Probe(ctx context.Context, conn *Conn) error {
	probeCtx, cancel := context.WithTimeout(ctx, cp.probeTimeout)
	defer cancel()

	id, err := conn.backend.ChainID(probeCtx)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	if cp.chainID != nil && id.Cmp(cp.chainID) != 0 {
		return fmt.Errorf("health probe failed: node reports chain %s, expected %s", id, cp.chainID)
	}
	return nil
}

// Reconnect replaces stale with a fresh connection, trying the endpoints
// after stale's in order and wrapping around to stale's own endpoint last.
// If another caller already replaced stale, the current connection is
// returned unchanged. Dialing happens without any lock held; the swap is a
// compare-and-swap so concurrent reconnects cannot both win.
func (cp *ClientPool) Reconnect(ctx context.Context, stale *Conn) (*Conn, error) {
	if cur := cp.active.Load(); cur != stale {
		return cur, nil
	}

	n := len(cp.endpoints)
	var errs []error
	for step := 1; step <= n; step++ {
		idx := (stale.index + step) % n
		endpoint := cp.endpoints[idx]

		backend, err := cp.dial(ctx, endpoint)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fresh := &Conn{backend: backend, endpoint: endpoint, index: idx}

		if !cp.active.CompareAndSwap(stale, fresh) {
			backend.Close()
			return cp.active.Load(), nil
		}

		cp.retire(stale)
		cp.metrics.RecordReconnect(ctx, fresh.Endpoint())
		cp.logger.LogWarn(ctx, "replaced RPC connection",
			"from", stale.Endpoint(),
			"to", fresh.Endpoint(),
		)
		return fresh, nil
	}

	return stale, fmt.Errorf("reconnect failed: %w", errors.Join(errs...))
}

// retire closes a replaced connection after the grace period.
func (cp *ClientPool) retire(conn *Conn) {
	time.AfterFunc(cp.closeGrace, conn.backend.Close)
}

// StartHealthChecks probes the active connection every interval and
// reconnects when the probe fails. It returns immediately.
func (cp *ClientPool) StartHealthChecks(ctx context.Context) {
	cp.loopGroup.Add(1)
	go func() {
		defer cp.loopGroup.Done()

		ticker := time.NewTicker(cp.healthInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-cp.stop:
				return
			case <-ticker.C:
				cp.CheckHealth(ctx)
			}
		}
	}()
}

// CheckHealth runs one probe of the active connection, reconnecting on
// failure. It reports whether the pool ends up healthy.
func (cp *ClientPool) CheckHealth(ctx context.Context) bool {
	conn := cp.Current()
	err := cp.Probe(ctx, conn)
	if err == nil {
		cp.setHealthy(ctx, conn, true)
		return true
	}
	if ctx.Err() != nil {
		return cp.Healthy()
	}

	cp.setHealthy(ctx, conn, false)
	fresh, rerr := cp.Reconnect(ctx, conn)
	if rerr != nil {
		cp.logger.LogError(ctx, "RPC reconnect failed", rerr, "url", conn.Endpoint())
		return false
	}
	if perr := cp.Probe(ctx, fresh); perr != nil {
		cp.setHealthy(ctx, fresh, false)
		return false
	}
	cp.setHealthy(ctx, fresh, true)
	return true
}

func (cp *ClientPool) setHealthy(ctx context.Context, conn *Conn, healthy bool) {
	was := cp.healthy.Swap(healthy)
	if was != healthy {
		if healthy {
			cp.logger.Info("RPC endpoint is now healthy", "url", conn.Endpoint())
		} else {
			cp.logger.LogWarn(ctx, "marking RPC endpoint as unhealthy", "url", conn.Endpoint())
		}
	}
	cp.metrics.RecordRPCEndpointHealth(ctx, conn.Endpoint(), healthy)
}

// Close stops the health loop and closes the active connection.
func (cp *ClientPool) Close() {
	cp.stopOnce.Do(func() {
		close(cp.stop)
		cp.loopGroup.Wait()
		if conn := cp.active.Load(); conn != nil {
			conn.backend.Close()
		}
		cp.logger.Info("closed RPC client connection")
	})
}

// redactEndpoint drops the path and query of an endpoint URL, where
// providers put API keys.
func redactEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "invalid-endpoint"
	}
	return u.Scheme + "://" + u.Host
}
