package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	// RPC metrics
	RPCCalls          metric.Int64Counter
	RPCDuration       metric.Float64Histogram
	RPCRetries        metric.Int64Counter
	RPCReconnects     metric.Int64Counter
	RPCEndpointHealth metric.Int64Gauge

	// Quote metrics
	Quotes        metric.Int64Counter
	QuoteDuration metric.Float64Histogram

	// Pool resolution metrics
	PoolLookups metric.Int64Counter

	// Price metrics
	PriceFallbacks metric.Int64Counter
	ETHPriceUSD    metric.Float64Gauge

	// Balance metrics
	BalanceReads metric.Int64Counter

	// Cache metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Error metrics
	Errors metric.Int64Counter
}

// NewMetrics creates a new Metrics instance. When disabled the instruments
// come from the noop meter so callers never need nil checks.
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		m := &Metrics{meter: noop.NewMeterProvider().Meter(serviceName)}
		if err := m.initMetrics(); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		return m, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		provider: provider,
	}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

func (m *Metrics) initMetrics() error {
	var err error

	if m.RPCCalls, err = m.meter.Int64Counter(
		"basebuddy.rpc.calls",
		metric.WithDescription("RPC calls by operation and status"),
	); err != nil {
		return err
	}
	if m.RPCDuration, err = m.meter.Float64Histogram(
		"basebuddy.rpc.duration",
		metric.WithDescription("RPC call duration including retries"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}
	if m.RPCRetries, err = m.meter.Int64Counter(
		"basebuddy.rpc.retries",
		metric.WithDescription("RPC retries by operation and failure class"),
	); err != nil {
		return err
	}
	if m.RPCReconnects, err = m.meter.Int64Counter(
		"basebuddy.rpc.reconnects",
		metric.WithDescription("Connection replacements after failed health probes"),
	); err != nil {
		return err
	}
	if m.RPCEndpointHealth, err = m.meter.Int64Gauge(
		"basebuddy.rpc.endpoint.health",
		metric.WithDescription("1 when the active endpoint answered its last probe"),
	); err != nil {
		return err
	}

	if m.Quotes, err = m.meter.Int64Counter(
		"basebuddy.quotes",
		metric.WithDescription("Quotes by direction, hop count and outcome"),
	); err != nil {
		return err
	}
	if m.QuoteDuration, err = m.meter.Float64Histogram(
		"basebuddy.quote.duration",
		metric.WithDescription("Quote computation latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}

	if m.PoolLookups, err = m.meter.Int64Counter(
		"basebuddy.pool.lookups",
		metric.WithDescription("Pool resolutions by source (known, derived, miss)"),
	); err != nil {
		return err
	}

	if m.PriceFallbacks, err = m.meter.Int64Counter(
		"basebuddy.price.fallbacks",
		metric.WithDescription("Native price derivations that left the primary pool"),
	); err != nil {
		return err
	}
	if m.ETHPriceUSD, err = m.meter.Float64Gauge(
		"basebuddy.eth.price.usd",
		metric.WithDescription("Last derived ETH price in USD"),
	); err != nil {
		return err
	}

	if m.BalanceReads, err = m.meter.Int64Counter(
		"basebuddy.balance.reads",
		metric.WithDescription("Wallet balance aggregations by outcome"),
	); err != nil {
		return err
	}

	if m.CacheHits, err = m.meter.Int64Counter(
		"basebuddy.cache.hits",
		metric.WithDescription("Cache hits by layer"),
	); err != nil {
		return err
	}
	if m.CacheMisses, err = m.meter.Int64Counter(
		"basebuddy.cache.misses",
		metric.WithDescription("Cache misses by layer"),
	); err != nil {
		return err
	}

	if m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"basebuddy.circuit_breaker.state",
		metric.WithDescription("0 = closed, 1 = open, 2 = half-open"),
	); err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"basebuddy.errors",
		metric.WithDescription("Errors by type"),
	)
	return err
}

// RecordRPCCall records one logical RPC call (all attempts included).
func (m *Metrics) RecordRPCCall(ctx context.Context, op string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	m.RPCCalls.Add(ctx, 1, attrs)
	m.RPCDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordRPCRetry records a retry of op after a failure of the given class.
func (m *Metrics) RecordRPCRetry(ctx context.Context, op, class string) {
	if m == nil {
		return
	}
	m.RPCRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("class", class),
	))
}

// RecordReconnect records a connection replacement.
func (m *Metrics) RecordReconnect(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.RPCReconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordRPCEndpointHealth records RPC endpoint health status
func (m *Metrics) RecordRPCEndpointHealth(ctx context.Context, endpoint string, healthy bool) {
	if m == nil {
		return
	}
	val := int64(0)
	if healthy {
		val = 1
	}
	m.RPCEndpointHealth.Record(ctx, val, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordQuote records a finished quote request.
func (m *Metrics) RecordQuote(ctx context.Context, direction string, hops int, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.Int("hops", hops),
		attribute.String("outcome", outcome),
	)
	m.Quotes.Add(ctx, 1, attrs)
	m.QuoteDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordPoolLookup records where a pool came from: "known", "derived" or "miss".
func (m *Metrics) RecordPoolLookup(ctx context.Context, source string, fee uint32) {
	if m == nil {
		return
	}
	m.PoolLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Int64("fee_tier", int64(fee)),
	))
}

// RecordPriceFallback records that the native price came from stage
// ("cbeth" or "constant").
func (m *Metrics) RecordPriceFallback(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.PriceFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordETHPrice records the current ETH price in USD
func (m *Metrics) RecordETHPrice(ctx context.Context, priceUSD float64) {
	if m == nil {
		return
	}
	m.ETHPriceUSD.Record(ctx, priceUSD)
}

// RecordBalanceRead records a wallet aggregation and how many tokens it kept.
func (m *Metrics) RecordBalanceRead(ctx context.Context, success bool, entries int) {
	if m == nil {
		return
	}
	m.BalanceReads.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.Int("entries", entries),
	))
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(ctx context.Context, layer string) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(ctx context.Context, layer string) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// SetCircuitBreakerState sets circuit breaker state
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Handler returns the HTTP handler for Prometheus metrics. The OTel
// exporter registers with the default Prometheus registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
