// Package api serves the quoting engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
	"github.com/RoiLaboratories/BaseBuddy/internal/portfolio"
	"github.com/RoiLaboratories/BaseBuddy/internal/pricing"
	"github.com/RoiLaboratories/BaseBuddy/internal/swap"
	"github.com/RoiLaboratories/BaseBuddy/internal/tokens"
)

// TokenResolver resolves a symbol or address.
type TokenResolver interface {
	Resolve(ctx context.Context, input string) (tokens.Token, error)
}

// Quoter computes swap quotes.
type Quoter interface {
	QuoteExactInput(ctx context.Context, tokenIn, tokenOut, amountIn string, slippagePct float64) (*swap.Quote, error)
	QuoteExactOutput(ctx context.Context, tokenIn, tokenOut, amountOut, maxAmountIn string, slippagePct float64) (*swap.Quote, error)
}

// PriceOracle prices tokens and reports native price health.
type PriceOracle interface {
	PriceOf(ctx context.Context, t tokens.Token) (float64, error)
	Health() pricing.OracleHealth
}

// BalanceAggregator reads wallets.
type BalanceAggregator interface {
	AllBalances(ctx context.Context, owner common.Address) (*portfolio.Portfolio, error)
}

// HealthChecker probes the chain connection.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Config configures a Server.
type Config struct {
	Tokens   TokenResolver
	Quotes   Quoter
	Prices   PriceOracle
	Balances BalanceAggregator
	Chain    HealthChecker

	// DefaultSlippage applies when a quote request has no slippage.
	DefaultSlippage float64
	// RequestTimeout bounds every handler. Zero means 30s.
	RequestTimeout time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server holds the HTTP handlers.
type Server struct {
	cfg    Config
	logger *observability.Logger
}

// NewServer creates a server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{cfg: cfg, logger: cfg.Logger.Component("api")}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/tokens/{token}", s.handleToken)
	mux.HandleFunc("GET /v1/quote", s.handleQuote)
	mux.HandleFunc("GET /v1/price/{token}", s.handlePrice)
	mux.HandleFunc("GET /v1/balances/{address}", s.handleBalances)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", s.cfg.Metrics.Handler())

	return s.withLogging(mux)
}

// NewHTTPServer wraps Handler in an http.Server.
func (s *Server) NewHTTPServer(addr string, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.logger.LogDebug(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
