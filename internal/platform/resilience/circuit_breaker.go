package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// State represents circuit breaker state
type State int

const (
	// StateClosed allows all requests
	StateClosed State = iota
	// StateOpen rejects all requests
	StateOpen
	// StateHalfOpen allows limited requests to test recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // successes in half-open before closing
	Timeout          time.Duration // open -> half-open delay

	// Counts reports whether err should count against the breaker.
	// Reverted calls are answers from a healthy node, not outages.
	Counts        func(err error) bool
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker guards the RPC node against hammering while it is down.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// ExecuteWithResult runs fn through the breaker.
// Go doesn't allow generic methods, hence the free function.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.Allow(); err != nil {
		return zero, err
	}
	res, err := fn(ctx)
	cb.Record(err)
	return res, err
}

// Allow reports whether a request may proceed, moving an expired open
// breaker to half-open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}
	return nil
}

// Record feeds the outcome of a request back into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.counts(err) {
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.successes = 0
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) counts(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if cb.cfg.Counts != nil {
		return cb.cfg.Counts(err)
	}
	return true
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns circuit breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.successes = 0
	cb.transition(StateClosed)
}
