package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
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

type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	// HalfOpenMaxRequests caps trial calls let through after ResetTimeout.
	HalfOpenMaxRequests int
	// IsFailure decides whether an error counts against the dependency.
	// Nil counts every error except caller cancellation.
	IsFailure func(err error) bool
	// OnStateChange runs with the breaker's lock held and must not call
	// back into the breaker.
	OnStateChange func(name string, to State)
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

func defaultCBConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// countsAgainstDependency treats a caller giving up as the caller's problem,
// not the backend's.
func countsAgainstDependency(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// BreakerStatus is a point-in-time view of a breaker, for status pages.
type BreakerStatus struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Rejected            int64     `json:"rejected"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
	rejected            int64
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	defaults := defaultCBConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaults.ResetTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = defaults.HalfOpenMaxRequests
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAgainstDependency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn unless the breaker is rejecting calls. fn's error is
// returned as is; only errors IsFailure accepts move the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := BreakerStatus{
		Name:                cb.name,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		Rejected:            cb.rejected,
	}
	if cb.state != StateClosed {
		st.OpenedAt = cb.openedAt
	}
	return st
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.cfg.Now().Sub(cb.openedAt)
		if wait > 0 {
			cb.rejected++
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenInFlight = 1
		cb.logger.Info("circuit half-open, letting a trial call through")
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxRequests {
			cb.rejected++
			return fmt.Errorf("%w: %s (trial call in flight)", ErrCircuitOpen, cb.name)
		}
		cb.halfOpenInFlight++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
	if err != nil && !cb.cfg.IsFailure(err) {
		return
	}
	if err == nil {
		if cb.state == StateHalfOpen {
			cb.logger.Info("circuit closed, dependency recovered", "rejected_while_open", cb.rejected)
		}
		cb.consecutiveFailures = 0
		cb.transition(StateClosed)
		return
	}

	cb.consecutiveFailures++
	switch {
	case cb.state == StateHalfOpen:
		cb.openedAt = cb.cfg.Now()
		cb.transition(StateOpen)
		cb.logger.Warn("circuit re-opened, trial call failed", "error", err)
	case cb.state == StateClosed && cb.consecutiveFailures >= cb.cfg.FailureThreshold:
		cb.openedAt = cb.cfg.Now()
		cb.transition(StateOpen)
		cb.logger.Warn("circuit opened", "consecutive_failures", cb.consecutiveFailures, "error", err)
	}
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.halfOpenInFlight = 0
	cb.rejected = 0
	cb.transition(StateClosed)
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
