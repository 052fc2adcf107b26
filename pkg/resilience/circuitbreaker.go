// Package resilience provides fault-tolerance primitives for source API
// calls: a circuit breaker, bounded exponential-backoff retry that honours
// server-advertised waits, and a deadline wrapper for whole fetches.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen matches every *OpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker phase. The numeric values are exported as the
// circuit_breaker_state gauge.
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

// OpenError is returned without calling the protected function while the
// breaker is open or its half-open probe is in flight.
type OpenError struct {
	Name string
	Wait time.Duration
}

func (e *OpenError) Error() string {
	if e.Wait > 0 {
		return fmt.Sprintf("%s: circuit open, next probe in %s", e.Name, e.Wait.Round(time.Millisecond))
	}
	return e.Name + ": circuit open, probe in flight"
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// CircuitBreakerConfig controls when the breaker trips and how long it
// stays open. IsFailure decides which errors count; nil counts all.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	IsFailure        func(error) bool
	OnStateChange    func(name string, state State)
}

// CircuitBreaker opens after FailureThreshold consecutive counted failures.
// Once ResetTimeout has passed it lets exactly one probe through; the
// probe's outcome closes or reopens it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// Execute runs fn unless the breaker is open. fn's error is returned
// unchanged whether or not it counted as a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err != nil && cb.cfg.IsFailure(err))
	return err
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		elapsed := cb.now().Sub(cb.openedAt)
		if elapsed < cb.cfg.ResetTimeout {
			return &OpenError{Name: cb.name, Wait: cb.cfg.ResetTimeout - elapsed}
		}
		cb.setState(StateHalfOpen)
		cb.probing = true
		cb.logger.Info("circuit half-open, probing", "after", cb.cfg.ResetTimeout)
	case StateHalfOpen:
		if cb.probing {
			return &OpenError{Name: cb.name}
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.probing = false
		if failed {
			cb.trip()
			cb.logger.Warn("circuit re-opened, probe failed")
			return
		}
		cb.failures = 0
		cb.setState(StateClosed)
		cb.logger.Info("circuit closed")
		return
	}
	if !failed {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold {
		cb.trip()
		cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures)
	}
}

// trip must be called with cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.setState(StateOpen)
}

// Reset closes the breaker and clears its failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	cb.setState(StateClosed)
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, s)
	}
}
