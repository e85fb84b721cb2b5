package providerlimit

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// StateClosed indicates the circuit is closed and calls are admitted.
	// This is the normal operating state.
	StateClosed CircuitState = iota

	// StateOpen indicates the circuit is open due to consecutive failures.
	// All calls are rejected until the open timeout elapses.
	StateOpen

	// StateHalfOpen indicates the circuit is testing recovery.
	// Calls are admitted; a run of successes closes the circuit, any
	// failure reopens it.
	StateHalfOpen
)

// String returns a string representation of the circuit state.
func (s CircuitState) String() string {
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

// CircuitBreaker is a per-provider three-state failure detector.
//
// The breaker rejects calls to a provider after FailureThreshold consecutive
// failures, waits OpenTimeout, then admits trial calls until SuccessThreshold
// consecutive successes close it again. The Open to HalfOpen transition
// happens lazily inside CanProceed, so the breaker needs no background timer.
//
// Unlike a fail-open breaker guarding an internal dependency, this one
// fails closed: an open circuit rejects calls, because the point is to stop
// hammering a provider that is already failing.
type CircuitBreaker struct {
	provider string
	config   CircuitBreakerConfig
	clock    Clock
	metrics  Metrics

	mu            sync.Mutex
	state         CircuitState
	failureCount  int
	successCount  int
	lastFailureAt time.Time
}

// NewCircuitBreaker creates a breaker for the named provider.
//
// Zero config fields take the documented defaults. If clock is nil, the
// system clock is used; if metrics is nil, metrics are discarded.
func NewCircuitBreaker(provider string, config CircuitBreakerConfig, clock Clock, metrics Metrics) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 60 * time.Second
	}
	if clock == nil {
		clock = &SystemClock{}
	}
	if metrics == nil {
		metrics = NewNoOpMetrics()
	}

	cb := &CircuitBreaker{
		provider: provider,
		config:   config,
		clock:    clock,
		metrics:  metrics,
		state:    StateClosed,
	}

	metrics.RecordCircuitState(provider, cb.state.String())

	return cb
}

// CanProceed reports whether a call to the provider should be admitted.
//
// This is the sole admission query. When the circuit is open and the open
// timeout has elapsed, CanProceed performs the lazy transition to half-open
// as a side effect and admits the call as a recovery trial.
func (cb *CircuitBreaker) CanProceed() bool {
	if !cb.config.Enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.clock.Now().Sub(cb.lastFailureAt) >= cb.config.OpenTimeout {
			cb.transition(StateHalfOpen)
			cb.successCount = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess records a successful provider call.
//
// In the closed state a single success fully resets the failure count
// (no gradual decay). In the half-open state successes accumulate toward
// SuccessThreshold, which closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

// RecordFailure records a failed provider call.
//
// In the closed state failures accumulate toward FailureThreshold, which
// opens the circuit. In the half-open state a single failure reopens it and
// the full open timeout restarts.
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++

	switch cb.state {
	case StateClosed:
		cb.lastFailureAt = cb.clock.Now()
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.lastFailureAt = cb.clock.Now()
		cb.transition(StateOpen)
	case StateOpen:
		// A straggler from a call admitted before the circuit opened.
		// Counted, but the reopen clock stays anchored to the failure
		// that opened the circuit.
	}
}

// State returns the current circuit state without side effects.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerStats is a snapshot of breaker internals for monitoring.
type CircuitBreakerStats struct {
	State         CircuitState
	FailureCount  int
	SuccessCount  int
	LastFailureAt time.Time
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		State:         cb.state,
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		LastFailureAt: cb.lastFailureAt,
	}
}

// transition moves the breaker to a new state, recording and logging the
// change.
//
// Must be called while holding the lock.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to

	cb.metrics.RecordCircuitState(cb.provider, to.String())

	slog.Warn("circuit breaker state changed",
		slog.String("provider", cb.provider),
		slog.String("previous_state", from.String()),
		slog.String("new_state", to.String()),
		slog.Int("failure_count", cb.failureCount),
		slog.Duration("open_timeout", cb.config.OpenTimeout),
	)
}
