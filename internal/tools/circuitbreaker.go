package tools

import (
	"sync"
	"time"
)

// State is a circuit breaker state (spec §4.8).
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// CircuitConfig configures a CircuitBreaker. Zero values fall back to
// DefaultCircuitConfig.
type CircuitConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	OperationTimeout time.Duration
	OnStateChange    func(from, to State)
}

// DefaultCircuitConfig returns sane defaults.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		OperationTimeout: 30 * time.Second,
	}
}

func (c CircuitConfig) withDefaults() CircuitConfig {
	d := DefaultCircuitConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	return c
}

// CircuitBreaker guards a single tool's calls. It opens after
// FailureThreshold consecutive failures, moves to half-open after
// RecoveryTimeout, and closes again after SuccessThreshold consecutive
// successes while half-open. A single failure while half-open reopens
// it immediately.
type CircuitBreaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int
	operationTimeout time.Duration
	onStateChange    func(from, to State)

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
}

// NewCircuitBreaker constructs a CircuitBreaker in the closed state.
func NewCircuitBreaker(cfg CircuitConfig) *CircuitBreaker {
	cfg = cfg.withDefaults()
	return &CircuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		successThreshold: cfg.SuccessThreshold,
		operationTimeout: cfg.OperationTimeout,
		onStateChange:    cfg.OnStateChange,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed, transitioning open->half-open
// when RecoveryTimeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.recoveryTimeout {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess registers a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.successThreshold {
			cb.transition(StateClosed)
			cb.consecutiveSuccesses = 0
		}
	}
}

// RecordFailure registers a failed call, opening the breaker when
// FailureThreshold consecutive failures accumulate, or immediately if
// already half-open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveSuccesses = 0
	if cb.state == StateHalfOpen {
		cb.transition(StateOpen)
		cb.openedAt = time.Now()
		return
	}
	cb.consecutiveFailures++
	if cb.consecutiveFailures >= cb.failureThreshold {
		cb.transition(StateOpen)
		cb.openedAt = time.Now()
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
