package pipeline

import (
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/modelmux/modelmux/common/logger"
	"github.com/modelmux/modelmux/common/metrics"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	// StateClosed allows all calls through.
	StateClosed BreakerState = iota
	// StateOpen rejects all calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a single probe call after the cooldown.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s BreakerState) String() string {
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

// CircuitBreaker is a per-adapter, process-wide failure gate. After
// failureThreshold consecutive failures it opens for the cooldown duration;
// while open, calls are rejected without touching the network. The first call
// after the cooldown runs as a half-open probe: success closes the breaker,
// failure re-opens it.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	cooldown         time.Duration

	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool

	// now is swappable for tests.
	now func() time.Time
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(name string, failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            StateClosed,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// false until the cooldown elapses, then transitions to half-open and admits
// exactly one probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.consecutiveFailures = 0
	cb.probing = false
}

// RecordFailure counts a failure; on reaching the threshold, or on any
// half-open probe failure, the breaker opens.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.probing = false

	if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
		cb.setState(StateOpen)
		cb.openedAt = cb.now()
		logger.Logger.Warn("circuit breaker opened",
			zap.String("provider", cb.name),
			zap.Int("consecutive_failures", cb.consecutiveFailures),
			zap.Duration("cooldown", cb.cooldown))
	}
}

// AbortProbe ends a half-open probe without recording an outcome. The
// breaker stays half-open so the next caller may probe again.
func (cb *CircuitBreaker) AbortProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// setState records the transition; callers hold cb.mu.
func (cb *CircuitBreaker) setState(to BreakerState) {
	if cb.state == to {
		return
	}
	metrics.GlobalRecorder.RecordBreakerTransition(cb.name, cb.state.String(), to.String())
	cb.state = to
}

// State returns the current breaker state without side effects.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the owning adapter's name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}
