package client

import (
	"errors"
	"sync"
	"time"

	"transaction-api/internal/config"
)

// CircuitState is the breaker's position.
type CircuitState int32

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen reports a call rejected without reaching the wire.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker is a count-based breaker: outcomes of the last
// windowSize calls decide the failure rate. Once minimumCalls outcomes
// are recorded and the rate reaches the threshold the breaker opens;
// after the open wait it admits a bounded probe cohort, and the cohort's
// outcome closes or reopens it.
type CircuitBreaker struct {
	name                 string
	windowSize           int
	minimumCalls         int
	failureRateThreshold float64
	openWait             time.Duration
	halfOpenMaxCalls     int

	mu                sync.Mutex
	state             CircuitState
	outcomes          []bool // ring buffer, true marks a failure
	head              int
	recorded          int
	failures          int
	openedAt          time.Time
	halfOpenInFlight  int
	halfOpenSuccesses int

	onStateChange func(from, to CircuitState)
	now           func() time.Time
}

func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:                 name,
		windowSize:           cfg.SlidingWindowSize,
		minimumCalls:         cfg.MinimumNumberOfCalls,
		failureRateThreshold: cfg.FailureRateThreshold,
		openWait:             cfg.WaitDurationInOpenState,
		halfOpenMaxCalls:     cfg.HalfOpenMaxCalls,
		outcomes:             make([]bool, cfg.SlidingWindowSize),
		now:                  time.Now,
	}
}

// OnStateChange registers a listener for transitions. Must be set before
// the breaker is shared.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to CircuitState)) {
	cb.onStateChange = fn
}

// Allow reports whether a call may proceed. In the open state it returns
// ErrCircuitOpen until the open wait elapses, then shifts to half-open and
// admits up to halfOpenMaxCalls probes.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.openWait {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenInFlight = 1
		cb.halfOpenSuccesses = 0
		return nil
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.halfOpenMaxCalls {
			return ErrCircuitOpen
		}
		cb.halfOpenInFlight++
		return nil
	}
	return nil
}

// RecordSuccess feeds a successful outcome back into the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.record(false)
	case StateHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.halfOpenMaxCalls {
			cb.reset()
			cb.transition(StateClosed)
		}
	case StateOpen:
		// Late result from a call admitted before opening; ignore.
	}
}

// RecordFailure feeds a failed outcome back into the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.record(true)
		if cb.recorded >= cb.minimumCalls && cb.failureRate() >= cb.failureRateThreshold {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe sends the breaker straight back to open.
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
	case StateOpen:
	}
}

// State returns the current position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RetryAfter estimates how long callers should wait before the breaker
// will admit calls again. Zero when the breaker is not open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.openWait - cb.now().Sub(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (cb *CircuitBreaker) record(failure bool) {
	if cb.recorded == cb.windowSize {
		// Overwrite the oldest outcome.
		if cb.outcomes[cb.head] {
			cb.failures--
		}
	} else {
		cb.recorded++
	}
	cb.outcomes[cb.head] = failure
	if failure {
		cb.failures++
	}
	cb.head = (cb.head + 1) % cb.windowSize
}

func (cb *CircuitBreaker) failureRate() float64 {
	if cb.recorded == 0 {
		return 0
	}
	return float64(cb.failures) / float64(cb.recorded) * 100
}

func (cb *CircuitBreaker) reset() {
	for i := range cb.outcomes {
		cb.outcomes[i] = false
	}
	cb.head = 0
	cb.recorded = 0
	cb.failures = 0
	cb.halfOpenInFlight = 0
	cb.halfOpenSuccesses = 0
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
