package redis

import (
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker state. The numeric values are exported
// to the breaker state gauge, so they must stay stable.
type State int

const (
	StateClosed   State = 0 // writes pass through to Redis
	StateOpen     State = 1 // writes rejected immediately, results buffer in memory
	StateHalfOpen State = 2 // one probe write in flight
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

// ErrCircuitOpen is returned when the breaker rejects a call without
// attempting Redis.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards Redis writes so a broker outage cannot stall
// scan cycles. After maxFailures consecutive write errors it opens and
// rejects calls for resetTimeout; the rejected results are buffered by
// the caller. The first call after the timeout becomes a probe: while
// it is in flight every other caller is still rejected, so the two
// writer goroutines cannot both hammer a recovering broker. A
// successful probe closes the breaker, a failed one reopens it.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	probing      bool

	// OnStateChange, if set, is called under the breaker lock on every
	// transition. Keep it fast and never call back into Execute.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a breaker that opens after maxFailures
// consecutive errors and probes again after resetTimeout.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker admits the call, and feeds the result
// back into the failure count. Returns ErrCircuitOpen without running
// fn when the call is rejected.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

// allow decides admission and performs the open to half-open
// transition when the reset timeout has elapsed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailure) <= cb.resetTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
		return true
	case StateHalfOpen:
		// A probe is already in flight.
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return false
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		switch {
		case cb.state == StateHalfOpen:
			cb.transition(StateOpen)
		case cb.state == StateClosed && cb.failures >= cb.maxFailures:
			cb.transition(StateOpen)
		}
		return
	}

	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	cb.failures = 0
}

// CurrentState returns the current breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == StateHalfOpen {
		cb.probing = false
	}
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
