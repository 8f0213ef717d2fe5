// Package circuit provides a circuit breaker that stops a failing sink from
// being called on every mined block.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/blockmine/pkg/errors"
)

// ErrOpen is returned without calling the protected function while the
// breaker is open.
var ErrOpen = errors.New(errors.ErrorTypeInternal, "circuit_breaker", "circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed State = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit allows probe requests to test recovery
	StateHalfOpen
)

// String returns string representation of the state
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

// Config holds circuit breaker configuration
type Config struct {
	MaxFailures     int           // Consecutive-window failures before opening
	SuccessRequired int           // Successful probes required to close from half-open
	Timeout         time.Duration // How long to stay open before probing
	ResetTimeout    time.Duration // How often the closed-state failure count is cleared

	// OnStateChange, when set, is called after every transition while the
	// breaker lock is not held.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name   string
	config *Config
	now    func() time.Time
	mutex  sync.RWMutex

	state         State
	failures      int
	successes     int
	rejected      int64
	lastFailTime  time.Time
	lastResetTime time.Time
}

// New creates a circuit breaker. name identifies the protected sink in
// errors and state change callbacks.
func New(name string, config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}

	b := &Breaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
	b.lastResetTime = b.now()
	return b
}

// Name returns the breaker name.
func (cb *Breaker) Name() string {
	return cb.name
}

// Execute runs fn with circuit breaker protection. A canceled context is
// not counted as a failure of the protected sink.
func (cb *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteWithResult(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteWithResult runs fn with circuit breaker protection and returns its result.
func ExecuteWithResult[T any](ctx context.Context, cb *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	if !cb.allowRequest() {
		return zero, errors.Wrap(ErrOpen, errors.ErrorTypeInternal, "circuit_breaker", "request rejected").
			WithContext("breaker", cb.name).
			WithContext("state", cb.GetState().String())
	}

	result, err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		return result, err
	}

	cb.recordResult(err)
	return result, err
}

// allowRequest determines if a request should be allowed based on current state
func (cb *Breaker) allowRequest() bool {
	cb.mutex.Lock()
	now := cb.now()

	var allowed bool
	from := cb.state
	switch cb.state {
	case StateClosed:
		if now.Sub(cb.lastResetTime) > cb.config.ResetTimeout {
			cb.failures = 0
			cb.lastResetTime = now
		}
		allowed = true

	case StateOpen:
		if now.Sub(cb.lastFailTime) > cb.config.Timeout {
			cb.state = StateHalfOpen
			cb.successes = 0
			allowed = true
		} else {
			cb.rejected++
		}

	case StateHalfOpen:
		allowed = true
	}
	to := cb.state
	cb.mutex.Unlock()

	cb.transitioned(from, to)
	return allowed
}

// recordResult records the result of a function execution
func (cb *Breaker) recordResult(err error) {
	cb.mutex.Lock()
	from := cb.state

	if err != nil {
		cb.failures++
		cb.lastFailTime = cb.now()

		if cb.state == StateClosed && cb.failures >= cb.config.MaxFailures {
			cb.state = StateOpen
			cb.successes = 0
		} else if cb.state == StateHalfOpen {
			cb.state = StateOpen
			cb.successes = 0
		}
	} else {
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessRequired {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
			cb.lastResetTime = cb.now()
		}
	}

	to := cb.state
	cb.mutex.Unlock()

	cb.transitioned(from, to)
}

func (cb *Breaker) transitioned(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *Breaker) GetState() State {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *Breaker) GetStats() Stats {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return Stats{
		State:        cb.state,
		Failures:     cb.failures,
		Successes:    cb.successes,
		Rejected:     cb.rejected,
		LastFailTime: cb.lastFailTime,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	State        State
	Failures     int
	Successes    int
	Rejected     int64
	LastFailTime time.Time
}

// Reset manually resets the circuit breaker to closed state
func (cb *Breaker) Reset() {
	cb.mutex.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.lastResetTime = cb.now()
	cb.mutex.Unlock()

	cb.transitioned(from, StateClosed)
}
