package utils

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreaker states
const (
	StateClosed   = "closed"   // Normal operation
	StateOpen     = "open"     // Requests fail fast
	StateHalfOpen = "halfopen" // One trial request allowed
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	RecoveryTimeout  time.Duration // Wait before allowing a trial call
	SuccessThreshold int           // Successes in half-open needed to close

	// OnStateChange is called with the new state after every transition
	OnStateChange func(state string)
}

// CircuitBreaker guards calls to a flaky remote service
type CircuitBreaker struct {
	config    CircuitBreakerConfig
	state     string
	failures  int
	successes int
	openedAt  time.Time
	mutex     sync.Mutex
	now       func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)

	// A cancelled caller says nothing about the remote service
	if err != nil && ctx.Err() != nil {
		return err
	}

	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mutex.Lock()
	prev := cb.state

	allowed := true
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.config.RecoveryTimeout {
			allowed = false
		} else {
			cb.state = StateHalfOpen
			cb.successes = 0
		}
	}

	state := cb.state
	cb.mutex.Unlock()

	cb.notify(prev, state)
	return allowed
}

func (cb *CircuitBreaker) record(err error) {
	cb.mutex.Lock()
	prev := cb.state

	if err != nil {
		cb.failures++
		cb.successes = 0

		if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	} else {
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
		}
	}

	state := cb.state
	cb.mutex.Unlock()

	cb.notify(prev, state)
}

func (cb *CircuitBreaker) notify(prev, state string) {
	if prev != state && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(state)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() string {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	prev := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.mutex.Unlock()

	cb.notify(prev, StateClosed)
}
