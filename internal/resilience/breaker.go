// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker implements a circuit breaker for one external dependency
// (GitHub, the LLM endpoint). It opens after maxFailures consecutive
// failures and rejects calls until timeout elapses. In half-open state a
// single trial call is let through.
type Breaker struct {
	name        string
	mu          sync.Mutex
	state       state
	failures    int
	probing     bool
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	isFailure   func(error) bool
	now         func() time.Time // for testing
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithFailurePredicate sets which errors count against the breaker.
// By default every non-nil error except context cancellation and
// permanent errors counts.
func WithFailurePredicate(fn func(error) bool) BreakerOption {
	return func(b *Breaker) { b.isFailure = fn }
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to half-open.
func NewBreaker(name string, maxFailures int, timeout time.Duration, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		isFailure:   defaultIsFailure,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func defaultIsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !IsPermanent(err)
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State reports the current state as "closed", "open" or "half_open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// Execute runs fn if the circuit is closed or a half-open trial call is allowed.
// Returns ErrCircuitOpen otherwise.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err != nil && b.isFailure(err) {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return err
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = stateHalfOpen
			b.probing = true
			return true
		}
		return false
	case stateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = stateClosed
}
