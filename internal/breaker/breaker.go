// Package breaker implements the three-state circuit breaker the check
// waiter uses to stop hammering a flaky VCS API: closed (normal),
// open(since) (suppressing calls), half_open (probing).
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// ErrOpen is returned by Allow when the breaker is open and the reset
// window has not yet elapsed.
var ErrOpen = errors.New("breaker: circuit open")

// Breaker is a per-instance failure-count gate. It is not safe to share
// across independent logical resources — the check waiter constructs one
// per wait loop.
type Breaker struct {
	mu           sync.Mutex
	threshold    int
	resetTimeout time.Duration
	failures     int
	state        State
	openedAt     time.Time
}

// New returns a Breaker that opens after threshold consecutive failures and
// attempts a half-open probe after resetTimeout.
func New(threshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        Closed,
	}
}

// State returns the breaker's current state, resolving open->half_open if
// the reset window has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == Open && time.Since(b.openedAt) >= b.resetTimeout {
		return HalfOpen
	}
	return b.state
}

// Allow reports whether a call may proceed, returning ErrOpen if the
// breaker is tripped and still within its reset window.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked() {
	case Open:
		return ErrOpen
	case HalfOpen:
		b.state = HalfOpen
		return nil
	default:
		return nil
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = Closed
}

// RecordFailure increments the failure count; once it reaches threshold
// (or a half-open probe fails), the breaker opens for resetTimeout.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stateLocked() == HalfOpen {
		b.openCircuit()
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.openCircuit()
	}
}

func (b *Breaker) openCircuit() {
	b.state = Open
	b.openedAt = time.Now()
	b.failures = 0
}

// Do runs fn if the breaker allows it, recording the outcome. It returns
// ErrOpen without calling fn when the circuit is open.
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
