// Package resilience holds reliability primitives for calls that leave
// the process.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	stClosed breakerState = iota
	stOpen
	stHalfOpen
)

// Breaker trips after a run of consecutive failures and rejects calls
// until a cooldown elapses. The first call admitted after the cooldown
// is a probe: its outcome alone decides whether the breaker closes
// again or re-trips.
type Breaker struct {
	mu        sync.Mutex
	st        breakerState
	failures  int
	limit     int
	cooldown  time.Duration
	trippedAt time.Time
	now       func() time.Time // for testing
}

// NewBreaker creates a breaker that trips after maxFailures consecutive
// failures and admits a probe once cooldown has passed.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		limit:    maxFailures,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Execute runs fn unless the breaker is open, and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}

	err := fn()
	b.record(err)
	return err
}

// admit decides whether a call may proceed, flipping open to half-open
// once the cooldown has elapsed.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == stOpen {
		if b.now().Sub(b.trippedAt) < b.cooldown {
			return false
		}
		b.st = stHalfOpen
	}
	return true
}

// record folds a call outcome into the state machine. Any success closes
// the breaker; a failed probe or the limit-th consecutive failure trips it.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.st = stClosed
		return
	}

	b.failures++
	if b.st == stHalfOpen || b.failures >= b.limit {
		b.st = stOpen
		b.trippedAt = b.now()
	}
}

// State reports the breaker position for logs and health output.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case stOpen:
		return "open"
	case stHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
