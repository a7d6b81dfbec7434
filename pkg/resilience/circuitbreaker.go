// Package resilience provides a circuit breaker for calls to the vehicle API.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripping, reject calls
	StateHalfOpen              // allowing a probe call
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

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before entering half-open.
	Timeout time.Duration
	// HalfOpenMax is the number of probe calls allowed in half-open state.
	HalfOpenMax int
	// Counts reports whether an error counts as a failure. Nil counts every
	// non-nil error. Errors it rejects are returned but leave the breaker alone.
	Counts func(error) bool
	// OnStateChange is called with the lock released after every transition.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts provides sensible defaults.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker implements a circuit breaker with closed/open/half-open states.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOpts
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
	now           func() time.Time // for testing
}

// NewBreaker creates a circuit breaker with the given options.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	st, changed := b.refresh()
	b.mu.Unlock()
	b.notify(changed)
	return st
}

// refresh moves open→half-open once the timeout has elapsed. Must hold mu.
func (b *Breaker) refresh() (State, *[2]State) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		return b.state, b.transition(StateHalfOpen)
	}
	return b.state, nil
}

// transition sets the new state and returns the change for notify. Must hold mu.
func (b *Breaker) transition(to State) *[2]State {
	from := b.state
	b.state = to
	b.failures = 0
	b.halfOpenCount = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if from == to {
		return nil
	}
	return &[2]State{from, to}
}

func (b *Breaker) notify(changes ...*[2]State) {
	if b.opts.OnStateChange == nil {
		return
	}
	for _, c := range changes {
		if c != nil {
			b.opts.OnStateChange(c[0], c[1])
		}
	}
}

// Call executes f through the circuit breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	st, probe := b.refresh()
	switch st {
	case StateOpen:
		b.mu.Unlock()
		b.notify(probe)
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCount >= b.opts.HalfOpenMax {
			b.mu.Unlock()
			b.notify(probe)
			return ErrCircuitOpen
		}
		b.halfOpenCount++
	}
	b.mu.Unlock()
	b.notify(probe)

	err := f(ctx)

	b.mu.Lock()
	var changed *[2]State
	switch {
	case err != nil && (b.opts.Counts == nil || b.opts.Counts(err)):
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			changed = b.transition(StateOpen)
		}
	case b.state == StateHalfOpen:
		changed = b.transition(StateClosed)
	default:
		b.failures = 0
	}
	b.mu.Unlock()
	b.notify(changed)
	return err
}
