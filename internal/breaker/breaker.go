// Package breaker guards flaky upstream HTTP sources (Coinglass) so a failing
// primary is skipped quickly in favour of its fallback.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("breaker: circuit open")

// State represents the breaker state.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // tripped, calls rejected until the cool-off elapses
	StateHalfOpen              // one probe call allowed through
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

// Breaker opens after maxFailures consecutive failures and rejects calls for
// coolOff. The first call after the cool-off is the only probe: success
// closes the breaker, failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	name        string
	state       State
	failures    int
	maxFailures int
	coolOff     time.Duration
	lastFailure time.Time

	now func() time.Time

	// OnStateChange is called on every transition (optional). It runs under
	// the breaker's lock and must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// New creates a closed breaker.
func New(name string, maxFailures int, coolOff time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		coolOff:     coolOff,
		now:         time.Now,
	}
}

// Name returns the guarded dependency's name.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the breaker is open. While a half-open probe is in
// flight every other caller is rejected.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.coolOff {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
	}
	b.mu.Unlock()

	// a panicking fn counts as a failure
	finished := false
	defer func() {
		if !finished {
			b.record(errPanicked)
		}
	}()
	err := fn()
	finished = true
	b.record(err)
	return err
}

var errPanicked = errors.New("breaker: call panicked")

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.transition(StateOpen)
		}
		return
	}

	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(b.name, from, to)
	}
}
