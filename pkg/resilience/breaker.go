// Package resilience provides the circuit breaker and token bucket used to
// protect calls to the embedding provider and the HTTP query surface.
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
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// ErrCircuitOpen is returned without invoking the wrapped call while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker. Zero fields take DefaultBreakerOpts.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before letting probes through.
	Cooldown time.Duration
	// HalfOpenMax is the number of concurrent probes allowed while half-open.
	HalfOpenMax int
	// OnStateChange, if set, is called after every transition.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts trips after five straight failures and probes again
// after thirty seconds.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Cooldown:      30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker is a closed/open/half-open circuit breaker. Context cancellation
// of the caller does not count as a failure.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probes   int
	now      func() time.Time
}

// NewBreaker creates a breaker.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// Call runs f unless the breaker is open.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	b.record(ctx, err)
	return err
}

// current moves open to half-open once the cooldown has elapsed. Caller holds mu.
func (b *Breaker) current() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.current() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) record(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if b.state == StateHalfOpen && b.probes > 0 {
			b.probes--
		}
		return
	}
	if err == nil {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
		b.openedAt = b.now()
		b.failures = 0
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.probes = 0
	if from != to && b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
}
