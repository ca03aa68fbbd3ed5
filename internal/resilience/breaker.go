// Package resilience provides reliability patterns for classifier and
// embedder calls: a circuit breaker, Fibonacci-backoff retries and
// concurrency limits.
package resilience

import (
	"context"
	"errors"
	"log/slog"
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

var stateNames = [...]string{stateClosed: "closed", stateOpen: "open", stateHalfOpen: "half_open"}

func (s state) String() string { return stateNames[s] }

// Breaker stops calling an upstream after maxFailures consecutive failures.
// Once cooldown has passed a single probe call is let through; its result
// closes or re-opens the circuit.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    state
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker named after its upstream.
func NewBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{name: name, maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// Execute runs fn unless the circuit is open. A call that fails because
// ctx ended is the caller giving up and is not held against the upstream.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	switch {
	case err != nil && ctx.Err() != nil:
		if probe {
			b.setState(stateOpen)
		}
	case err != nil:
		b.failures++
		if probe || b.failures >= b.maxFailures {
			b.setState(stateOpen)
		}
	default:
		b.failures = 0
		b.setState(stateClosed)
	}
	return err
}

// admit reports whether a call may proceed and whether it is the half-open probe.
func (b *Breaker) admit() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.setState(stateHalfOpen)
	}
	switch b.state {
	case stateClosed:
		return false, true
	case stateHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	default:
		return false, false
	}
}

// setState must be called with b.mu held.
func (b *Breaker) setState(to state) {
	if to == stateOpen {
		b.openedAt = b.now()
	}
	if to == b.state {
		return
	}
	level := slog.LevelInfo
	if to == stateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state changed",
		"breaker", b.name, "from", b.state.String(), "to", to.String(), "failures", b.failures)
	b.state = to
}

// State reports closed, open or half_open.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
