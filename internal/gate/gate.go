// Package gate provides a one-shot readiness gate. A gate starts pending
// and moves exactly once to resolved or rejected; the first call wins and
// every waiter observes the same outcome.
package gate

import (
	"context"
	"sync"
	"time"

	"duckbridge/internal/domain"
)

// State is the lifecycle state of a Gate.
type State int

const (
	Pending State = iota
	Resolved
	Rejected
)

func (s State) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Gate is a one-shot synchronization primitive carrying a value of type T.
type Gate[T any] struct {
	name string

	mu    sync.Mutex
	state State
	value T
	err   error
	done  chan struct{}
}

// New creates a pending gate. The name appears in timeout errors.
func New[T any](name string) *Gate[T] {
	return &Gate[T]{name: name, done: make(chan struct{})}
}

// Name returns the gate name.
func (g *Gate[T]) Name() string { return g.name }

// Resolve moves a pending gate to resolved. It reports whether this call
// made the transition; later calls are no-ops.
func (g *Gate[T]) Resolve(v T) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Pending {
		return false
	}
	g.state = Resolved
	g.value = v
	close(g.done)
	return true
}

// Reject moves a pending gate to rejected with err. It reports whether this
// call made the transition; later calls are no-ops.
func (g *Gate[T]) Reject(err error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Pending {
		return false
	}
	g.state = Rejected
	g.err = err
	close(g.done)
	return true
}

// State returns the current state without blocking.
func (g *Gate[T]) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Done is closed once the gate leaves the pending state.
func (g *Gate[T]) Done() <-chan struct{} { return g.done }

// Wait blocks until the gate settles or ctx is done.
func (g *Gate[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-g.done:
		return g.outcome()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WaitTimeout is Wait bounded by d. When d elapses first it fails with a
// *domain.TimeoutError; the gate itself is unaffected and may still settle
// for other waiters.
func (g *Gate[T]) WaitTimeout(ctx context.Context, d time.Duration) (T, error) {
	// Settled gates answer immediately, even with a zero bound.
	select {
	case <-g.done:
		return g.outcome()
	default:
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-g.done:
		return g.outcome()
	case <-timer.C:
		var zero T
		return zero, &domain.TimeoutError{Gate: g.name, After: d}
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (g *Gate[T]) outcome() (T, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value, g.err
}
