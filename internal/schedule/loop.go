// Package schedule provides a serial execution context and single-shot,
// cancellable deferred actions that run on it.
//
// All state owned by a Loop's users is touched only from functions running
// on that loop, so those users need no locks of their own.
package schedule

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
)

// ErrStopped is returned by Do when the loop is no longer running.
var ErrStopped = errors.New("schedule: loop stopped")

// Loop runs posted functions one at a time, in post order, on the goroutine
// that called Run.
type Loop struct {
	clock clockwork.Clock

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
}

// NewLoop creates a Loop whose deferred actions are timed by clock. Pass nil
// to use the real clock.
func NewLoop(clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

// Clock returns the time source used for deferred actions.
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Post enqueues fn to run on the loop. It never blocks and is safe to call
// from any goroutine, including the loop itself. It returns false if the loop
// has stopped, in which case fn will never run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to return. Calling Do from the loop
// goroutine deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes posted functions until ctx is done. Functions still queued
// when the loop stops are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
		for {
			if ctx.Err() != nil {
				return nil
			}
			fn := l.next()
			if fn == nil {
				break
			}
			fn()
		}
	}
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

func (l *Loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	l.queue = nil
}
