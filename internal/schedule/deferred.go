package schedule

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Handle is a single-shot action scheduled on a Loop. Once it has fired or
// been cancelled it holds no reference to the action.
type Handle struct {
	mu     sync.Mutex
	action func()
	timer  clockwork.Timer
}

// After schedules action to run on the loop once delay has elapsed. A delay
// of zero or less runs the action on the loop's next iteration, never inline.
// On a stopped loop the action is dropped and the handle is not pending.
func (l *Loop) After(delay time.Duration, action func()) *Handle {
	h := &Handle{action: action}
	if delay <= 0 {
		if !l.Post(h.fire) {
			h.Cancel()
		}
		return h
	}

	t := l.clock.AfterFunc(delay, func() {
		if !l.Post(h.fire) {
			h.Cancel()
		}
	})

	h.mu.Lock()
	if h.action == nil {
		// Cancelled (or fired) before the timer was recorded.
		h.mu.Unlock()
		t.Stop()
		return h
	}
	h.timer = t
	h.mu.Unlock()
	return h
}

// Cancel guarantees the action never runs if it has not run yet, and drops
// the reference to it. Safe to call on a nil handle, repeatedly, or after the
// action fired.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.action = nil
	t := h.timer
	h.timer = nil
	h.mu.Unlock()

	if t != nil {
		t.Stop()
	}
}

// Pending reports whether the action can still fire.
func (h *Handle) Pending() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.action != nil
}

// fire runs on the loop. The cancelled check happens here, not in the timer
// goroutine, so a Cancel issued on the loop before fire is dequeued still wins.
func (h *Handle) fire() {
	h.mu.Lock()
	action := h.action
	h.action = nil
	h.timer = nil
	h.mu.Unlock()

	if action != nil {
		action()
	}
}
