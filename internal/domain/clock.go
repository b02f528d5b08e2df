package domain

import "github.com/jonboulle/clockwork"

// clock is a package-level time source so tests can freeze ResolvedAt via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source for result timestamps. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
