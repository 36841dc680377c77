// Package pairing implements the human-verified 4-digit pairing state
// machine that runs on the first bidirectional stream of a connection.
package pairing

import "sync/atomic"

// MaxConcurrentDialogs bounds how many AWAIT_CODE dialogs may be pending
// at once, process-wide, guarding against a flood of pairing attempts.
const MaxConcurrentDialogs = 3

// inFlight is the process-wide pairing-slot counter (SPEC_FULL.md §9,
// "Global mutable state"). It is a package-level atomic rather than a
// field on some struct because the invariant it enforces is global: at
// most MaxConcurrentDialogs dialogs across every connection this process
// is handling, not per listener or per peer.
var inFlight atomic.Int32

// SlotGuard releases its pairing slot exactly once, regardless of which
// exit path (success, failure, timeout, disconnect) triggers it.
type SlotGuard struct {
	released atomic.Bool
}

// acquireSlot tries to reserve one of MaxConcurrentDialogs slots. It never
// blocks: on failure the caller must reject the dialog immediately.
func acquireSlot() (*SlotGuard, bool) {
	for {
		cur := inFlight.Load()
		if cur >= MaxConcurrentDialogs {
			return nil, false
		}
		if inFlight.CompareAndSwap(cur, cur+1) {
			return &SlotGuard{}, true
		}
	}
}

// Release decrements the slot counter. Safe to call more than once or
// concurrently with itself; only the first call has an effect.
func (g *SlotGuard) Release() {
	if g == nil {
		return
	}
	if g.released.CompareAndSwap(false, true) {
		inFlight.Add(-1)
	}
}
