// Package pool provides pooled timers for the reply-timeout paths, where a
// timer is armed and released for every command sent on the bus.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer armed for duration d. Release it with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer) // pool only ever holds *time.Timer
		if t.Reset(d) {
			// Timer was still active; drain a pending expiry.
			select {
			case <-t.C:
			default:
			}
		}

		return t
	}

	return time.NewTimer(d)
}

// PutTimer stops t and returns it to the pool. t must not be used after the
// call.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		// Drain t.C if the expiry was not consumed by the caller.
		select {
		case <-t.C:
		default:
		}
	}

	timerPool.Put(t)
}
