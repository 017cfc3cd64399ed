// Package throttle gates how often a handler may fire. Calls arriving faster
// than the minimum interval are coalesced: only the latest arguments are kept
// and delivered once the interval has elapsed (trailing edge, last write wins).
package throttle

import (
	"time"

	"github.com/zeusync/pulse/internal/core/clock"
)

// Throttler wraps fn so that consecutive invocations are at least
// minInterval apart. It is not safe for concurrent use; callers run it on a
// single executor and bind the clock to the same executor.
type Throttler[T any] struct {
	clock       clock.Clock
	fn          func(T)
	minInterval time.Duration
	leading     bool

	lastFired time.Time
	hasFired  bool

	pending    T
	hasPending bool

	timer clock.Timer
	gen   uint64

	calls uint64
	fired uint64
}

// New returns a throttler around fn. A call arriving after a quiet period
// fires right away.
func New[T any](clk clock.Clock, minInterval time.Duration, fn func(T)) *Throttler[T] {
	t := NewTrailing(clk, minInterval, fn)
	t.leading = true
	return t
}

// NewTrailing returns a throttler that never fires inside Call: the first
// call opens a window of minInterval and fn runs once when it closes, with
// the latest value.
func NewTrailing[T any](clk clock.Clock, minInterval time.Duration, fn func(T)) *Throttler[T] {
	if minInterval < 0 {
		minInterval = 0
	}
	return &Throttler[T]{
		clock:       clk,
		fn:          fn,
		minInterval: minInterval,
	}
}

// Gate returns a function that forwards to fn at most once per minInterval,
// deferring excess calls to the next allowed instant with the latest value.
func Gate[T any](clk clock.Clock, fn func(T), minInterval time.Duration) func(T) {
	return New(clk, minInterval, fn).Call
}

// Call invokes fn right away when the interval since the last invocation has
// elapsed, otherwise records v as the pending value and arms a release timer.
func (t *Throttler[T]) Call(v T) {
	t.calls++
	now := t.clock.Now()

	if t.leading && t.timer == nil && t.allowed(now) {
		t.fire(v, now)
		return
	}

	t.pending = v
	t.hasPending = true
	if t.timer == nil {
		t.arm(now)
	}
}

// SetInterval changes the minimum interval. An armed release timer is
// rescheduled against the new interval.
func (t *Throttler[T]) SetInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.minInterval = d
	if t.timer != nil {
		t.stopTimer()
		t.arm(t.clock.Now())
	}
}

// Interval returns the current minimum interval.
func (t *Throttler[T]) Interval() time.Duration {
	return t.minInterval
}

// FlushNow delivers the pending value immediately, bypassing the interval.
// It reports whether there was anything to deliver.
func (t *Throttler[T]) FlushNow() bool {
	if !t.hasPending {
		return false
	}
	t.stopTimer()
	v := t.takePending()
	t.fire(v, t.clock.Now())
	return true
}

// Cancel drops the pending value and disarms the release timer.
func (t *Throttler[T]) Cancel() {
	t.stopTimer()
	t.takePending()
}

// Reset cancels pending work and forgets the last invocation and counters.
func (t *Throttler[T]) Reset() {
	t.Cancel()
	t.lastFired = time.Time{}
	t.hasFired = false
	t.calls = 0
	t.fired = 0
}

// Pending reports whether a coalesced value is waiting for release.
func (t *Throttler[T]) Pending() bool {
	return t.hasPending
}

// Calls returns how many times Call was invoked.
func (t *Throttler[T]) Calls() uint64 {
	return t.calls
}

// Fired returns how many times fn actually ran.
func (t *Throttler[T]) Fired() uint64 {
	return t.fired
}

// LastFired returns the instant of the last invocation of fn.
func (t *Throttler[T]) LastFired() (time.Time, bool) {
	return t.lastFired, t.hasFired
}

func (t *Throttler[T]) allowed(now time.Time) bool {
	return !t.hasFired || now.Sub(t.lastFired) >= t.minInterval
}

func (t *Throttler[T]) arm(now time.Time) {
	wait := time.Duration(0)
	switch {
	case !t.leading:
		wait = t.minInterval
	case t.hasFired:
		wait = t.lastFired.Add(t.minInterval).Sub(now)
		if wait < 0 {
			wait = 0
		}
	}
	gen := t.gen
	t.timer = t.clock.AfterFunc(wait, func() { t.release(gen) })
}

// release runs on timer expiry. A timer that was stopped but whose callback
// was already queued carries an old generation and is ignored.
func (t *Throttler[T]) release(gen uint64) {
	if gen != t.gen {
		return
	}
	t.timer = nil
	if !t.hasPending {
		return
	}
	now := t.clock.Now()
	if !t.allowed(now) {
		t.arm(now)
		return
	}
	t.fire(t.takePending(), now)
}

func (t *Throttler[T]) fire(v T, now time.Time) {
	t.lastFired = now
	t.hasFired = true
	t.fired++
	t.fn(v)
}

func (t *Throttler[T]) takePending() T {
	var zero T
	v := t.pending
	t.pending = zero
	t.hasPending = false
	return v
}

func (t *Throttler[T]) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}
