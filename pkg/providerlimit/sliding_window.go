package providerlimit

import (
	"sync"
	"time"
)

// windowBuffer is added to window waits so a retry lands just after the
// oldest entry has aged out rather than exactly on the boundary.
const windowBuffer = 100 * time.Millisecond

// SlidingWindowCounter tracks request timestamps inside a rolling window.
//
// It exists alongside the token bucket on purpose: providers publish limits
// inconsistently (some as requests-per-minute, some as burst), and keeping
// both primitives means the most restrictive interpretation wins. The
// counter holds insertion-ordered timestamps pruned to the window on every
// operation.
type SlidingWindowCounter struct {
	mu         sync.Mutex
	window     time.Duration
	timestamps []time.Time
	clock      Clock
}

// NewSlidingWindowCounter creates a counter over the given window.
//
// A zero window defaults to one minute. If clock is nil, the system clock is
// used.
func NewSlidingWindowCounter(window time.Duration, clock Clock) *SlidingWindowCounter {
	if window <= 0 {
		window = time.Minute
	}
	if clock == nil {
		clock = &SystemClock{}
	}
	return &SlidingWindowCounter{
		window:     window,
		timestamps: make([]time.Time, 0, 64),
		clock:      clock,
	}
}

// Record appends the current time to the window.
func (w *SlidingWindowCounter) Record() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(w.clock.Now())
	w.timestamps = append(w.timestamps, w.clock.Now())
}

// Unrecord removes the newest entry, undoing one Record. Used when an
// admission is rolled back before the call it accounted for was made.
func (w *SlidingWindowCounter) Unrecord() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.timestamps); n > 0 {
		w.timestamps = w.timestamps[:n-1]
	}
}

// Count prunes expired entries and returns the number remaining.
func (w *SlidingWindowCounter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(w.clock.Now())
	return len(w.timestamps)
}

// TimeUntilSlot returns how long until the oldest entry ages out of the
// window, plus a small buffer. Returns zero when the window is empty.
//
// This is the wait a caller should observe when the per-minute ceiling is
// full: once the oldest admission slides out, a slot opens.
func (w *SlidingWindowCounter) TimeUntilSlot() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.prune(now)
	if len(w.timestamps) == 0 {
		return 0
	}

	oldest := w.timestamps[0]
	wait := w.window - now.Sub(oldest) + windowBuffer
	if wait < 0 {
		wait = 0
	}
	return wait
}

// prune drops entries older than the window.
//
// Must be called while holding the lock. Entries are in insertion order, so
// pruning only trims the head.
func (w *SlidingWindowCounter) prune(now time.Time) {
	cutoff := now.Add(-w.window)

	keep := 0
	for keep < len(w.timestamps) && !w.timestamps[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[keep:]...)
	}
}
