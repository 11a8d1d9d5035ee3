package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit events within any trailing window.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu     sync.Mutex
	events []time.Time
}

// NewSlidingWindowLimiter constructs a limiter. A non-positive window or limit admits everything.
func NewSlidingWindowLimiter(window time.Duration, limit int, clock func() time.Time) *SlidingWindowLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &SlidingWindowLimiter{window: window, limit: limit, now: clock}
}

// Allow reports whether the caller may proceed and records the admission.
func (l *SlidingWindowLimiter) Allow() bool {
	ok, _ := l.Reserve()
	return ok
}

// Reserve admits the caller when the window has room. Otherwise it reports how long until the
// oldest admission leaves the window.
func (l *SlidingWindowLimiter) Reserve() (bool, time.Duration) {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.events[:0]
	for _, ts := range l.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.events = kept
	if len(l.events) >= l.limit {
		return false, l.events[0].Sub(cutoff)
	}
	l.events = append(l.events, now)
	return true, 0
}
