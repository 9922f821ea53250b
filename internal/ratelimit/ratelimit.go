package ratelimit

import (
	"sync"
	"time"
)

// Limiter enforces a per-user sliding window of at most limit frames per window.
type Limiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// New constructs a limiter allowing up to limit frames per window for each user.
// A zero window or limit disables limiting.
func New(window time.Duration, limit int, timeSource func() time.Time) *Limiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &Limiter{
		window:  window,
		limit:   limit,
		now:     timeSource,
		windows: make(map[string][]time.Time),
	}
}

// Allow records a frame for userID and reports whether it fits in the window.
func (l *Limiter) Allow(userID string) bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	events := l.windows[userID]
	kept := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.windows[userID] = kept
		return false
	}
	l.windows[userID] = append(kept, now)
	return true
}

// Prune drops every window whose frames have all left the window and returns
// how many were dropped. Windows outlive connections, so a user who reconnects
// keeps the frames already counted.
func (l *Limiter) Prune() int {
	if l == nil || l.window <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	var n int
	for userID, events := range l.windows {
		if len(events) == 0 || !events[len(events)-1].After(cutoff) {
			delete(l.windows, userID)
			n++
		}
	}
	return n
}

// Tracked returns the number of users with a live window.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
