// Package ratelimit provides the per-adapter sliding-window admission gate.
package ratelimit

import (
	"sync"
	"time"
)

const window = time.Minute

// Limiter admits at most requestsPerMinute calls within any sliding
// 60-second window. Safe for concurrent use.
type Limiter struct {
	mu sync.Mutex

	requestsPerMinute int
	stamps            []time.Time

	now func() time.Time
}

// New builds a limiter. A non-positive limit admits everything.
func New(requestsPerMinute int) *Limiter {
	return &Limiter{
		requestsPerMinute: requestsPerMinute,
		now:               time.Now,
	}
}

// Allow tries to admit one request. On denial it returns the duration until
// the oldest in-window request expires and a slot frees up.
func (l *Limiter) Allow() (bool, time.Duration) {
	if l == nil || l.requestsPerMinute <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	keep := l.stamps[:0]
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	l.stamps = keep

	if len(l.stamps) >= l.requestsPerMinute {
		retryAfter := l.stamps[0].Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}

	l.stamps = append(l.stamps, now)
	return true, 0
}

// InWindow returns the number of requests admitted in the current window.
func (l *Limiter) InWindow() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-window)
	count := 0
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}
