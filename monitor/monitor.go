// Package monitor keeps an in-memory record of recent per-provider outcomes
// feeding the health report.
package monitor

import (
	"sync"
	"time"
)

type outcome struct {
	at      time.Time
	success bool
}

var (
	mu       sync.Mutex
	outcomes = make(map[string][]outcome)
)

// retention bounds how much history is kept per provider.
const retention = 10 * time.Minute

// Emit records one attempt outcome for a provider.
func Emit(provider string, success bool) {
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	list := append(prune(outcomes[provider], now), outcome{at: now, success: success})
	outcomes[provider] = list
}

// RecentFailures counts failed attempts across all providers within the
// window.
func RecentFailures(window time.Duration) int {
	mu.Lock()
	defer mu.Unlock()

	cutoff := time.Now().Add(-window)
	count := 0
	for provider, list := range outcomes {
		list = prune(list, time.Now())
		outcomes[provider] = list
		for _, o := range list {
			if !o.success && o.at.After(cutoff) {
				count++
			}
		}
	}
	return count
}

// ConsecutiveFailures returns the current failure streak for a provider.
func ConsecutiveFailures(provider string) int {
	mu.Lock()
	defer mu.Unlock()

	list := outcomes[provider]
	streak := 0
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].success {
			break
		}
		streak++
	}
	return streak
}

// Reset clears all recorded outcomes; used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	outcomes = make(map[string][]outcome)
}

func prune(list []outcome, now time.Time) []outcome {
	cutoff := now.Add(-retention)
	keep := list[:0]
	for _, o := range list {
		if o.at.After(cutoff) {
			keep = append(keep, o)
		}
	}
	return keep
}
