package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements an in-process sliding window rate limiter. Each key
// keeps the timestamps of its recent events; expired entries are dropped on
// access and swept periodically so idle keys do not accumulate.
type Limiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

// NewLimiter constructs an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{events: make(map[string][]time.Time), now: time.Now}
}

// Allow registers an event for the key and reports whether it stays within
// the limit. A nil limiter or non-positive threshold always allows.
func (l *Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	if l == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)
	kept := l.events[key][:0]
	for _, ts := range l.events[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	l.events[key] = kept

	current := len(kept)
	remaining = max - current
	if remaining < 0 {
		remaining = 0
	}
	return current <= max, remaining, now.Add(window), nil
}

// Sweep drops every event older than the retention window. Called on a timer
// so keys that stopped sending requests release their memory.
func (l *Limiter) Sweep(retention time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-retention)
	for key, events := range l.events {
		kept := events[:0]
		for _, ts := range events {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(l.events, key)
			continue
		}
		l.events[key] = kept
	}
}

// StartSweeper runs Sweep every interval until the context is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep(retention)
			}
		}
	}()
}
