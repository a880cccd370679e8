// Package ratelimit provides a windowed token bucket: at most max_requests
// permits within any sliding window of window_seconds. Callers await a
// permit before each network request.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter issues at most Max permits within any Window-long interval.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	issued []time.Time // Timestamps of permits inside the current window

	now func() time.Time
}

// New creates a limiter allowing max permits per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Acquire blocks until a permit is available or the context is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire attempts to take a permit without blocking.
func (l *Limiter) TryAcquire() bool {
	_, ok := l.tryAcquire()
	return ok
}

// tryAcquire reaps permits that have left the window, then either issues a
// permit or reports how long until the oldest one expires.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.issued[:0]
	for _, t := range l.issued {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.issued = kept

	if len(l.issued) < l.max {
		l.issued = append(l.issued, now)
		return 0, true
	}

	wait := l.issued[0].Sub(cutoff)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// Available returns the number of permits currently issuable.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, t := range l.issued {
		if t.After(cutoff) {
			n++
		}
	}
	return l.max - n
}

// Registry hands out one limiter per key.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Get returns the limiter for key, creating it with the given parameters on
// first use. Parameters of an existing limiter are not changed.
func (r *Registry) Get(key string, max int, window time.Duration) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[key]; ok {
		return l
	}
	l := New(max, window)
	r.limiters[key] = l
	return l
}
