// Package ratelimit implements a fixed-window message counter keyed by
// connection id.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

type Limiter struct {
	mu      sync.Mutex
	max     int
	period  time.Duration
	windows map[string]*window
	now     func() time.Time
}

// New returns a Limiter that rejects the max-th and later attempts made
// by one id inside a single period.
func New(max int, period time.Duration) *Limiter {
	return &Limiter{
		max:     max,
		period:  period,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// CheckAndRecord records an attempt for id and reports whether it must be
// rejected. Rejected attempts are counted as well.
func (l *Limiter) CheckAndRecord(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[id]
	if !ok || now.Sub(w.start) > l.period {
		l.windows[id] = &window{count: 1, start: now}
		return l.max <= 1
	}

	w.count++
	return w.count >= l.max
}

// Forget drops the window kept for id.
func (l *Limiter) Forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, id)
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
