// Package ratelimit implements the per-client attempt windows that guard the
// submit and upload-slot routes. A window admits at most Max attempts per key
// within any trailing Window; every attempt is recorded, including the ones
// that are turned away, so a client hammering the route stays blocked until
// it backs off for a full window.
//
// Two implementations share the Limiter interface:
//   - Window keeps the log in process memory and must be swept periodically.
//   - RedisWindow keeps it in a Redis sorted set so replicas share one view.
//
// Both are advisory abuse controls, not authorization.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether one more attempt for key is admitted.
type Limiter interface {
	Admit(ctx context.Context, key string) bool
}

// Window is an in-memory sliding log limiter. Safe for concurrent use.
type Window struct {
	window time.Duration
	max    int

	// Now is the clock; tests may replace it before first use.
	Now func() time.Time

	mu   sync.Mutex
	logs map[string][]time.Time
}

// NewWindow returns a limiter admitting max attempts per key per window.
// Non-positive values fall back to 60s and 20.
func NewWindow(window time.Duration, max int) *Window {
	if window <= 0 {
		window = 60 * time.Second
	}
	if max <= 0 {
		max = 20
	}
	return &Window{
		window: window,
		max:    max,
		Now:    time.Now,
		logs:   make(map[string][]time.Time),
	}
}

// Period returns the window length.
func (w *Window) Period() time.Duration { return w.window }

// Admit records an attempt for key and reports whether it is within the
// limit. A log never holds more than max+1 entries; older ones cannot change
// the outcome.
func (w *Window) Admit(_ context.Context, key string) bool {
	now := w.Now()
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	log := w.logs[key]
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	log = append(log[i:], now)
	if over := len(log) - (w.max + 1); over > 0 {
		log = log[over:]
	}
	w.logs[key] = log
	return len(log) <= w.max
}

// Sweep drops keys whose newest attempt has left the window and returns how
// many were removed.
func (w *Window) Sweep() int {
	cutoff := w.Now().Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for k, log := range w.logs {
		if len(log) == 0 || !log[len(log)-1].After(cutoff) {
			delete(w.logs, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.logs)
}
