// Package ratelimit counts requests per key in fixed windows, either in
// process memory or in Redis when several API replicas must share counters.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Limiter reports whether key may proceed. When it may not, retryAfter is
// the time left in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

const anonymousKey = "anonymous"

func normaliseKey(key string) string {
	if key = strings.TrimSpace(key); key == "" {
		return anonymousKey
	}
	return key
}

type window struct {
	count int
	reset time.Time
}

// FixedWindow keeps counters in memory. Expired windows are pruned whenever
// a new one opens.
type FixedWindow struct {
	limit  int
	length time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

// NewFixedWindow returns nil when limit or length is not positive; a nil
// *FixedWindow allows everything.
func NewFixedWindow(limit int, length time.Duration, clock func() time.Time) *FixedWindow {
	if limit <= 0 || length <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &FixedWindow{limit: limit, length: length, clock: clock, windows: make(map[string]window)}
}

func (f *FixedWindow) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	if f == nil {
		return true, 0, nil
	}
	key = normaliseKey(key)
	now := f.clock()

	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.windows[key]
	if !ok || !now.Before(w.reset) {
		for k, old := range f.windows {
			if !now.Before(old.reset) {
				delete(f.windows, k)
			}
		}
		f.windows[key] = window{count: 1, reset: now.Add(f.length)}
		return true, 0, nil
	}
	if w.count >= f.limit {
		return false, w.reset.Sub(now), nil
	}
	w.count++
	f.windows[key] = w
	return true, 0, nil
}
