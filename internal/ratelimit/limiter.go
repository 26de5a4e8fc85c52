package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Decision is the outcome of a single rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the retry hint rounded up to whole seconds
func (d Decision) RetryAfterSeconds() int {
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Limiter decides whether a request identified by key may proceed.
// Implementations backed by a shared store can replace the in-memory one.
type Limiter interface {
	Check(key string) Decision
}

type window struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter counts requests per key in fixed windows that open on
// the first request for the key. A burst straddling the window boundary can
// admit up to twice the limit; this is accepted for sensors reporting every
// few minutes.
//
// State is process-local and lost on restart.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*window
	nowFn   func() time.Time
}

// NewFixedWindowLimiter creates a limiter allowing limit requests per window
func NewFixedWindowLimiter(limit int, windowLength time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		limit:   limit,
		window:  windowLength,
		windows: make(map[string]*window),
		nowFn:   time.Now,
	}
}

// WithClock replaces the time source, used by tests
func (l *FixedWindowLimiter) WithClock(nowFn func() time.Time) *FixedWindowLimiter {
	l.nowFn = nowFn
	return l
}

// Check records a request for key and reports whether it is allowed
func (l *FixedWindowLimiter) Check(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(l.window)}
		l.windows[key] = w
		return l.allowed(w)
	}

	if w.count >= l.limit {
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			ResetAt:    w.resetAt,
			RetryAfter: w.resetAt.Sub(now),
		}
	}

	w.count++
	return l.allowed(w)
}

// Len returns the number of tracked keys
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *FixedWindowLimiter) allowed(w *window) Decision {
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - w.count,
		ResetAt:   w.resetAt,
	}
}

// Key builds the limiter key for a device and its declared class
func Key(deviceID, deviceClass string) string {
	return deviceID + "-" + deviceClass
}
