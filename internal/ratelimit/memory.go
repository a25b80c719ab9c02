package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps windows in process memory. Each key has its own lock,
// so checks for different callers do not contend. It is only correct for a
// single gateway process.
type MemoryLimiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
	now       func() time.Time
}

type window struct {
	mu   sync.Mutex
	hits []time.Time
	dead bool // evicted; callers must fetch a fresh window
}

var _ Limiter = (*MemoryLimiter)(nil)

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) { l.now = now }
}

// NewMemoryLimiter creates an empty in-process limiter.
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLimiter) window(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now := l.now(); now.Sub(l.lastSweep) >= Window {
		l.sweep(now)
		l.lastSweep = now
	}

	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w
}

// sweep drops windows whose hits have all expired. Lock order is l.mu then
// w.mu; Allow never takes l.mu while holding a window lock.
func (l *MemoryLimiter) sweep(now time.Time) {
	for key, w := range l.windows {
		w.mu.Lock()
		if n := len(w.hits); n == 0 || now.Sub(w.hits[n-1]) >= Window {
			w.dead = true
			delete(l.windows, key)
		}
		w.mu.Unlock()
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int) (Decision, error) {
	var w *window
	for {
		w = l.window(key)
		w.mu.Lock()
		if !w.dead {
			break
		}
		w.mu.Unlock()
	}
	defer w.mu.Unlock()

	now := l.now()

	// hits are appended in time order, so the expired ones form a prefix.
	cut := 0
	for cut < len(w.hits) && now.Sub(w.hits[cut]) >= Window {
		cut++
	}
	w.hits = w.hits[cut:]

	if len(w.hits) >= limit {
		d := Decision{Allowed: false, Limit: limit, RetryAfter: Window}
		if len(w.hits) > 0 {
			d.RetryAfter = Window - now.Sub(w.hits[0])
		}
		return d, nil
	}

	w.hits = append(w.hits, now)
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(w.hits),
	}, nil
}

func (l *MemoryLimiter) Close() error {
	return nil
}
