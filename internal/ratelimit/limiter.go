// Package ratelimit provides per-organization window counters used to
// throttle abusive tenants independently of per-user auth state.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type window struct {
	start time.Time
	count int
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Limiter is an in-process fixed-window counter map. Keys are sharded so
// unrelated tenants' traffic does not serialize on one lock; increments are
// atomic per key under the shard lock. For multi-instance deployments use
// RedisLimiter instead.
type Limiter struct {
	shards [shardCount]*shard
	now    func() time.Time

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// Option configures Limiter behavior.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLimiter creates a limiter and starts a background sweep that drops
// windows idle for longer than ttl. Close stops the sweep.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{now: time.Now, stopSweep: make(chan struct{})}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window)}
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.sweep(time.Minute, 5*time.Minute)
	return l
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	l.sweepOnce.Do(func() { close(l.stopSweep) })
}

// CheckAndConsume counts one request against the key's current window.
// When the window has elapsed the counter restarts at 1; the triggering
// request itself counts. A denial reports how long until the window resets,
// rounded up to whole seconds.
func (l *Limiter) CheckAndConsume(_ context.Context, key string, windowDur time.Duration, max int) (bool, time.Duration, error) {
	if windowDur <= 0 || max <= 0 {
		return true, 0, nil
	}
	now := l.now()
	sh := l.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok || now.After(w.start.Add(windowDur)) {
		sh.windows[key] = &window{start: now, count: 1}
		return true, 0, nil
	}
	if w.count < max {
		w.count++
		return true, 0, nil
	}
	return false, retryAfter(w.start.Add(windowDur), now), nil
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

func (l *Limiter) sweep(interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopSweep:
			return
		case <-ticker.C:
			now := l.now()
			for _, sh := range l.shards {
				sh.mu.Lock()
				for key, w := range sh.windows {
					if now.Sub(w.start) > ttl {
						delete(sh.windows, key)
					}
				}
				sh.mu.Unlock()
			}
		}
	}
}

// retryAfter rounds the remaining window up to whole seconds, at least one.
func retryAfter(windowEnd, now time.Time) time.Duration {
	rem := windowEnd.Sub(now)
	if rem <= 0 {
		return time.Second
	}
	secs := (rem + time.Second - 1) / time.Second
	return secs * time.Second
}
