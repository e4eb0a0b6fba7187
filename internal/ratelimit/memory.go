package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a per-key token bucket limiter. Buckets idle for twice the
// sweep interval are dropped by a background goroutine.
type MemoryLimiter struct {
	every     rate.Limit
	burst     int
	perMinute int
	sweep     time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	closed  bool
}

// NewMemoryLimiter allows perMinute actions per key with the given burst.
func NewMemoryLimiter(perMinute, burst int, sweep time.Duration) *MemoryLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	m := &MemoryLimiter{
		every:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:     burst,
		perMinute: perMinute,
		sweep:     sweep,
		buckets:   make(map[string]*bucket),
		done:      make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *MemoryLimiter) bucketFor(key string, now time.Time) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(m.every, m.burst)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

func (m *MemoryLimiter) Allow(key string) (bool, Info) {
	now := time.Now()
	lim := m.bucketFor(key, now)

	r := lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	allowed := r.OK() && delay == 0
	if !allowed {
		// Give the token back; a denied call must not push the next one out.
		r.CancelAt(now)
	}

	tokens := lim.TokensAt(now)
	info := Info{
		Limit:     m.perMinute,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		ResetAt:   now,
	}
	if missing := float64(m.burst) - tokens; missing > 0 {
		info.ResetAt = now.Add(time.Duration(missing / float64(m.every) * float64(time.Second)))
	}
	if !allowed {
		info.RetryAfter = delay
	}
	return allowed, info
}

// Len returns the number of live buckets.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func (m *MemoryLimiter) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle(time.Now())
		}
	}
}

func (m *MemoryLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-2 * m.sweep)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
