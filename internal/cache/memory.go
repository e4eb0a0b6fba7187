package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryCache is a process-local Cache. It is suitable for a single replica
// and for tests.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	now        func() time.Time
	maxEntries int
	closed     bool
}

func NewMemoryCache(opts ...Option) *MemoryCache {
	s := newSettings(opts)
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		now:        s.now,
		maxEntries: s.maxEntries,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return false, ErrClosed
	}
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || e.expired(m.now()) {
		return false, nil
	}
	if err := decode(e.value, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	e := memoryEntry{value: data}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryCache) Scan(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	now := m.now()
	var out []Entry
	for k, e := range m.entries {
		if !strings.HasPrefix(k, prefix) || e.expired(now) {
			continue
		}
		out = append(out, Entry{Key: k, Value: append([]byte(nil), e.value...), ExpiresAt: e.expiresAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryCache) Purge(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	if m.maxEntries > 0 && len(m.entries) > m.maxEntries {
		removed += m.cull()
	}
	return removed, nil
}

// cull drops the soonest-expiring quarter of the entries. Caller holds mu.
func (m *MemoryCache) cull() int {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return expiresBefore(m.entries[keys[i]].expiresAt, m.entries[keys[j]].expiresAt)
	})
	n := cullCount(len(keys))
	for _, k := range keys[:n] {
		delete(m.entries, k)
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}
