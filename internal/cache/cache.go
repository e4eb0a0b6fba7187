// Package cache provides the shared TTL key/value store used by request
// mitigation. Values are JSON encoded so every backend stores the same bytes
// and entries written by one replica are readable by another.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache closed")

// Cache is a TTL key/value store. A ttl of zero or less stores the value
// without expiry.
type Cache interface {
	// Get decodes the value stored at key into dst. It reports false when the
	// key is absent or expired.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Scan returns every live entry whose key starts with prefix.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	// Purge removes expired entries and returns how many were removed.
	Purge(ctx context.Context) (int, error)
	Close() error
}

// Entry is a raw cache row as returned by Scan.
type Entry struct {
	Key       string
	Value     json.RawMessage
	ExpiresAt time.Time // zero when the entry never expires
}

// Decode unmarshals the entry value into dst.
func (e Entry) Decode(dst any) error {
	return json.Unmarshal(e.Value, dst)
}

// Option configures a cache backend.
type Option func(*settings)

type settings struct {
	now        func() time.Time
	maxEntries int
}

func newSettings(opts []Option) settings {
	s := settings{now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithClock replaces time.Now, letting tests step through TTL boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithMaxEntries bounds the number of stored entries. Purge culls the
// soonest-expiring quarter when the bound is crossed. Zero disables culling.
func WithMaxEntries(n int) Option {
	return func(s *settings) {
		s.maxEntries = n
	}
}

// cullCount is the number of entries removed when the bound is crossed.
func cullCount(total int) int {
	n := total / 4
	if n == 0 && total > 0 {
		n = 1
	}
	return n
}

// expiresBefore orders expiries with entries that never expire last.
func expiresBefore(a, b time.Time) bool {
	switch {
	case a.IsZero():
		return false
	case b.IsZero():
		return true
	default:
		return a.Before(b)
	}
}

func encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache value: %w", err)
	}
	return data, nil
}

func decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	return nil
}

// expiry converts a ttl into an absolute expiry in unix milliseconds. Zero
// means no expiry.
func expiry(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
