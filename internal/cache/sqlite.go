package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries (expires_at)`,
}

// SQLiteCache stores entries in a cache_entries table through modernc.org/sqlite.
type SQLiteCache struct {
	db         *sql.DB
	now        func() time.Time
	maxEntries int
}

// NewSQLiteCache opens dsn and creates the cache table if needed.
func NewSQLiteCache(ctx context.Context, dsn string, opts ...Option) (*SQLiteCache, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required for SQLite cache")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create cache schema: %w", err)
		}
	}

	s := newSettings(opts)
	return &SQLiteCache{db: db, now: s.now, maxEntries: s.maxEntries}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	if expiresAt != 0 && expiresAt <= c.now().UnixMilli() {
		return false, nil
	}
	if err := decode(value, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, data, expiry(c.now(), ttl))
	if err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return nil
}

func (c *SQLiteCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
		}
	}
	return nil
}

func (c *SQLiteCache) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT key, value, expires_at FROM cache_entries
		WHERE substr(key, 1, ?) = ? AND (expires_at = 0 OR expires_at > ?)
		ORDER BY key`,
		utf8.RuneCountInString(prefix), prefix, c.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			value     []byte
			expiresAt int64
		)
		if err := rows.Scan(&e.Key, &value, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		e.Value = value
		e.ExpiresAt = fromMillis(expiresAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *SQLiteCache) Purge(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <> 0 AND expires_at <= ?`, c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	removed, _ := res.RowsAffected()

	if c.maxEntries <= 0 {
		return int(removed), nil
	}

	var total int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&total); err != nil {
		return int(removed), fmt.Errorf("failed to count cache entries: %w", err)
	}
	if total <= c.maxEntries {
		return int(removed), nil
	}

	res, err = c.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries
			ORDER BY CASE WHEN expires_at = 0 THEN 1 ELSE 0 END, expires_at
			LIMIT ?
		)`, cullCount(total))
	if err != nil {
		return int(removed), fmt.Errorf("failed to cull cache: %w", err)
	}
	culled, _ := res.RowsAffected()
	return int(removed + culled), nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
