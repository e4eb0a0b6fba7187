package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	expires_at BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries (expires_at);`

// PostgresCache stores entries in a cache_entries table shared by every
// replica that points at the same database.
type PostgresCache struct {
	pool       *pgxpool.Pool
	now        func() time.Time
	maxEntries int
}

// NewPostgresCache connects to dsn and creates the cache table if needed.
func NewPostgresCache(ctx context.Context, dsn string, opts ...Option) (*PostgresCache, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL cache")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	s := newSettings(opts)
	return &PostgresCache{pool: pool, now: s.now, maxEntries: s.maxEntries}, nil
}

func (c *PostgresCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := c.pool.QueryRow(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = $1`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (c *PostgresCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx, `
		INSERT INTO cache_entries (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, string(data), expiry(c.now(), ttl))
	if err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return nil
}

func (c *PostgresCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

func (c *PostgresCache) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT key, value, expires_at FROM cache_entries
		WHERE starts_with(key, $1) AND (expires_at = 0 OR expires_at > $2)
		ORDER BY key`,
		prefix, c.now().UnixMilli())
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

func (c *PostgresCache) Purge(ctx context.Context) (int, error) {
	tag, err := c.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE expires_at <> 0 AND expires_at <= $1`, c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	removed := int(tag.RowsAffected())

	if c.maxEntries <= 0 {
		return removed, nil
	}

	var total int
	if err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&total); err != nil {
		return removed, fmt.Errorf("failed to count cache entries: %w", err)
	}
	if total <= c.maxEntries {
		return removed, nil
	}

	tag, err = c.pool.Exec(ctx, `
		DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries
			ORDER BY (expires_at = 0), expires_at
			LIMIT $1
		)`, cullCount(total))
	if err != nil {
		return removed, fmt.Errorf("failed to cull cache: %w", err)
	}
	return removed + int(tag.RowsAffected()), nil
}

func (c *PostgresCache) Close() error {
	c.pool.Close()
	return nil
}
