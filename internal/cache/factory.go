package cache

import (
	"context"
	"fmt"

	"rbt/internal/models"
)

// Open creates the backend selected by cfg.Type.
func Open(ctx context.Context, cfg models.CacheConfig, opts ...Option) (Cache, error) {
	opts = append([]Option{WithMaxEntries(cfg.MaxEntries)}, opts...)

	switch cfg.Type {
	case models.CacheTypeMemory:
		return NewMemoryCache(opts...), nil
	case models.CacheTypeSQLite:
		return NewSQLiteCache(ctx, cfg.DSN, opts...)
	case models.CacheTypePostgres:
		return NewPostgresCache(ctx, cfg.DSN, opts...)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
