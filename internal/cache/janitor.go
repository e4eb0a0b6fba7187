package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor purges expired entries on a cron schedule. The memory backend
// filters expired keys on read, so the janitor only bounds its size; the SQL
// backends rely on it to reclaim rows.
type Janitor struct {
	cache   Cache
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
}

// NewJanitor schedules Sweep according to schedule, which accepts standard
// five-field cron expressions and descriptors such as "@every 1m".
func NewJanitor(c Cache, schedule string, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		cache:   c,
		cron:    cron.New(),
		logger:  logger,
		timeout: 30 * time.Second,
	}
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start runs the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to
// expire.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep purges the cache once and returns the number of entries removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	removed, err := j.cache.Purge(ctx)
	if err != nil {
		return removed, fmt.Errorf("cache purge failed: %w", err)
	}
	return removed, nil
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	removed, err := j.Sweep(ctx)
	if err != nil {
		j.logger.Error("Cache janitor sweep failed", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Debug("Cache janitor removed entries", "removed", removed)
	}
}
