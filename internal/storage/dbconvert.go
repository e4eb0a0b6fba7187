package storage

import (
	"database/sql"
	"time"

	"rbt/internal/models"
)

// SQLite stores timestamps as unix milliseconds.

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// toNullMillis converts an optional timestamp for a nullable column.
func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

var (
	rangeFloor   = time.Unix(0, 0).UTC()
	rangeCeiling = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// rangeBounds closes the open ends of an update range.
func rangeBounds(from, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = rangeFloor
	}
	if to.IsZero() {
		to = rangeCeiling
	}
	return from, to
}

// doneStatuses lists the translation statuses the worker treats as finished.
func doneStatuses() []string {
	all := []models.TranslationStatus{
		models.TranslationAIGenerated,
		models.TranslationHumanReviewed,
		models.TranslationPublished,
		models.TranslationCompleted,
	}
	out := make([]string, 0, len(all))
	for _, s := range all {
		if s.Done() {
			out = append(out, string(s))
		}
	}
	return out
}
