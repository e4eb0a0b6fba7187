package storage

import (
	"context"
	"time"

	"rbt/internal/models"
)

// Storage persists the translation job queue, translated text and the
// translation update log. Implementations must be safe for concurrent use;
// ClaimJob must hand any given job to at most one caller.
type Storage interface {
	JobQueue
	TranslationStore
	UpdateLog

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases connections.
	Close() error
}

// JobQueue holds TranslationJob rows.
type JobQueue interface {
	// CreateJob inserts a new job.
	CreateJob(ctx context.Context, job *models.TranslationJob) error

	// GetJob returns ErrNotFound for an unknown id.
	GetJob(ctx context.Context, jobID string) (*models.TranslationJob, error)

	// FindActiveJob returns the pending or processing job for the chapter and
	// language, or ErrNotFound.
	FindActiveJob(ctx context.Context, book string, chapter int, languageCode string) (*models.TranslationJob, error)

	// ClaimJob marks the next job processing and returns it: first the oldest
	// pending job, then the oldest processing job whose heartbeat is older
	// than opts.StaleAfter. Stale jobs already claimed opts.MaxAttempts times
	// are failed instead. Returns ErrNoJob when nothing is claimable.
	ClaimJob(ctx context.Context, opts models.ClaimOptions) (*models.TranslationJob, error)

	// SaveJob writes progress and status changes for an existing job.
	SaveJob(ctx context.Context, job *models.TranslationJob) error

	// QueuePosition is 1 + the number of pending jobs created before job.
	QueuePosition(ctx context.Context, job *models.TranslationJob) (int, error)

	// CurrentProcessingJob returns the most recently started processing job,
	// or ErrNotFound.
	CurrentProcessingJob(ctx context.Context) (*models.TranslationJob, error)

	// ListJobs returns jobs newest first, optionally filtered by status.
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.TranslationJob, error)
}

// TranslationStore holds VerseTranslation rows.
type TranslationStore interface {
	// UpsertTranslation inserts or replaces the row with the same natural key
	// and fills in ID and timestamps.
	UpsertTranslation(ctx context.Context, t *models.VerseTranslation) error

	// GetTranslation returns ErrNotFound when no row has the key.
	GetTranslation(ctx context.Context, key models.TranslationKey) (*models.VerseTranslation, error)

	// ChapterTranslations returns every row for the chapter and language,
	// verses first by number, then footnotes by id.
	ChapterTranslations(ctx context.Context, book string, chapter int, languageCode string) ([]*models.VerseTranslation, error)

	// CompletedVerses returns the verse numbers that already hold usable text.
	CompletedVerses(ctx context.Context, book string, chapter int, languageCode string) (map[int]bool, error)

	// CompletedFootnotes returns the footnote ids that already hold usable text.
	CompletedFootnotes(ctx context.Context, book string, chapter int, languageCode string) (map[string]bool, error)

	// FootnoteTranslation returns the finished translation of a footnote in
	// any chapter of book, or ErrNotFound.
	FootnoteTranslation(ctx context.Context, book, footnoteID, languageCode string) (*models.VerseTranslation, error)
}

// UpdateLog is the append-only translation update history.
type UpdateLog interface {
	AppendUpdate(ctx context.Context, u *models.TranslationUpdate) error

	// ListUpdates returns entries newest first.
	ListUpdates(ctx context.Context, limit, offset int) ([]*models.TranslationUpdate, error)

	CountUpdates(ctx context.Context) (int, error)

	// ListUpdatesBetween returns entries dated in [from, to), newest first.
	// A zero bound leaves that end open; a limit of 0 returns every entry.
	ListUpdatesBetween(ctx context.Context, from, to time.Time, limit, offset int) ([]*models.TranslationUpdate, error)

	// CountUpdatesBetween counts entries dated in [from, to).
	CountUpdatesBetween(ctx context.Context, from, to time.Time) (int, error)
}
