package translation

import (
	"context"

	"rbt/internal/models"
)

// ServiceInterface defines the translation job operations exposed over HTTP
// and the admin CLI.
type ServiceInterface interface {
	// StartJob queues a chapter for translation, or returns the job already
	// queued or running for it.
	StartJob(ctx context.Context, book, chapter, lang string) (*models.StartJobResponse, error)

	// JobStatus reports progress, queue position and the job being processed.
	JobStatus(ctx context.Context, jobID string) (*models.JobStatusResponse, error)

	// ClearCache drops the rendered chapter for the language from the cache.
	ClearCache(ctx context.Context, book, chapter, lang string) (*models.ClearCacheResponse, error)

	// Translations returns the stored translation of a chapter.
	Translations(ctx context.Context, book, chapter, lang string) (*models.ChapterTranslationsResponse, error)

	// ListJobs returns recent jobs, optionally filtered by status.
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.TranslationJob, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
