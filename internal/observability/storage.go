package observability

import (
	"context"
	"errors"
	"time"

	"rbt/internal/models"
	"rbt/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

var _ storage.Storage = (*InstrumentedStorage)(nil)

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("rbt/storage")
	meter := otel.Meter("rbt/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

// expected reports errors that are normal results rather than failures: an
// empty queue or a missing row.
func expected(err error) bool {
	return errors.Is(err, storage.ErrNoJob) || errors.Is(err, storage.ErrNotFound)
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case expected(err):
		span.SetAttributes(attribute.String("storage.result", err.Error()))
		span.SetStatus(codes.Ok, "")
	default:
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

func chapterAttrs(book string, chapter int, languageCode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("book", book),
		attribute.Int("chapter", chapter),
		attribute.String("language", languageCode),
	}
}

func (s *InstrumentedStorage) CreateJob(ctx context.Context, job *models.TranslationJob) error {
	ctx, span := s.startSpan(ctx, "CreateJob", attribute.String("job_id", job.JobID))
	start := time.Now()
	err := s.inner.CreateJob(ctx, job)
	s.record(ctx, span, "CreateJob", start, err)
	return err
}

func (s *InstrumentedStorage) GetJob(ctx context.Context, jobID string) (*models.TranslationJob, error) {
	ctx, span := s.startSpan(ctx, "GetJob", attribute.String("job_id", jobID))
	start := time.Now()
	result, err := s.inner.GetJob(ctx, jobID)
	s.record(ctx, span, "GetJob", start, err)
	return result, err
}

func (s *InstrumentedStorage) FindActiveJob(ctx context.Context, book string, chapter int, languageCode string) (*models.TranslationJob, error) {
	ctx, span := s.startSpan(ctx, "FindActiveJob", chapterAttrs(book, chapter, languageCode)...)
	start := time.Now()
	result, err := s.inner.FindActiveJob(ctx, book, chapter, languageCode)
	s.record(ctx, span, "FindActiveJob", start, err)
	return result, err
}

func (s *InstrumentedStorage) ClaimJob(ctx context.Context, opts models.ClaimOptions) (*models.TranslationJob, error) {
	ctx, span := s.startSpan(ctx, "ClaimJob",
		attribute.String("stale_after", opts.StaleAfter.String()),
		attribute.Int("max_attempts", opts.MaxAttempts),
	)
	start := time.Now()
	result, err := s.inner.ClaimJob(ctx, opts)
	if result != nil {
		span.SetAttributes(attribute.String("job_id", result.JobID), attribute.Int("attempts", result.Attempts))
	}
	s.record(ctx, span, "ClaimJob", start, err)
	return result, err
}

func (s *InstrumentedStorage) SaveJob(ctx context.Context, job *models.TranslationJob) error {
	ctx, span := s.startSpan(ctx, "SaveJob",
		attribute.String("job_id", job.JobID),
		attribute.String("status", string(job.Status)),
	)
	start := time.Now()
	err := s.inner.SaveJob(ctx, job)
	s.record(ctx, span, "SaveJob", start, err)
	return err
}

func (s *InstrumentedStorage) QueuePosition(ctx context.Context, job *models.TranslationJob) (int, error) {
	ctx, span := s.startSpan(ctx, "QueuePosition", attribute.String("job_id", job.JobID))
	start := time.Now()
	result, err := s.inner.QueuePosition(ctx, job)
	s.record(ctx, span, "QueuePosition", start, err)
	return result, err
}

func (s *InstrumentedStorage) CurrentProcessingJob(ctx context.Context) (*models.TranslationJob, error) {
	ctx, span := s.startSpan(ctx, "CurrentProcessingJob")
	start := time.Now()
	result, err := s.inner.CurrentProcessingJob(ctx)
	s.record(ctx, span, "CurrentProcessingJob", start, err)
	return result, err
}

func (s *InstrumentedStorage) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.TranslationJob, error) {
	ctx, span := s.startSpan(ctx, "ListJobs",
		attribute.String("status", string(status)),
		attribute.Int("limit", limit),
	)
	start := time.Now()
	result, err := s.inner.ListJobs(ctx, status, limit)
	s.record(ctx, span, "ListJobs", start, err)
	return result, err
}

func (s *InstrumentedStorage) UpsertTranslation(ctx context.Context, t *models.VerseTranslation) error {
	ctx, span := s.startSpan(ctx, "UpsertTranslation",
		append(chapterAttrs(t.Book, t.Chapter, t.LanguageCode),
			attribute.Int("verse", t.Verse),
			attribute.String("footnote_id", t.FootnoteID),
		)...,
	)
	start := time.Now()
	err := s.inner.UpsertTranslation(ctx, t)
	s.record(ctx, span, "UpsertTranslation", start, err)
	return err
}

func (s *InstrumentedStorage) GetTranslation(ctx context.Context, key models.TranslationKey) (*models.VerseTranslation, error) {
	ctx, span := s.startSpan(ctx, "GetTranslation", attribute.String("key", key.String()))
	start := time.Now()
	result, err := s.inner.GetTranslation(ctx, key)
	s.record(ctx, span, "GetTranslation", start, err)
	return result, err
}

func (s *InstrumentedStorage) FootnoteTranslation(ctx context.Context, book, footnoteID, languageCode string) (*models.VerseTranslation, error) {
	ctx, span := s.startSpan(ctx, "FootnoteTranslation",
		attribute.String("book", book),
		attribute.String("footnote_id", footnoteID),
		attribute.String("language_code", languageCode),
	)
	start := time.Now()
	result, err := s.inner.FootnoteTranslation(ctx, book, footnoteID, languageCode)
	s.record(ctx, span, "FootnoteTranslation", start, err)
	return result, err
}

func (s *InstrumentedStorage) ChapterTranslations(ctx context.Context, book string, chapter int, languageCode string) ([]*models.VerseTranslation, error) {
	ctx, span := s.startSpan(ctx, "ChapterTranslations", chapterAttrs(book, chapter, languageCode)...)
	start := time.Now()
	result, err := s.inner.ChapterTranslations(ctx, book, chapter, languageCode)
	s.record(ctx, span, "ChapterTranslations", start, err)
	return result, err
}

func (s *InstrumentedStorage) CompletedVerses(ctx context.Context, book string, chapter int, languageCode string) (map[int]bool, error) {
	ctx, span := s.startSpan(ctx, "CompletedVerses", chapterAttrs(book, chapter, languageCode)...)
	start := time.Now()
	result, err := s.inner.CompletedVerses(ctx, book, chapter, languageCode)
	s.record(ctx, span, "CompletedVerses", start, err)
	return result, err
}

func (s *InstrumentedStorage) CompletedFootnotes(ctx context.Context, book string, chapter int, languageCode string) (map[string]bool, error) {
	ctx, span := s.startSpan(ctx, "CompletedFootnotes", chapterAttrs(book, chapter, languageCode)...)
	start := time.Now()
	result, err := s.inner.CompletedFootnotes(ctx, book, chapter, languageCode)
	s.record(ctx, span, "CompletedFootnotes", start, err)
	return result, err
}

func (s *InstrumentedStorage) AppendUpdate(ctx context.Context, u *models.TranslationUpdate) error {
	ctx, span := s.startSpan(ctx, "AppendUpdate", attribute.String("reference", u.Reference))
	start := time.Now()
	err := s.inner.AppendUpdate(ctx, u)
	s.record(ctx, span, "AppendUpdate", start, err)
	return err
}

func (s *InstrumentedStorage) ListUpdates(ctx context.Context, limit, offset int) ([]*models.TranslationUpdate, error) {
	ctx, span := s.startSpan(ctx, "ListUpdates",
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)
	start := time.Now()
	result, err := s.inner.ListUpdates(ctx, limit, offset)
	s.record(ctx, span, "ListUpdates", start, err)
	return result, err
}

func (s *InstrumentedStorage) CountUpdates(ctx context.Context) (int, error) {
	ctx, span := s.startSpan(ctx, "CountUpdates")
	start := time.Now()
	result, err := s.inner.CountUpdates(ctx)
	s.record(ctx, span, "CountUpdates", start, err)
	return result, err
}

func (s *InstrumentedStorage) ListUpdatesBetween(ctx context.Context, from, to time.Time, limit, offset int) ([]*models.TranslationUpdate, error) {
	ctx, span := s.startSpan(ctx, "ListUpdatesBetween",
		attribute.String("from", from.Format(time.RFC3339)),
		attribute.String("to", to.Format(time.RFC3339)),
		attribute.Int("limit", limit),
	)
	start := time.Now()
	result, err := s.inner.ListUpdatesBetween(ctx, from, to, limit, offset)
	s.record(ctx, span, "ListUpdatesBetween", start, err)
	return result, err
}

func (s *InstrumentedStorage) CountUpdatesBetween(ctx context.Context, from, to time.Time) (int, error) {
	ctx, span := s.startSpan(ctx, "CountUpdatesBetween")
	start := time.Now()
	result, err := s.inner.CountUpdatesBetween(ctx, from, to)
	s.record(ctx, span, "CountUpdatesBetween", start, err)
	return result, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
