// Package worker runs the background loop that claims translation jobs and
// writes their translations.
//
// A job is processed in a fixed order: the book title (stored once per
// language as chapter 0, verse 0), then the chapter's untranslated verses,
// then its untranslated footnotes. Every translated item is saved together
// with the job's progress, so a job reclaimed after a crash only redoes the
// items that were never written.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"rbt/internal/cache"
	"rbt/internal/content"
	"rbt/internal/llm"
	"rbt/internal/models"
	"rbt/internal/storage"
	"rbt/internal/translation"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QuotaMessage is recorded on jobs failed because every API key is over quota.
const QuotaMessage = "Translation quota exceeded"

// Worker claims and processes translation jobs one at a time.
type Worker struct {
	store      storage.Storage
	source     content.Source
	translator llm.Translator
	cfg        models.WorkerConfig
	logger     *slog.Logger
	now        func() time.Time
	wake       chan struct{}
	chapters   cache.Cache

	jobs     metric.Int64Counter
	items    metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithChapterCache drops a job's cached chapter read-back once the job
// finishes.
func WithChapterCache(c cache.Cache) Option {
	return func(w *Worker) { w.chapters = c }
}

// WithClock replaces time.Now for claims and job timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New creates a worker. Zero values in cfg fall back to the defaults of
// models.NewDefaultConfig.
func New(store storage.Storage, source content.Source, translator llm.Translator, cfg models.WorkerConfig, opts ...Option) (*Worker, error) {
	defaults := models.NewDefaultConfig().Worker
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaults.ErrorBackoff
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaults.StaleAfter
	}
	if cfg.VerseBatchSize <= 0 {
		cfg.VerseBatchSize = defaults.VerseBatchSize
	}
	if cfg.FootnoteBatchSize <= 0 {
		cfg.FootnoteBatchSize = defaults.FootnoteBatchSize
	}

	w := &Worker{
		store:      store,
		source:     source,
		translator: translator,
		cfg:        cfg,
		logger:     slog.Default(),
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	meter := otel.Meter("rbt/worker")
	var err error
	w.jobs, err = meter.Int64Counter("worker.jobs",
		metric.WithDescription("Translation jobs finished by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create job counter: %w", err)
	}
	w.items, err = meter.Int64Counter("worker.items",
		metric.WithDescription("Translated verses and footnotes by kind and status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create item counter: %w", err)
	}
	w.duration, err = meter.Float64Histogram("worker.job.duration",
		metric.WithDescription("Time spent processing one claimed job"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create job duration histogram: %w", err)
	}
	return w, nil
}

// Wake interrupts the idle wait so a newly queued job is picked up at once.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run processes jobs until ctx is cancelled. It idles for PollInterval when
// the queue is empty and backs off for ErrorBackoff after a failed
// iteration.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Translation worker started",
		"poll_interval", w.cfg.PollInterval,
		"stale_after", w.cfg.StaleAfter,
		"max_attempts", w.cfg.MaxAttempts)
	defer w.logger.Info("Translation worker stopped")

	for {
		processed, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		var wait time.Duration
		switch {
		case err != nil:
			w.logger.Error("Worker iteration failed", "error", err)
			wait = w.cfg.ErrorBackoff
		case processed:
			continue
		default:
			wait = w.cfg.PollInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// RunOnce claims and processes a single job. It reports false when no job
// was claimable. Translation failures are recorded on the job and do not
// produce an error; errors mean the queue itself could not be updated.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimJob(ctx, models.ClaimOptions{
		StaleAfter:  w.cfg.StaleAfter,
		MaxAttempts: w.cfg.MaxAttempts,
		Now:         w.now(),
	})
	if errors.Is(err, storage.ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}

	logger := w.logger.With(
		"job_id", job.JobID,
		"book", job.Book,
		"chapter", job.Chapter,
		"language", job.LanguageCode,
		"attempt", job.Attempts)
	logger.Info("Processing translation job")

	began := time.Now()
	procErr := w.process(ctx, job, logger)
	switch {
	case procErr == nil:
		job.MarkCompleted(w.now())
		logger.Info("Translation job completed",
			"verses", job.TranslatedVerses,
			"footnotes", job.TranslatedFootnotes)
		outcome := metric.WithAttributes(attribute.String("outcome", "completed"))
		w.jobs.Add(ctx, 1, outcome)
		w.duration.Record(ctx, time.Since(began).Seconds(), outcome)
	case ctx.Err() != nil:
		// Left processing; another claim picks it up once it goes stale.
		logger.Warn("Translation job interrupted", "error", procErr)
		return true, nil
	default:
		msg := procErr.Error()
		if errors.Is(procErr, llm.ErrQuotaExceeded) {
			msg = QuotaMessage
		}
		job.MarkFailed(w.now(), msg)
		logger.Error("Translation job failed", "error", procErr)
		outcome := metric.WithAttributes(attribute.String("outcome", "failed"))
		w.jobs.Add(ctx, 1, outcome)
		w.duration.Record(ctx, time.Since(began).Seconds(), outcome)
	}

	if err := w.store.SaveJob(ctx, job); err != nil {
		return true, fmt.Errorf("failed to save job %s: %w", job.JobID, err)
	}

	if w.chapters != nil {
		key := translation.CacheKey(job.Book, job.Chapter, job.LanguageCode)
		if err := w.chapters.Delete(ctx, key); err != nil {
			logger.Warn("Failed to drop cached chapter", "key", key, "error", err)
		}
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *models.TranslationJob, logger *slog.Logger) error {
	book, ok := content.Lookup(job.Book)
	if !ok {
		return fmt.Errorf("unknown book: %s", job.Book)
	}

	if err := w.translateTitle(ctx, book, job.LanguageCode, logger); err != nil {
		return err
	}

	verses, footnotes, err := w.collect(ctx, book, job, logger)
	if err != nil {
		return err
	}

	// Totals cover the work left at this claim.
	job.TotalVerses = len(verses)
	job.TotalFootnotes = len(footnotes)
	job.TranslatedVerses = 0
	job.TranslatedFootnotes = 0
	if err := w.heartbeat(ctx, job); err != nil {
		return err
	}
	logger.Info("Collected untranslated text",
		"verses", job.TotalVerses,
		"footnotes", job.TotalFootnotes)

	if err := w.translateVerses(ctx, book, job, verses, logger); err != nil {
		return err
	}
	return w.translateFootnotes(ctx, book, job, footnotes, logger)
}

func (w *Worker) heartbeat(ctx context.Context, job *models.TranslationJob) error {
	job.UpdatedAt = w.now()
	if err := w.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// translateTitle stores the book title for the language unless it exists.
// Title failures are logged and do not fail the job.
func (w *Worker) translateTitle(ctx context.Context, book content.Book, lang string, logger *slog.Logger) error {
	key := models.TranslationKey{Book: book.Name, LanguageCode: lang}
	existing, err := w.store.GetTranslation(ctx, key)
	if err == nil && existing.Status.Done() {
		return nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read book title: %w", err)
	}

	title, err := w.translator.TranslateTitle(ctx, book.Title(), lang)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		logger.Warn("Book title translation failed", "title", book.Title(), "error", err)
		return nil
	}
	if title == "" || llm.IsSentinel(title) {
		logger.Warn("Book title not translated", "title", book.Title(), "result", title)
		return nil
	}

	row := &models.VerseTranslation{
		Book:         book.Name,
		LanguageCode: lang,
		VerseText:    title,
		Status:       models.TranslationCompleted,
		GeneratedBy:  w.translator.Model(),
	}
	if err := w.store.UpsertTranslation(ctx, row); err != nil {
		return fmt.Errorf("failed to save book title: %w", err)
	}
	logger.Info("Book title translated", "title", book.Title(), "translated", title)
	return nil
}

// collect returns the verse texts and footnote HTML that have no usable
// translation yet, keyed by verse number and footnote id.
func (w *Worker) collect(ctx context.Context, book content.Book, job *models.TranslationJob, logger *slog.Logger) (map[int]string, map[string]string, error) {
	verses := make(map[int]string)
	footnotes := make(map[string]string)

	source, err := w.source.Chapter(ctx, book.Name, job.Chapter)
	if err != nil {
		if book.Testament == content.Storehouse && errors.Is(err, content.ErrNotFound) {
			return verses, footnotes, nil
		}
		return nil, nil, fmt.Errorf("no source content for %s chapter %d: %w", book.Name, job.Chapter, err)
	}

	doneVerses, err := w.store.CompletedVerses(ctx, book.Name, job.Chapter, job.LanguageCode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read translated verses: %w", err)
	}
	doneFootnotes, err := w.store.CompletedFootnotes(ctx, book.Name, job.Chapter, job.LanguageCode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read translated footnotes: %w", err)
	}

	for _, v := range source {
		if v.Text != "" && !doneVerses[v.Number] {
			verses[v.Number] = v.Text
		}
		if !book.HasFootnotes() {
			continue
		}
		for _, ref := range v.FootnoteRefs {
			id := content.FootnoteID(book, ref)
			if doneFootnotes[id] {
				continue
			}
			if _, seen := footnotes[id]; seen {
				continue
			}
			html, err := w.source.Footnote(ctx, book.Name, ref)
			if err != nil {
				if ctx.Err() != nil {
					return nil, nil, ctx.Err()
				}
				logger.Debug("Footnote source unavailable", "footnote_id", id, "error", err)
				continue
			}
			footnotes[id] = html
		}
	}
	return verses, footnotes, nil
}

func itemStatus(text string) models.TranslationStatus {
	if llm.IsSentinel(text) {
		return models.TranslationFailed
	}
	return models.TranslationCompleted
}

func (w *Worker) translateVerses(ctx context.Context, book content.Book, job *models.TranslationJob, verses map[int]string, logger *slog.Logger) error {
	numbers := make([]int, 0, len(verses))
	for n := range verses {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	size := w.cfg.VerseBatchSize
	for start := 0; start < len(numbers); start += size {
		end := min(start+size, len(numbers))
		batch := make(map[int]string, end-start)
		for _, n := range numbers[start:end] {
			batch[n] = verses[n]
		}
		logger.Debug("Translating verse batch",
			"batch", start/size+1,
			"batches", (len(numbers)+size-1)/size)

		translated, err := w.translator.TranslateVerses(ctx, batch, job.LanguageCode)
		if err != nil {
			return fmt.Errorf("failed to translate verses: %w", err)
		}

		for _, n := range numbers[start:end] {
			text := translated[n]
			if text == "" {
				text = llm.ParsingErrorText
			}
			status := itemStatus(text)
			row := &models.VerseTranslation{
				Book:         book.Name,
				Chapter:      job.Chapter,
				Verse:        n,
				LanguageCode: job.LanguageCode,
				VerseText:    text,
				Status:       status,
				GeneratedBy:  w.translator.Model(),
			}
			if err := w.store.UpsertTranslation(ctx, row); err != nil {
				return fmt.Errorf("failed to save verse %d: %w", n, err)
			}
			w.items.Add(ctx, 1, metric.WithAttributes(
				attribute.String("kind", "verse"),
				attribute.String("status", string(status))))

			job.TranslatedVerses++
			if err := w.heartbeat(ctx, job); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Worker) translateFootnotes(ctx context.Context, book content.Book, job *models.TranslationJob, footnotes map[string]string, logger *slog.Logger) error {
	ids := make([]string, 0, len(footnotes))
	for id := range footnotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	size := w.cfg.FootnoteBatchSize
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batch := make(map[string]string, end-start)
		for _, id := range ids[start:end] {
			batch[id] = footnotes[id]
		}
		logger.Debug("Translating footnote batch",
			"batch", start/size+1,
			"batches", (len(ids)+size-1)/size)

		translated, err := w.translator.TranslateFootnotes(ctx, batch, job.LanguageCode)
		if err != nil {
			return fmt.Errorf("failed to translate footnotes: %w", err)
		}

		for _, id := range ids[start:end] {
			text := translated[id]
			if text == "" {
				text = llm.ParsingErrorText
			}
			status := itemStatus(text)
			row := &models.VerseTranslation{
				Book:         book.Name,
				Chapter:      job.Chapter,
				LanguageCode: job.LanguageCode,
				FootnoteID:   id,
				FootnoteText: text,
				Status:       status,
				GeneratedBy:  w.translator.Model(),
			}
			if err := w.store.UpsertTranslation(ctx, row); err != nil {
				return fmt.Errorf("failed to save footnote %s: %w", id, err)
			}
			w.items.Add(ctx, 1, metric.WithAttributes(
				attribute.String("kind", "footnote"),
				attribute.String("status", string(status))))

			job.TranslatedFootnotes++
			if err := w.heartbeat(ctx, job); err != nil {
				return err
			}
		}
	}
	return nil
}
