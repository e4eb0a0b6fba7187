// Package translation implements the translation job API: queueing chapters
// for the background worker, reporting job progress and reading translated
// chapters back.
package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"rbt/internal/cache"
	"rbt/internal/content"
	"rbt/internal/models"
	"rbt/internal/storage"

	"golang.org/x/sync/singleflight"
)

// CacheVersion is the suffix of rendered chapter cache keys.
const CacheVersion = "v2"

// CacheKey is the key under which the site caches a rendered chapter.
func CacheKey(book string, chapter int, lang string) string {
	sanitized := strings.ReplaceAll(strings.ReplaceAll(book, ":", "_"), " ", "")
	return fmt.Sprintf("%s_%d_None_%s_%s", sanitized, chapter, lang, CacheVersion)
}

// Waker is notified after a job is queued.
type Waker interface {
	Wake()
}

// Service handles translation job business logic
type Service struct {
	storage storage.Storage
	source  content.Source
	cache   cache.Cache
	waker   Waker
	logger  *slog.Logger
	starts  singleflight.Group

	chapterTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithWaker registers the worker to nudge after enqueue.
func WithWaker(w Waker) Option {
	return func(s *Service) { s.waker = w }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithChapterTTL sets how long Translations caches a chapter. Zero disables
// the chapter cache.
func WithChapterTTL(d time.Duration) Option {
	return func(s *Service) { s.chapterTTL = d }
}

// NewService creates a new translation service
func NewService(store storage.Storage, source content.Source, c cache.Cache, opts ...Option) *Service {
	s := &Service{
		storage: store,
		source:  source,
		cache:   c,
		logger:  slog.Default(),

		chapterTTL: time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func parseChapter(chapter string) (int, error) {
	if chapter == "" {
		return 0, NewInvalidRequestError("chapter is required", nil)
	}
	n, err := strconv.Atoi(chapter)
	if err != nil || n < 1 {
		return 0, NewInvalidRequestError("invalid chapter number", err)
	}
	return n, nil
}

func resolveBook(name string) (content.Book, error) {
	if name == "" {
		return content.Book{}, NewInvalidRequestError("book is required", nil)
	}
	book, ok := content.Lookup(name)
	if !ok {
		return content.Book{}, NewInvalidRequestError(fmt.Sprintf("unknown book '%s'", name), content.ErrUnknownBook)
	}
	return book, nil
}

func resolveLanguage(lang string) (string, error) {
	if lang == "" {
		return "", NewInvalidRequestError("lang is required", nil)
	}
	code, err := models.NormalizeLanguage(lang)
	if err != nil {
		return "", NewUnsupportedLanguageError(lang, err)
	}
	return code, nil
}

// StartJob validates the request, checks that the chapter has source text
// and queues a job. An equivalent pending or processing job is returned
// instead of queueing a duplicate.
func (s *Service) StartJob(ctx context.Context, bookName, chapterParam, lang string) (*models.StartJobResponse, error) {
	book, err := resolveBook(bookName)
	if err != nil {
		return nil, err
	}
	chapter, err := parseChapter(chapterParam)
	if err != nil {
		return nil, err
	}
	code, err := resolveLanguage(lang)
	if err != nil {
		return nil, err
	}

	if book.Testament != content.Storehouse {
		if err := s.checkSource(ctx, book, chapter); err != nil {
			return nil, err
		}
	}

	key := fmt.Sprintf("%s|%d|%s", book.Name, chapter, code)
	v, err, _ := s.starts.Do(key, func() (any, error) {
		return s.enqueue(ctx, book, chapter, code)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.StartJobResponse), nil
}

func (s *Service) checkSource(ctx context.Context, book content.Book, chapter int) error {
	verses, err := s.source.Chapter(ctx, book.Name, chapter)
	if errors.Is(err, content.ErrNotFound) {
		return NewContentNotFoundError(book.Name, chapter)
	}
	if err != nil {
		return NewInternalError("failed to read source content", err)
	}
	for _, v := range verses {
		if strings.TrimSpace(v.Text) != "" {
			return nil
		}
	}
	return NewContentNotFoundError(book.Name, chapter)
}

func (s *Service) enqueue(ctx context.Context, book content.Book, chapter int, code string) (*models.StartJobResponse, error) {
	existing, err := s.storage.FindActiveJob(ctx, book.Name, chapter, code)
	switch {
	case err == nil:
		return &models.StartJobResponse{
			Status:  "ok",
			JobID:   existing.JobID,
			Message: fmt.Sprintf("Translation job already %s for %s chapter %d", existing.Status, book.Name, chapter),
			Job:     existing.Status,
		}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, NewInternalError("failed to look up active jobs", err)
	}

	job := models.NewTranslationJob(book.Name, chapter, code)
	if err := s.storage.CreateJob(ctx, job); err != nil {
		return nil, NewInternalError("failed to create translation job", err)
	}
	s.logger.Info("Translation job queued",
		"job_id", job.JobID,
		"book", job.Book,
		"chapter", job.Chapter,
		"language", job.LanguageCode)

	if s.waker != nil {
		s.waker.Wake()
	}

	return &models.StartJobResponse{
		Status:  "ok",
		JobID:   job.JobID,
		Message: fmt.Sprintf("Translation job created for %s chapter %d", book.Name, chapter),
		Job:     job.Status,
	}, nil
}

// JobStatus reports a job's progress. Pending jobs also carry their queue
// position and a summary of the job being processed.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	if jobID == "" {
		return nil, NewInvalidRequestError("job_id is required", nil)
	}

	job, err := s.storage.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, NewJobNotFoundError(jobID)
	}
	if err != nil {
		return nil, NewInternalError("failed to get job", err)
	}

	resp := models.NewJobStatusResponse(job)
	if job.Status != models.JobPending {
		return resp, nil
	}

	pos, err := s.storage.QueuePosition(ctx, job)
	if err != nil {
		return nil, NewInternalError("failed to compute queue position", err)
	}
	resp.QueuePosition = pos

	current, err := s.storage.CurrentProcessingJob(ctx)
	switch {
	case err == nil:
		resp.CurrentJob = &models.CurrentJobInfo{
			Book:     current.Book,
			Chapter:  current.Chapter,
			Language: current.LanguageCode,
			Progress: current.ProgressPercent(),
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, NewInternalError("failed to get current job", err)
	}
	return resp, nil
}

// ClearCache deletes the cached chapter so the next request picks up the new
// translation.
func (s *Service) ClearCache(ctx context.Context, bookName, chapterParam, lang string) (*models.ClearCacheResponse, error) {
	if bookName == "" || chapterParam == "" || lang == "" {
		return nil, NewInvalidRequestError("missing parameters", nil)
	}
	chapter, err := parseChapter(chapterParam)
	if err != nil {
		return nil, err
	}
	name := bookName
	if book, ok := content.Lookup(bookName); ok {
		name = book.Name
	}
	if code, err := models.NormalizeLanguage(lang); err == nil {
		lang = code
	}

	key := CacheKey(name, chapter, lang)
	if err := s.cache.Delete(ctx, key); err != nil {
		return nil, NewInternalError("failed to clear cache", err)
	}
	return &models.ClearCacheResponse{
		Status:  "ok",
		Message: fmt.Sprintf("Cache cleared for %s chapter %d (%s)", name, chapter, lang),
		Key:     key,
	}, nil
}

// Translations returns the usable translated text of a chapter. Rows the
// worker marked failed are left out. The result is cached under CacheKey
// until the TTL passes or the chapter is cleared.
func (s *Service) Translations(ctx context.Context, bookName, chapterParam, lang string) (*models.ChapterTranslationsResponse, error) {
	book, err := resolveBook(bookName)
	if err != nil {
		return nil, err
	}
	chapter, err := parseChapter(chapterParam)
	if err != nil {
		return nil, err
	}
	code, err := resolveLanguage(lang)
	if err != nil {
		return nil, err
	}

	key := CacheKey(book.Name, chapter, code)
	if s.chapterTTL > 0 {
		var cached models.ChapterTranslationsResponse
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("Chapter cache read failed", "key", key, "error", err)
		} else if found {
			return &cached, nil
		}
	}

	resp, err := s.readChapter(ctx, book, chapter, code)
	if err != nil {
		return nil, err
	}

	if s.chapterTTL > 0 {
		if err := s.cache.Set(ctx, key, resp, s.chapterTTL); err != nil {
			s.logger.Warn("Chapter cache write failed", "key", key, "error", err)
		}
	}
	return resp, nil
}

func (s *Service) readChapter(ctx context.Context, book content.Book, chapter int, code string) (*models.ChapterTranslationsResponse, error) {
	rows, err := s.storage.ChapterTranslations(ctx, book.Name, chapter, code)
	if err != nil {
		return nil, NewInternalError("failed to read translations", err)
	}

	resp := &models.ChapterTranslationsResponse{
		Book:         book.Name,
		Chapter:      chapter,
		LanguageCode: code,
		Verses:       make(map[int]string),
		Footnotes:    make(map[string]string),
	}
	for _, row := range rows {
		if !row.Status.Done() {
			continue
		}
		if row.IsFootnote() {
			resp.Footnotes[row.FootnoteID] = row.FootnoteText
		} else if row.Verse > 0 {
			resp.Verses[row.Verse] = row.VerseText
		}
	}

	title, err := s.storage.GetTranslation(ctx, models.TranslationKey{Book: book.Name, LanguageCode: code})
	switch {
	case err == nil:
		if title.Status.Done() {
			resp.BookTitle = title.VerseText
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, NewInternalError("failed to read book title", err)
	}
	return resp, nil
}

// ListJobs returns recent jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.TranslationJob, error) {
	if status != "" && !status.Active() && !status.Terminal() {
		return nil, NewInvalidRequestError(fmt.Sprintf("invalid status '%s'", status), nil)
	}
	jobs, err := s.storage.ListJobs(ctx, status, limit)
	if err != nil {
		return nil, NewInternalError("failed to list jobs", err)
	}
	return jobs, nil
}
