package translation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rbt/internal/cache"
	"rbt/internal/content"
	"rbt/internal/models"
	"rbt/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWaker struct{ n atomic.Int32 }

func (w *countingWaker) Wake() { w.n.Add(1) }

type fixture struct {
	store  *storage.MemoryStorage
	source *content.MemorySource
	cache  *cache.MemoryCache
	waker  *countingWaker
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  storage.NewMemoryStorage(),
		source: content.NewMemorySource(),
		cache:  cache.NewMemoryCache(),
		waker:  &countingWaker{},
	}
	require.NoError(t, f.source.AddVerse("John", 1, 1, "In the Head was the Word", ""))
	require.NoError(t, f.source.AddVerse("John", 1, 2, "This one was in the Head", ""))
	f.svc = NewService(f.store, f.source, f.cache, WithWaker(f.waker))
	return f
}

func requireServiceError(t *testing.T, err error, code string, status int) {
	t.Helper()
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr), "expected *ServiceError, got %v", err)
	assert.Equal(t, code, svcErr.Code)
	assert.Equal(t, status, svcErr.StatusCode)
}

func TestStartJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.StartJob(ctx, "john", "1", "es")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, models.JobPending, resp.Job)
	assert.Equal(t, int32(1), f.waker.n.Load())

	job, err := f.store.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "John", job.Book, "book names are canonicalised")
	assert.Equal(t, 1, job.Chapter)
	assert.Equal(t, "es", job.LanguageCode)
}

func TestStartJobReturnsActiveJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.StartJob(ctx, "John", "1", "es")
	require.NoError(t, err)
	second, err := f.svc.StartJob(ctx, "John", "1", "es")
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, int32(1), f.waker.n.Load())

	// A finished job no longer blocks a new one.
	job, err := f.store.GetJob(ctx, first.JobID)
	require.NoError(t, err)
	job.MarkProcessing(time.Now())
	job.MarkCompleted(time.Now())
	require.NoError(t, f.store.SaveJob(ctx, job))

	third, err := f.svc.StartJob(ctx, "John", "1", "es")
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, third.JobID)
}

func TestStartJobConcurrentRequestsShareJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.svc.StartJob(ctx, "John", "1", "fr")
			if err != nil {
				t.Errorf("StartJob: %v", err)
				return
			}
			ids[i] = resp.JobID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	jobs, err := f.store.ListJobs(ctx, models.JobPending, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestStartJobValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		book    string
		chapter string
		lang    string
		code    string
		status  int
	}{
		{"missing book", "", "1", "es", models.ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"unknown book", "Hezekiah", "1", "es", models.ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"missing chapter", "John", "", "es", models.ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"chapter not a number", "John", "one", "es", models.ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"chapter zero", "John", "0", "es", models.ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"missing language", "John", "1", "", models.ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"english", "John", "1", "en", models.ErrorCodeUnsupportedLang, http.StatusBadRequest},
		{"unsupported language", "John", "1", "tlh", models.ErrorCodeUnsupportedLang, http.StatusBadRequest},
		{"no source text", "John", "2", "es", models.ErrorCodeContentNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.StartJob(ctx, tt.book, tt.chapter, tt.lang)
			requireServiceError(t, err, tt.code, tt.status)
		})
	}
	assert.Equal(t, int32(0), f.waker.n.Load())
}

func TestStartJobStorehouseSkipsSourceCheck(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.StartJob(context.Background(), "Joseph and Aseneth", "3", "es")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.JobID)
}

func TestJobStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.source.AddVerse("John", 2, 1, "And the third day", ""))

	running, err := f.svc.StartJob(ctx, "John", "1", "es")
	require.NoError(t, err)
	claimed, err := f.store.ClaimJob(ctx, models.ClaimOptions{StaleAfter: 5 * time.Minute, Now: time.Now()})
	require.NoError(t, err)
	require.Equal(t, running.JobID, claimed.JobID)
	claimed.TotalVerses = 4
	claimed.TranslatedVerses = 1
	require.NoError(t, f.store.SaveJob(ctx, claimed))

	time.Sleep(2 * time.Millisecond)
	first, err := f.svc.StartJob(ctx, "John", "2", "es")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := f.svc.StartJob(ctx, "John", "1", "de")
	require.NoError(t, err)

	status, err := f.svc.JobStatus(ctx, second.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, status.Status)
	assert.Equal(t, 2, status.QueuePosition)
	require.NotNil(t, status.CurrentJob)
	assert.Equal(t, "John", status.CurrentJob.Book)
	assert.Equal(t, 1, status.CurrentJob.Chapter)
	assert.Equal(t, 25, status.CurrentJob.Progress)

	status, err = f.svc.JobStatus(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.QueuePosition)

	status, err = f.svc.JobStatus(ctx, running.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, status.Status)
	assert.Equal(t, 25, status.Progress)
	assert.Zero(t, status.QueuePosition)
	assert.Nil(t, status.CurrentJob)
}

func TestJobStatusErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.JobStatus(context.Background(), "")
	requireServiceError(t, err, models.ErrorCodeInvalidRequest, http.StatusBadRequest)

	_, err = f.svc.JobStatus(context.Background(), "missing")
	requireServiceError(t, err, models.ErrorCodeJobNotFound, http.StatusNotFound)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "1John_3_None_es_v2", CacheKey("1 John", 3, "es"))
	assert.Equal(t, "Psalms_23_None_zh-TW_v2", CacheKey("Psalms", 23, "zh-TW"))
	assert.Equal(t, "A_B_1_None_fr_v2", CacheKey("A:B", 1, "fr"))
}

func TestClearCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key := CacheKey("1 John", 1, "es")
	require.NoError(t, f.cache.Set(ctx, key, "<html>", time.Hour))
	require.NoError(t, f.cache.Set(ctx, CacheKey("1 John", 2, "es"), "<html>", time.Hour))

	resp, err := f.svc.ClearCache(ctx, "1john", "1", "es")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, key, resp.Key)

	var html string
	found, err := f.cache.Get(ctx, key, &html)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = f.cache.Get(ctx, CacheKey("1 John", 2, "es"), &html)
	require.NoError(t, err)
	assert.True(t, found, "other chapters stay cached")

	_, err = f.svc.ClearCache(ctx, "John", "", "es")
	requireServiceError(t, err, models.ErrorCodeInvalidRequest, http.StatusBadRequest)
}

func TestTranslations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rows := []*models.VerseTranslation{
		{Book: "John", Chapter: 0, Verse: 0, LanguageCode: "es", VerseText: "Favorecido", Status: models.TranslationCompleted},
		{Book: "John", Chapter: 1, Verse: 1, LanguageCode: "es", VerseText: "En la Cabeza", Status: models.TranslationCompleted},
		{Book: "John", Chapter: 1, Verse: 2, LanguageCode: "es", VerseText: "[Translation parsing error]", Status: models.TranslationFailed},
		{Book: "John", Chapter: 1, Verse: 3, LanguageCode: "es", VerseText: "Revisado", Status: models.TranslationHumanReviewed},
		{Book: "John", Chapter: 1, LanguageCode: "es", FootnoteID: "John-1a", FootnoteText: "<p>nota</p>", Status: models.TranslationCompleted},
		{Book: "John", Chapter: 1, Verse: 1, LanguageCode: "fr", VerseText: "Dans la Tête", Status: models.TranslationCompleted},
	}
	for _, r := range rows {
		require.NoError(t, f.store.UpsertTranslation(ctx, r))
	}

	resp, err := f.svc.Translations(ctx, "JOHN", "1", "es")
	require.NoError(t, err)
	assert.Equal(t, "John", resp.Book)
	assert.Equal(t, "Favorecido", resp.BookTitle)
	assert.Equal(t, map[int]string{1: "En la Cabeza", 3: "Revisado"}, resp.Verses)
	assert.Equal(t, map[string]string{"John-1a": "<p>nota</p>"}, resp.Footnotes)

	resp, err = f.svc.Translations(ctx, "John", "5", "es")
	require.NoError(t, err)
	assert.Empty(t, resp.Verses)
	assert.Equal(t, "Favorecido", resp.BookTitle)
}

func TestTranslationsCachedUntilCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	verse := &models.VerseTranslation{Book: "John", Chapter: 1, Verse: 1, LanguageCode: "es", VerseText: "En la Cabeza", Status: models.TranslationCompleted}
	require.NoError(t, f.store.UpsertTranslation(ctx, verse))

	first, err := f.svc.Translations(ctx, "John", "1", "es")
	require.NoError(t, err)
	assert.Equal(t, "En la Cabeza", first.Verses[1])

	var cached models.ChapterTranslationsResponse
	found, err := f.cache.Get(ctx, CacheKey("John", 1, "es"), &cached)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.Verses, cached.Verses)

	verse.VerseText = "En la Cabeza, revisado"
	verse.Status = models.TranslationHumanReviewed
	require.NoError(t, f.store.UpsertTranslation(ctx, verse))

	stale, err := f.svc.Translations(ctx, "John", "1", "es")
	require.NoError(t, err)
	assert.Equal(t, "En la Cabeza", stale.Verses[1], "served from the cache until cleared")

	_, err = f.svc.ClearCache(ctx, "John", "1", "es")
	require.NoError(t, err)

	fresh, err := f.svc.Translations(ctx, "John", "1", "es")
	require.NoError(t, err)
	assert.Equal(t, "En la Cabeza, revisado", fresh.Verses[1])
}

func TestTranslationsWithoutChapterCache(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.store, f.source, f.cache, WithChapterTTL(0))
	ctx := context.Background()

	_, err := f.svc.Translations(ctx, "John", "1", "es")
	require.NoError(t, err)

	var cached models.ChapterTranslationsResponse
	found, err := f.cache.Get(ctx, CacheKey("John", 1, "es"), &cached)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartJob(ctx, "John", "1", "es")
	require.NoError(t, err)

	jobs, err := f.svc.ListJobs(ctx, models.JobPending, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = f.svc.ListJobs(ctx, models.JobStatus("bogus"), 10)
	requireServiceError(t, err, models.ErrorCodeInvalidRequest, http.StatusBadRequest)
}
