package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"rbt/internal/api"
	"rbt/internal/cache"
	"rbt/internal/content"
	"rbt/internal/llm"
	"rbt/internal/models"
	"rbt/internal/ratelimit"
	"rbt/internal/storage"
	"rbt/internal/translation"
	"rbt/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests that run the API, worker and SQLite backends together

var verseMarker = regexp.MustCompile(`<<<VERSE_(\d+)>>>`)

// echoModel answers verse prompts with one numbered line per marker and any
// other prompt with a quoted title.
func echoModel(ctx context.Context, apiKey, model, prompt string) (string, error) {
	matches := verseMarker.FindAllStringSubmatch(prompt, -1)
	if len(matches) == 0 {
		return `"Juan"`, nil
	}
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s\nversículo %s\n\n", m[0], m[1])
	}
	return b.String(), nil
}

type system struct {
	store  storage.Storage
	cache  cache.Cache
	worker *worker.Worker
	server *httptest.Server
	guard  *ratelimit.Guard
}

func newSystem(t *testing.T, rateLimited bool) *system {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := storage.NewFactory().Create(ctx, models.StorageConfig{
		Type:     models.StorageTypeSQLite,
		Database: models.DatabaseConfig{DSN: filepath.Join(dir, "rbt.db")},
		Migrate:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c, err := cache.Open(ctx, models.CacheConfig{Type: models.CacheTypeSQLite, DSN: filepath.Join(dir, "cache.db")})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	source := content.NewMemorySource()
	require.NoError(t, source.AddVerse("John", 1, 1, "In the Head was the Word", ""))
	require.NoError(t, source.AddVerse("John", 1, 2, "This one was in the Head", ""))

	translator, err := llm.NewGemini(models.TranslationConfig{APIKeys: []string{"test-key"}, Model: "gemini-test"},
		llm.WithGenerateFunc(echoModel))
	require.NoError(t, err)

	w, err := worker.New(store, source, translator, models.WorkerConfig{}, worker.WithChapterCache(c))
	require.NoError(t, err)

	cfg := models.NewDefaultConfig()
	cfg.Security.AdminKeys = []string{"admin-key"}
	cfg.Security.RateLimit.Enabled = rateLimited

	policies := ratelimit.PoliciesFromConfig(cfg.Security.RateLimit)
	apiPolicy := policies[ratelimit.CategoryAPI]
	apiPolicy.Limit, apiPolicy.MaxStrikes = 2, 2
	policies[ratelimit.CategoryAPI] = apiPolicy
	guard, err := ratelimit.NewGuard(c, policies)
	require.NoError(t, err)

	svc := translation.NewService(store, source, c, translation.WithWaker(w))
	handlers := api.NewHandlers(svc, store, api.WithGuard(guard), api.WithSource(source))
	server := httptest.NewServer(api.SetupRoutes(handlers, cfg))
	t.Cleanup(server.Close)

	return &system{store: store, cache: c, worker: w, server: server, guard: guard}
}

func (s *system) request(t *testing.T, method, path, auth string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, nil)
	require.NoError(t, err)
	// The default bot filter rejects Go's own user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestIntegration_TranslateChapter(t *testing.T) {
	s := newSystem(t, false)
	ctx := context.Background()

	// Step 1: queue the chapter
	resp, body := s.request(t, http.MethodPost, "/api/translate/start?book=john&chapter=1&lang=es", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var started models.StartJobResponse
	require.NoError(t, json.Unmarshal(body, &started))

	// Step 2: the job waits in the queue
	resp, body = s.request(t, http.MethodGet, "/api/translate/status?job_id="+started.JobID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status models.JobStatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, models.JobPending, status.Status)
	assert.Equal(t, 1, status.QueuePosition)

	// Step 3: the worker processes it
	processed, err := s.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	resp, body = s.request(t, http.MethodGet, "/api/translate/status?job_id="+started.JobID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var done models.JobStatusResponse
	require.NoError(t, json.Unmarshal(body, &done))
	assert.Equal(t, models.JobCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, 2, done.TotalVerses)
	assert.Equal(t, 2, done.TranslatedVerses)
	assert.Zero(t, done.QueuePosition)
	assert.Nil(t, done.CurrentJob)

	// Step 4: the translation reads back
	resp, body = s.request(t, http.MethodGet, "/api/translations?book=John&chapter=1&lang=es", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chapter models.ChapterTranslationsResponse
	require.NoError(t, json.Unmarshal(body, &chapter))
	assert.Equal(t, "Juan", chapter.BookTitle)
	assert.Equal(t, map[int]string{1: "versículo 1", 2: "versículo 2"}, chapter.Verses)

	row, err := s.store.GetTranslation(ctx, models.TranslationKey{Book: "John", Chapter: 1, Verse: 1, LanguageCode: "es"})
	require.NoError(t, err)
	assert.Equal(t, "gemini-test", row.GeneratedBy)

	// Step 5: the read-back is cached until cleared
	key := translation.CacheKey("John", 1, "es")
	var cached models.ChapterTranslationsResponse
	found, err := s.cache.Get(ctx, key, &cached)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, chapter.Verses, cached.Verses)

	resp, _ = s.request(t, http.MethodPost, "/api/translate/clear-cache?book=John&chapter=1&lang=es", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found, err = s.cache.Get(ctx, key, &cached)
	require.NoError(t, err)
	assert.False(t, found)

	// Step 6: nothing is left to claim
	processed, err = s.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestIntegration_StaleJobIsReclaimed(t *testing.T) {
	s := newSystem(t, false)
	ctx := context.Background()

	resp, body := s.request(t, http.MethodGet, "/api/translate/start?book=John&chapter=1&lang=fr", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var started models.StartJobResponse
	require.NoError(t, json.Unmarshal(body, &started))

	// A worker claims the job and dies without finishing it.
	job, err := s.store.ClaimJob(ctx, models.ClaimOptions{StaleAfter: 5 * time.Minute, MaxAttempts: 3, Now: time.Now()})
	require.NoError(t, err)
	require.Equal(t, started.JobID, job.JobID)
	job.UpdatedAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, s.store.SaveJob(ctx, job))

	processed, err := s.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	done, err := s.store.GetJob(ctx, started.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, done.Status)
	assert.Equal(t, 2, done.Attempts)
}

func TestIntegration_BanAndUnban(t *testing.T) {
	s := newSystem(t, true)

	// Two requests fit the window, the next two earn strikes and the second
	// strike bans.
	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		resp, _ := s.request(t, http.MethodGet, "/api/languages", "")
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429, 403, 403}, codes)

	// The admin key skips limiting and lifts the ban.
	resp, body := s.request(t, http.MethodGet, "/api/admin/bans", "admin-key")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bans api.BansResponse
	require.NoError(t, json.Unmarshal(body, &bans))
	require.Equal(t, 1, bans.Count)
	ip := bans.Entries[0].IP

	resp, _ = s.request(t, http.MethodDelete, "/api/admin/bans/"+ip, "admin-key")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.request(t, http.MethodGet, "/api/languages", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
