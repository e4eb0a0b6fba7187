package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rbt/internal/models"
)

// MemoryStorage keeps everything in process memory. It is used for
// development and tests; data is lost on restart. Callers receive copies so
// mutating a returned value never changes stored state.
type MemoryStorage struct {
	mu           sync.Mutex
	jobs         map[string]*models.TranslationJob
	translations map[models.TranslationKey]*models.VerseTranslation
	updates      map[int64]*models.TranslationUpdate // keyed by Date.UnixNano
	nextID       int64
	now          func() time.Time
}

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:         make(map[string]*models.TranslationJob),
		translations: make(map[models.TranslationKey]*models.VerseTranslation),
		updates:      make(map[int64]*models.TranslationUpdate),
		now:          time.Now,
	}
}

func copyJob(j *models.TranslationJob) *models.TranslationJob {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (m *MemoryStorage) CreateJob(ctx context.Context, job *models.TranslationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.JobID]; exists {
		return fmt.Errorf("job %s: %w", job.JobID, ErrDuplicate)
	}
	m.jobs[job.JobID] = copyJob(job)
	return nil
}

func (m *MemoryStorage) GetJob(ctx context.Context, jobID string) (*models.TranslationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return copyJob(job), nil
}

func (m *MemoryStorage) FindActiveJob(ctx context.Context, book string, chapter int, languageCode string) (*models.TranslationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *models.TranslationJob
	for _, j := range m.jobs {
		if j.Book != book || j.Chapter != chapter || j.LanguageCode != languageCode || !j.Status.Active() {
			continue
		}
		if found == nil || j.CreatedAt.Before(found.CreatedAt) {
			found = j
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return copyJob(found), nil
}

// sortedJobs returns jobs matching keep, ordered by less. Caller holds mu.
func (m *MemoryStorage) sortedJobs(keep func(*models.TranslationJob) bool, less func(a, b *models.TranslationJob) bool) []*models.TranslationJob {
	var out []*models.TranslationJob
	for _, j := range m.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if less(out[i], out[k]) {
			return true
		}
		if less(out[k], out[i]) {
			return false
		}
		return out[i].JobID < out[k].JobID
	})
	return out
}

func byCreated(a, b *models.TranslationJob) bool { return a.CreatedAt.Before(b.CreatedAt) }

func (m *MemoryStorage) ClaimJob(ctx context.Context, opts models.ClaimOptions) (*models.TranslationJob, error) {
	now := opts.Now
	if now.IsZero() {
		now = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	exhausted := func(j *models.TranslationJob) bool {
		return opts.MaxAttempts > 0 && j.Attempts >= opts.MaxAttempts
	}

	for _, j := range m.jobs {
		if j.Stale(now, opts.StaleAfter) && exhausted(j) {
			j.MarkFailed(now, models.ExhaustedMessage(j.Attempts))
		}
	}

	pending := m.sortedJobs(func(j *models.TranslationJob) bool { return j.Status == models.JobPending }, byCreated)
	if len(pending) > 0 {
		pending[0].MarkProcessing(now)
		return copyJob(pending[0]), nil
	}

	stale := m.sortedJobs(func(j *models.TranslationJob) bool {
		return j.Stale(now, opts.StaleAfter) && !exhausted(j)
	}, func(a, b *models.TranslationJob) bool { return a.UpdatedAt.Before(b.UpdatedAt) })
	if len(stale) > 0 {
		stale[0].MarkProcessing(now)
		return copyJob(stale[0]), nil
	}

	return nil, ErrNoJob
}

func (m *MemoryStorage) SaveJob(ctx context.Context, job *models.TranslationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.JobID]; !ok {
		return fmt.Errorf("job %s: %w", job.JobID, ErrNotFound)
	}
	m.jobs[job.JobID] = copyJob(job)
	return nil
}

func (m *MemoryStorage) QueuePosition(ctx context.Context, job *models.TranslationJob) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ahead := 0
	for _, j := range m.jobs {
		if j.Status == models.JobPending && j.CreatedAt.Before(job.CreatedAt) {
			ahead++
		}
	}
	return ahead + 1, nil
}

func (m *MemoryStorage) CurrentProcessingJob(ctx context.Context) (*models.TranslationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	running := m.sortedJobs(func(j *models.TranslationJob) bool { return j.Status == models.JobProcessing },
		func(a, b *models.TranslationJob) bool { return startedAfter(a, b) })
	if len(running) == 0 {
		return nil, ErrNotFound
	}
	return copyJob(running[0]), nil
}

func startedAfter(a, b *models.TranslationJob) bool {
	switch {
	case a.StartedAt == nil:
		return false
	case b.StartedAt == nil:
		return true
	default:
		return a.StartedAt.After(*b.StartedAt)
	}
}

func (m *MemoryStorage) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.TranslationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := m.sortedJobs(func(j *models.TranslationJob) bool { return status == "" || j.Status == status },
		func(a, b *models.TranslationJob) bool { return a.CreatedAt.After(b.CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	out := make([]*models.TranslationJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, copyJob(j))
	}
	return out, nil
}

func (m *MemoryStorage) UpsertTranslation(ctx context.Context, t *models.VerseTranslation) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid translation: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	key := t.Key()
	if existing, ok := m.translations[key]; ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		t.ID = m.nextID
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	c := *t
	m.translations[key] = &c
	return nil
}

func (m *MemoryStorage) GetTranslation(ctx context.Context, key models.TranslationKey) (*models.VerseTranslation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.translations[key]
	if !ok {
		return nil, fmt.Errorf("translation %s: %w", key, ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (m *MemoryStorage) ChapterTranslations(ctx context.Context, book string, chapter int, languageCode string) ([]*models.VerseTranslation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.VerseTranslation
	for k, t := range m.translations {
		if k.Book == book && k.Chapter == chapter && k.LanguageCode == languageCode {
			c := *t
			out = append(out, &c)
		}
	}
	sortTranslations(out)
	return out, nil
}

// sortTranslations orders verses by number, then footnotes by id.
func sortTranslations(ts []*models.VerseTranslation) {
	sort.Slice(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.IsFootnote() != b.IsFootnote() {
			return !a.IsFootnote()
		}
		if a.Verse != b.Verse {
			return a.Verse < b.Verse
		}
		return a.FootnoteID < b.FootnoteID
	})
}

func (m *MemoryStorage) CompletedVerses(ctx context.Context, book string, chapter int, languageCode string) (map[int]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	done := make(map[int]bool)
	for k, t := range m.translations {
		if k.Book == book && k.Chapter == chapter && k.LanguageCode == languageCode &&
			k.FootnoteID == "" && t.Status.Done() && t.VerseText != "" {
			done[k.Verse] = true
		}
	}
	return done, nil
}

func (m *MemoryStorage) CompletedFootnotes(ctx context.Context, book string, chapter int, languageCode string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	done := make(map[string]bool)
	for k, t := range m.translations {
		if k.Book == book && k.Chapter == chapter && k.LanguageCode == languageCode &&
			k.FootnoteID != "" && t.Status.Done() && t.FootnoteText != "" {
			done[k.FootnoteID] = true
		}
	}
	return done, nil
}

func (m *MemoryStorage) FootnoteTranslation(ctx context.Context, book, footnoteID, languageCode string) (*models.VerseTranslation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *models.VerseTranslation
	for k, t := range m.translations {
		if k.Book != book || k.FootnoteID != footnoteID || k.LanguageCode != languageCode {
			continue
		}
		if !t.Status.Done() || t.FootnoteText == "" {
			continue
		}
		if found == nil || t.Chapter < found.Chapter {
			found = t
		}
	}
	if found == nil {
		return nil, fmt.Errorf("footnote %s %s [%s]: %w", book, footnoteID, languageCode, ErrNotFound)
	}
	c := *found
	return &c, nil
}

func (m *MemoryStorage) AppendUpdate(ctx context.Context, u *models.TranslationUpdate) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("invalid update: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if u.Date.IsZero() {
		u.Date = m.now().UTC()
	}
	key := u.Date.UnixNano()
	if _, exists := m.updates[key]; exists {
		return fmt.Errorf("update at %s: %w", u.Date, ErrDuplicate)
	}
	c := *u
	m.updates[key] = &c
	return nil
}

func (m *MemoryStorage) ListUpdates(ctx context.Context, limit, offset int) ([]*models.TranslationUpdate, error) {
	return m.ListUpdatesBetween(ctx, time.Time{}, time.Time{}, limit, offset)
}

func (m *MemoryStorage) ListUpdatesBetween(ctx context.Context, from, to time.Time, limit, offset int) ([]*models.TranslationUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, to = rangeBounds(from, to)
	all := make([]*models.TranslationUpdate, 0, len(m.updates))
	for _, u := range m.updates {
		if u.Date.Before(from) || !u.Date.Before(to) {
			continue
		}
		c := *u
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Date.After(all[j].Date) })

	if offset >= len(all) {
		return []*models.TranslationUpdate{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStorage) CountUpdates(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates), nil
}

func (m *MemoryStorage) CountUpdatesBetween(ctx context.Context, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, to = rangeBounds(from, to)
	n := 0
	for _, u := range m.updates {
		if !u.Date.Before(from) && u.Date.Before(to) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
