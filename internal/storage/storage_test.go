package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"rbt/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// base is truncated to milliseconds so every backend round-trips it exactly.
var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newJobAt(book string, chapter int, lang string, created time.Time) *models.TranslationJob {
	job := models.NewTranslationJob(book, chapter, lang)
	job.CreatedAt = created
	job.UpdatedAt = created
	return job
}

func staleJob(book string, updated time.Time, attempts int) *models.TranslationJob {
	job := newJobAt(book, 1, "es", updated.Add(-time.Hour))
	started := updated
	job.Status = models.JobProcessing
	job.StartedAt = &started
	job.UpdatedAt = updated
	job.Attempts = attempts
	return job
}

// runStorageSuite exercises the Storage contract against one backend.
func runStorageSuite(t *testing.T, open func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("CreateAndGetJob", func(t *testing.T) {
		s := open(t)
		job := newJobAt("Genesis", 1, "es", base)
		require.NoError(t, s.CreateJob(ctx, job))

		got, err := s.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, "Genesis", got.Book)
		assert.Equal(t, 1, got.Chapter)
		assert.Equal(t, models.JobPending, got.Status)
		assert.WithinDuration(t, base, got.CreatedAt, time.Millisecond)
		assert.Nil(t, got.StartedAt)

		assert.ErrorIs(t, s.CreateJob(ctx, job), ErrDuplicate)

		_, err = s.GetJob(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CreateJobValidates", func(t *testing.T) {
		s := open(t)
		job := newJobAt("", 1, "es", base)
		assert.Error(t, s.CreateJob(ctx, job))
	})

	t.Run("FindActiveJob", func(t *testing.T) {
		s := open(t)
		_, err := s.FindActiveJob(ctx, "John", 3, "fr")
		assert.ErrorIs(t, err, ErrNotFound)

		done := newJobAt("John", 3, "fr", base)
		done.MarkCompleted(base)
		require.NoError(t, s.CreateJob(ctx, done))
		_, err = s.FindActiveJob(ctx, "John", 3, "fr")
		assert.ErrorIs(t, err, ErrNotFound)

		active := newJobAt("John", 3, "fr", base.Add(time.Second))
		require.NoError(t, s.CreateJob(ctx, active))
		got, err := s.FindActiveJob(ctx, "John", 3, "fr")
		require.NoError(t, err)
		assert.Equal(t, active.JobID, got.JobID)

		_, err = s.FindActiveJob(ctx, "John", 3, "de")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ClaimJobEmpty", func(t *testing.T) {
		s := open(t)
		_, err := s.ClaimJob(ctx, models.ClaimOptions{StaleAfter: 5 * time.Minute, MaxAttempts: 3, Now: base})
		assert.ErrorIs(t, err, ErrNoJob)
	})

	t.Run("ClaimJobOldestFirst", func(t *testing.T) {
		s := open(t)
		second := newJobAt("Exodus", 2, "es", base.Add(time.Second))
		first := newJobAt("Exodus", 1, "es", base)
		require.NoError(t, s.CreateJob(ctx, second))
		require.NoError(t, s.CreateJob(ctx, first))

		now := base.Add(time.Minute)
		opts := models.ClaimOptions{StaleAfter: 5 * time.Minute, MaxAttempts: 3, Now: now}

		got, err := s.ClaimJob(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, first.JobID, got.JobID)
		assert.Equal(t, models.JobProcessing, got.Status)
		assert.Equal(t, 1, got.Attempts)
		require.NotNil(t, got.StartedAt)
		assert.WithinDuration(t, now, *got.StartedAt, time.Millisecond)

		stored, err := s.GetJob(ctx, first.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobProcessing, stored.Status)
		assert.Equal(t, 1, stored.Attempts)

		got, err = s.ClaimJob(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, second.JobID, got.JobID)

		_, err = s.ClaimJob(ctx, opts)
		assert.ErrorIs(t, err, ErrNoJob)
	})

	t.Run("ClaimJobReclaimsStale", func(t *testing.T) {
		s := open(t)
		now := base.Add(time.Hour)
		orphan := staleJob("Leviticus", now.Add(-10*time.Minute), 1)
		require.NoError(t, s.CreateJob(ctx, orphan))

		got, err := s.ClaimJob(ctx, models.ClaimOptions{StaleAfter: 5 * time.Minute, MaxAttempts: 3, Now: now})
		require.NoError(t, err)
		assert.Equal(t, orphan.JobID, got.JobID)
		assert.Equal(t, 2, got.Attempts)
		assert.WithinDuration(t, now, got.UpdatedAt, time.Millisecond)

		// Freshly claimed, so no longer stale.
		_, err = s.ClaimJob(ctx, models.ClaimOptions{StaleAfter: 5 * time.Minute, MaxAttempts: 3, Now: now.Add(time.Minute)})
		assert.ErrorIs(t, err, ErrNoJob)
	})

	t.Run("ClaimJobLeavesLiveJobs", func(t *testing.T) {
		s := open(t)
		now := base.Add(time.Hour)
		live := staleJob("Numbers", now.Add(-time.Minute), 1)
		require.NoError(t, s.CreateJob(ctx, live))

		_, err := s.ClaimJob(ctx, models.ClaimOptions{StaleAfter: 5 * time.Minute, MaxAttempts: 3, Now: now})
		assert.ErrorIs(t, err, ErrNoJob)

		got, err := s.GetJob(ctx, live.JobID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Attempts)
	})

	t.Run("ClaimJobPrefersPending", func(t *testing.T) {
		s := open(t)
		now := base.Add(time.Hour)
		orphan := staleJob("Deuteronomy", now.Add(-10*time.Minute), 1)
		pending := newJobAt("Deuteronomy", 2, "es", now.Add(-time.Minute))
		require.NoError(t, s.CreateJob(ctx, orphan))
		require.NoError(t, s.CreateJob(ctx, pending))

		opts := models.ClaimOptions{StaleAfter: 5 * time.Minute, MaxAttempts: 3, Now: now}
		got, err := s.ClaimJob(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, pending.JobID, got.JobID)

		got, err = s.ClaimJob(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, orphan.JobID, got.JobID)
	})

	t.Run("ClaimJobFailsExhausted", func(t *testing.T) {
		s := open(t)
		now := base.Add(time.Hour)
		orphan := staleJob("Joshua", now.Add(-10*time.Minute), 3)
		require.NoError(t, s.CreateJob(ctx, orphan))

		_, err := s.ClaimJob(ctx, models.ClaimOptions{StaleAfter: 5 * time.Minute, MaxAttempts: 3, Now: now})
		assert.ErrorIs(t, err, ErrNoJob)

		got, err := s.GetJob(ctx, orphan.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobFailed, got.Status)
		assert.Equal(t, models.ExhaustedMessage(3), got.ErrorMessage)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("ClaimJobConcurrent", func(t *testing.T) {
		s := open(t)
		const jobs = 8
		for i := 0; i < jobs; i++ {
			require.NoError(t, s.CreateJob(ctx, newJobAt("Judges", i+1, "es", base.Add(time.Duration(i)*time.Second))))
		}

		var (
			mu      sync.Mutex
			claimed = map[string]int{}
			wg      sync.WaitGroup
		)
		opts := models.ClaimOptions{StaleAfter: 5 * time.Minute, MaxAttempts: 3, Now: base.Add(time.Minute)}
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := s.ClaimJob(ctx, opts)
					if err != nil {
						return
					}
					mu.Lock()
					claimed[job.JobID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, claimed, jobs)
		for id, n := range claimed {
			assert.Equal(t, 1, n, "job %s claimed more than once", id)
		}
	})

	t.Run("SaveJob", func(t *testing.T) {
		s := open(t)
		job := newJobAt("Ruth", 1, "es", base)
		require.NoError(t, s.CreateJob(ctx, job))

		job.MarkProcessing(base.Add(time.Second))
		job.TotalVerses = 22
		job.TranslatedVerses = 10
		job.TotalFootnotes = 4
		require.NoError(t, s.SaveJob(ctx, job))

		job.MarkFailed(base.Add(2*time.Second), "quota exceeded")
		require.NoError(t, s.SaveJob(ctx, job))

		got, err := s.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobFailed, got.Status)
		assert.Equal(t, "quota exceeded", got.ErrorMessage)
		assert.Equal(t, 22, got.TotalVerses)
		assert.Equal(t, 10, got.TranslatedVerses)
		assert.Equal(t, 4, got.TotalFootnotes)
		require.NotNil(t, got.CompletedAt)
		assert.WithinDuration(t, base.Add(2*time.Second), *got.CompletedAt, time.Millisecond)

		missing := newJobAt("Ruth", 2, "es", base)
		assert.ErrorIs(t, s.SaveJob(ctx, missing), ErrNotFound)
	})

	t.Run("QueuePositionAndCurrentJob", func(t *testing.T) {
		s := open(t)
		_, err := s.CurrentProcessingJob(ctx)
		assert.ErrorIs(t, err, ErrNotFound)

		var jobs []*models.TranslationJob
		for i := 0; i < 3; i++ {
			job := newJobAt("Psalms", i+1, "es", base.Add(time.Duration(i)*time.Second))
			require.NoError(t, s.CreateJob(ctx, job))
			jobs = append(jobs, job)
		}

		pos, err := s.QueuePosition(ctx, jobs[2])
		require.NoError(t, err)
		assert.Equal(t, 3, pos)

		_, err = s.ClaimJob(ctx, models.ClaimOptions{StaleAfter: 5 * time.Minute, Now: base.Add(time.Minute)})
		require.NoError(t, err)

		pos, err = s.QueuePosition(ctx, jobs[2])
		require.NoError(t, err)
		assert.Equal(t, 2, pos)

		current, err := s.CurrentProcessingJob(ctx)
		require.NoError(t, err)
		assert.Equal(t, jobs[0].JobID, current.JobID)
	})

	t.Run("ListJobs", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 3; i++ {
			require.NoError(t, s.CreateJob(ctx, newJobAt("Mark", i+1, "es", base.Add(time.Duration(i)*time.Second))))
		}
		done := newJobAt("Mark", 9, "es", base.Add(time.Hour))
		done.MarkCompleted(base.Add(time.Hour))
		require.NoError(t, s.CreateJob(ctx, done))

		all, err := s.ListJobs(ctx, "", 0)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, done.JobID, all[0].JobID, "newest first")

		pending, err := s.ListJobs(ctx, models.JobPending, 2)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, 3, pending[0].Chapter)
	})

	t.Run("UpsertTranslation", func(t *testing.T) {
		s := open(t)
		tr := &models.VerseTranslation{
			Book: "John", Chapter: 1, Verse: 1, LanguageCode: "es",
			VerseText: "En la cabeza", Status: models.TranslationAIGenerated, GeneratedBy: "gemini",
		}
		require.NoError(t, s.UpsertTranslation(ctx, tr))
		require.NotZero(t, tr.ID)
		firstID := tr.ID

		update := &models.VerseTranslation{
			Book: "John", Chapter: 1, Verse: 1, LanguageCode: "es",
			VerseText: "En el principio", Status: models.TranslationHumanReviewed,
		}
		require.NoError(t, s.UpsertTranslation(ctx, update))
		assert.Equal(t, firstID, update.ID)

		got, err := s.GetTranslation(ctx, update.Key())
		require.NoError(t, err)
		assert.Equal(t, "En el principio", got.VerseText)
		assert.Equal(t, models.TranslationHumanReviewed, got.Status)

		_, err = s.GetTranslation(ctx, models.TranslationKey{Book: "John", Chapter: 1, Verse: 2, LanguageCode: "es"})
		assert.ErrorIs(t, err, ErrNotFound)

		assert.Error(t, s.UpsertTranslation(ctx, &models.VerseTranslation{Book: "John", LanguageCode: "es", Status: "bogus"}))
	})

	t.Run("ChapterTranslationsAndCompleted", func(t *testing.T) {
		s := open(t)
		rows := []*models.VerseTranslation{
			{Book: "John", Chapter: 2, Verse: 0, LanguageCode: "es", FootnoteID: "John-2b", FootnoteText: "nota b", Status: models.TranslationCompleted},
			{Book: "John", Chapter: 2, Verse: 2, LanguageCode: "es", VerseText: "dos", Status: models.TranslationCompleted},
			{Book: "John", Chapter: 2, Verse: 1, LanguageCode: "es", VerseText: "uno", Status: models.TranslationPublished},
			{Book: "John", Chapter: 2, Verse: 3, LanguageCode: "es", VerseText: "[Translation parsing error]", Status: models.TranslationFailed},
			{Book: "John", Chapter: 2, Verse: 4, LanguageCode: "es", Status: models.TranslationCompleted},
			{Book: "John", Chapter: 2, Verse: 0, LanguageCode: "es", FootnoteID: "John-2a", FootnoteText: "nota a", Status: models.TranslationCompleted},
			{Book: "John", Chapter: 2, Verse: 0, LanguageCode: "es", FootnoteID: "John-2c", Status: models.TranslationFailed},
			{Book: "John", Chapter: 2, Verse: 1, LanguageCode: "fr", VerseText: "un", Status: models.TranslationCompleted},
		}
		for _, r := range rows {
			require.NoError(t, s.UpsertTranslation(ctx, r))
		}

		chapter, err := s.ChapterTranslations(ctx, "John", 2, "es")
		require.NoError(t, err)
		require.Len(t, chapter, 7)
		assert.Equal(t, 1, chapter[0].Verse)
		assert.Equal(t, 2, chapter[1].Verse)
		assert.Equal(t, "John-2a", chapter[4].FootnoteID)
		assert.Equal(t, "John-2c", chapter[6].FootnoteID)

		verses, err := s.CompletedVerses(ctx, "John", 2, "es")
		require.NoError(t, err)
		assert.Equal(t, map[int]bool{1: true, 2: true}, verses)

		notes, err := s.CompletedFootnotes(ctx, "John", 2, "es")
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"John-2a": true, "John-2b": true}, notes)
	})

	t.Run("Updates", func(t *testing.T) {
		s := open(t)
		n, err := s.CountUpdates(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		for i := 0; i < 3; i++ {
			require.NoError(t, s.AppendUpdate(ctx, &models.TranslationUpdate{
				Date:       base.Add(time.Duration(i) * time.Hour),
				Version:    "1.0",
				Reference:  "Gen 1:1",
				UpdateText: "revised",
			}))
		}

		dup := &models.TranslationUpdate{Date: base, Reference: "Gen 1:2", UpdateText: "again"}
		assert.ErrorIs(t, s.AppendUpdate(ctx, dup), ErrDuplicate)
		assert.Error(t, s.AppendUpdate(ctx, &models.TranslationUpdate{Date: base.Add(time.Minute)}))

		n, err = s.CountUpdates(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		updates, err := s.ListUpdates(ctx, 2, 0)
		require.NoError(t, err)
		require.Len(t, updates, 2)
		assert.WithinDuration(t, base.Add(2*time.Hour), updates[0].Date, time.Millisecond)

		updates, err = s.ListUpdates(ctx, 10, 2)
		require.NoError(t, err)
		require.Len(t, updates, 1)
		assert.WithinDuration(t, base, updates[0].Date, time.Millisecond)

		updates, err = s.ListUpdates(ctx, 10, 5)
		require.NoError(t, err)
		assert.Empty(t, updates)
	})

	t.Run("FootnoteTranslation", func(t *testing.T) {
		s := open(t)
		rows := []*models.VerseTranslation{
			{Book: "Galatians", Chapter: 2, LanguageCode: "es", FootnoteID: "Galatians-7", FootnoteText: "nota siete", Status: models.TranslationCompleted},
			{Book: "Galatians", Chapter: 3, LanguageCode: "es", FootnoteID: "Galatians-8", FootnoteText: "[Translation parsing error]", Status: models.TranslationFailed},
			{Book: "Galatians", Chapter: 3, LanguageCode: "fr", FootnoteID: "Galatians-8", FootnoteText: "note huit", Status: models.TranslationAIGenerated},
		}
		for _, r := range rows {
			require.NoError(t, s.UpsertTranslation(ctx, r))
		}

		got, err := s.FootnoteTranslation(ctx, "Galatians", "Galatians-7", "es")
		require.NoError(t, err)
		assert.Equal(t, "nota siete", got.FootnoteText)
		assert.Equal(t, 2, got.Chapter, "found without knowing the chapter")

		_, err = s.FootnoteTranslation(ctx, "Galatians", "Galatians-8", "es")
		assert.ErrorIs(t, err, ErrNotFound, "failed rows are not served")

		got, err = s.FootnoteTranslation(ctx, "Galatians", "Galatians-8", "fr")
		require.NoError(t, err)
		assert.Equal(t, "note huit", got.FootnoteText)

		_, err = s.FootnoteTranslation(ctx, "Romans", "Galatians-7", "es")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdatesBetween", func(t *testing.T) {
		s := open(t)
		day := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
		stamps := []time.Time{
			day.Add(-time.Minute),
			day,
			day.Add(9 * time.Hour),
			day.Add(24*time.Hour - time.Millisecond),
			day.Add(24 * time.Hour),
		}
		for i, at := range stamps {
			require.NoError(t, s.AppendUpdate(ctx, &models.TranslationUpdate{
				Date:       at,
				Version:    "1.0",
				Reference:  fmt.Sprintf("Gen 1:%d", i+1),
				UpdateText: "revised",
			}))
		}

		n, err := s.CountUpdatesBetween(ctx, day, day.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.Equal(t, 3, n, "from is inclusive and to is exclusive")

		updates, err := s.ListUpdatesBetween(ctx, day, day.AddDate(0, 0, 1), 0, 0)
		require.NoError(t, err)
		require.Len(t, updates, 3)
		assert.Equal(t, "Gen 1:4", updates[0].Reference, "newest first")
		assert.Equal(t, "Gen 1:2", updates[2].Reference)

		updates, err = s.ListUpdatesBetween(ctx, day, day.AddDate(0, 0, 1), 1, 1)
		require.NoError(t, err)
		require.Len(t, updates, 1)
		assert.Equal(t, "Gen 1:3", updates[0].Reference)

		n, err = s.CountUpdatesBetween(ctx, time.Time{}, day)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "zero from is open")

		n, err = s.CountUpdatesBetween(ctx, day.AddDate(0, 0, 1), time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 1, n, "zero to is open")

		updates, err = s.ListUpdatesBetween(ctx, time.Time{}, time.Time{}, 0, 0)
		require.NoError(t, err)
		assert.Len(t, updates, len(stamps))
	})

	t.Run("Ping", func(t *testing.T) {
		s := open(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
