package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle of a TranslationJob:
// pending -> processing -> completed | failed.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Active reports whether a job with this status still occupies the queue.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobProcessing
}

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// TranslationJob is one queued request to translate a chapter into a
// language. Jobs are claimed by exactly one worker at a time; Attempts counts
// how often the job has been claimed, including orphan reclaims. UpdatedAt is
// refreshed on every progress save and serves as the worker heartbeat.
type TranslationJob struct {
	JobID               string     `json:"job_id"`
	Book                string     `json:"book"`
	Chapter             int        `json:"chapter"`
	LanguageCode        string     `json:"language_code"`
	Status              JobStatus  `json:"status"`
	TotalVerses         int        `json:"total_verses"`
	TranslatedVerses    int        `json:"translated_verses"`
	TotalFootnotes      int        `json:"total_footnotes"`
	TranslatedFootnotes int        `json:"translated_footnotes"`
	Attempts            int        `json:"attempts"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// NewTranslationJob returns a pending job with a fresh UUID.
func NewTranslationJob(book string, chapter int, languageCode string) *TranslationJob {
	now := time.Now().UTC()
	return &TranslationJob{
		JobID:        uuid.NewString(),
		Book:         book,
		Chapter:      chapter,
		LanguageCode: languageCode,
		Status:       JobPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ProgressPercent is the share of verses and footnotes already written,
// rounded down. A job with nothing to translate reports 100 once completed.
func (j *TranslationJob) ProgressPercent() int {
	total := j.TotalVerses + j.TotalFootnotes
	if total == 0 {
		if j.Status == JobCompleted {
			return 100
		}
		return 0
	}
	done := j.TranslatedVerses + j.TranslatedFootnotes
	if done > total {
		done = total
	}
	return done * 100 / total
}

// Stale reports whether a processing job has gone without a heartbeat for
// longer than staleAfter.
func (j *TranslationJob) Stale(now time.Time, staleAfter time.Duration) bool {
	return j.Status == JobProcessing && j.UpdatedAt.Before(now.Add(-staleAfter))
}

// MarkProcessing records a claim.
func (j *TranslationJob) MarkProcessing(now time.Time) {
	j.Status = JobProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
	j.ErrorMessage = ""
	j.Attempts++
}

// MarkCompleted finishes the job successfully.
func (j *TranslationJob) MarkCompleted(now time.Time) {
	j.Status = JobCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
}

// MarkFailed finishes the job with an error message.
func (j *TranslationJob) MarkFailed(now time.Time, msg string) {
	j.Status = JobFailed
	j.ErrorMessage = msg
	j.UpdatedAt = now
	j.CompletedAt = &now
}

func (j *TranslationJob) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	if j.Book == "" {
		return fmt.Errorf("book is required")
	}
	if j.Chapter < 1 {
		return fmt.Errorf("chapter must be positive")
	}
	if j.LanguageCode == "" {
		return fmt.Errorf("language code is required")
	}
	return nil
}

// ClaimOptions controls how a worker picks its next job.
type ClaimOptions struct {
	// StaleAfter is how long a processing job may go without a claim before
	// another worker may take it over.
	StaleAfter time.Duration
	// MaxAttempts bounds orphan reclaims; a stale job that has already been
	// claimed this many times is failed instead of reclaimed.
	MaxAttempts int
	Now         time.Time
}

// ExhaustedMessage is the error recorded on jobs failed by the reclaim bound.
func ExhaustedMessage(attempts int) string {
	return fmt.Sprintf("abandoned after %d attempts without completing", attempts)
}
