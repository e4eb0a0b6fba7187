// Package models - API response types and error handling.
// This file defines the outgoing JSON structures shared by the HTTP handlers,
// the admin CLI, and the request mitigation middleware.
//
// Response conventions:
// - Errors always carry a human message and a machine-readable code
// - Optional fields use omitempty
// - Timestamps are RFC3339 via time.Time
package models

import (
	"time"
)

// ErrorResponse provides structured error information.
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StartJobResponse is returned when a translation job is queued, or when an
// equivalent job is already queued or running.
type StartJobResponse struct {
	Status  string    `json:"status"`
	JobID   string    `json:"job_id"`
	Message string    `json:"message"`
	Job     JobStatus `json:"job_status"`
}

// CurrentJobInfo summarises the job the worker is processing right now.
type CurrentJobInfo struct {
	Book     string `json:"book"`
	Chapter  int    `json:"chapter"`
	Language string `json:"language"`
	Progress int    `json:"progress"`
}

// JobStatusResponse reports the state of a job and its place in the queue.
type JobStatusResponse struct {
	JobID               string          `json:"job_id"`
	Status              JobStatus       `json:"status"`
	Progress            int             `json:"progress"`
	TotalVerses         int             `json:"total_verses"`
	TranslatedVerses    int             `json:"translated_verses"`
	TotalFootnotes      int             `json:"total_footnotes"`
	TranslatedFootnotes int             `json:"translated_footnotes"`
	Error               string          `json:"error,omitempty"`
	Book                string          `json:"book"`
	Chapter             int             `json:"chapter"`
	LanguageCode        string          `json:"language_code"`
	QueuePosition       int             `json:"queue_position,omitempty"`
	CurrentJob          *CurrentJobInfo `json:"current_job,omitempty"`
}

// NewJobStatusResponse copies the job counters into a status response.
func NewJobStatusResponse(job *TranslationJob) *JobStatusResponse {
	return &JobStatusResponse{
		JobID:               job.JobID,
		Status:              job.Status,
		Progress:            job.ProgressPercent(),
		TotalVerses:         job.TotalVerses,
		TranslatedVerses:    job.TranslatedVerses,
		TotalFootnotes:      job.TotalFootnotes,
		TranslatedFootnotes: job.TranslatedFootnotes,
		Error:               job.ErrorMessage,
		Book:                job.Book,
		Chapter:             job.Chapter,
		LanguageCode:        job.LanguageCode,
	}
}

// ChapterTranslationsResponse is the read-back view of a translated chapter.
type ChapterTranslationsResponse struct {
	Book         string            `json:"book"`
	Chapter      int               `json:"chapter"`
	LanguageCode string            `json:"language_code"`
	BookTitle    string            `json:"book_title,omitempty"`
	Verses       map[int]string    `json:"verses"`
	Footnotes    map[string]string `json:"footnotes"`
}

type ClearCacheResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Key     string `json:"key"`
}

type LanguagesResponse struct {
	Languages []Language `json:"languages"`
}

type UpdatesResponse struct {
	Updates    []*TranslationUpdate `json:"updates"`
	TotalCount int                  `json:"total_count"`
}

// UpdateCountResponse carries the number of updates logged today.
type UpdateCountResponse struct {
	UpdateCount int `json:"updateCount"`
}

// FootnoteResponse is one footnote's HTML. Translated is false when the
// English text was served.
type FootnoteResponse struct {
	ID           string `json:"id"`
	Book         string `json:"book"`
	LanguageCode string `json:"language_code"`
	HTML         string `json:"html"`
	Translated   bool   `json:"translated"`
}

// HumanVerifyResponse is returned by the human verification endpoint.
type HumanVerifyResponse struct {
	Status string `json:"status"`
	Next   string `json:"next"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeJobNotFound        = "JOB_NOT_FOUND"       // 404: Translation job doesn't exist
	ErrorCodeContentNotFound    = "CONTENT_NOT_FOUND"   // 404: No source text for the chapter
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeUnsupportedLang    = "UNSUPPORTED_LANG"    // 400: Language is not a translation target
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Permission denied
	ErrorCodeBanned             = "IP_BANNED"           // 403: Temporary IP ban in effect
	ErrorCodeBotBlocked         = "BOT_BLOCKED"         // 403: User agent rejected
	ErrorCodeRateLimited        = "RATE_LIMIT_EXCEEDED" // 429: Window exhausted
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"  // 405: Wrong HTTP method
	ErrorCodeConflict           = "CONFLICT"            // 409: Row already exists
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

// AddComponent records a component result and downgrades the overall status
// when the component is not healthy.
func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
	if status == StatusUnhealthy {
		h.Status = StatusUnhealthy
	} else if status == StatusDegraded && h.Status == StatusHealthy {
		h.Status = StatusDegraded
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
