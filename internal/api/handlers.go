package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"rbt/internal/content"
	"rbt/internal/models"
	"rbt/internal/ratelimit"
	"rbt/internal/storage"
	"rbt/internal/translation"
	"rbt/internal/version"
)

// Handlers contains HTTP handlers for the RBT API
type Handlers struct {
	translation translation.ServiceInterface
	storage     storage.Storage
	guard       *ratelimit.Guard
	verifier    *ratelimit.HumanVerifier
	source      content.Source
	started     time.Time
	now         func() time.Time
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithGuard enables the ban management endpoints.
func WithGuard(g *ratelimit.Guard) HandlerOption {
	return func(h *Handlers) { h.guard = g }
}

// WithHumanVerifier enables the challenge and verify endpoints.
func WithHumanVerifier(v *ratelimit.HumanVerifier) HandlerOption {
	return func(h *Handlers) { h.verifier = v }
}

// WithSource enables the footnote endpoint.
func WithSource(src content.Source) HandlerOption {
	return func(h *Handlers) { h.source = src }
}

// WithClock replaces time.Now for the date based update endpoints.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handlers) { h.now = now }
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc translation.ServiceInterface, store storage.Storage, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		translation: svc,
		storage:     store,
		started:     time.Now(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StartTranslation queues a chapter for translation
// GET|POST /api/translate/start?book=&chapter=&lang=
func (h *Handlers) StartTranslation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.translation.StartJob(r.Context(), q.Get("book"), q.Get("chapter"), q.Get("lang"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// TranslationStatus reports job progress
// GET /api/translate/status?job_id=
func (h *Handlers) TranslationStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.translation.JobStatus(r.Context(), r.URL.Query().Get("job_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// ClearCache drops a rendered chapter after its translation completes
// POST /api/translate/clear-cache?book=&chapter=&lang=
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.translation.ClearCache(r.Context(), q.Get("book"), q.Get("chapter"), q.Get("lang"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// Translations returns the stored translation of a chapter
// GET /api/translations?book=&chapter=&lang=
func (h *Handlers) Translations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.translation.Translations(r.Context(), q.Get("book"), q.Get("chapter"), q.Get("lang"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// Languages lists the translation targets
// GET /api/languages
func (h *Handlers) Languages(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, models.LanguagesResponse{Languages: models.SupportedLanguages()})
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	info := version.GetInfo()
	response.Version = info.Version
	response.Uptime = time.Since(h.started).Round(time.Second).String()

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.storage.Ping(ctx); err != nil {
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}
	response.AddComponent("api", models.StatusHealthy, "API is operational")

	if pending, err := h.storage.ListJobs(ctx, models.JobPending, 0); err == nil {
		response.AddMetric("pending_jobs", len(pending))
	}

	status := http.StatusOK
	if response.Status == models.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, status, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written.
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}

// writeServiceError maps a translation.ServiceError to its status and code.
// Anything else is an internal error.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *translation.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.StatusCode >= http.StatusInternalServerError {
			slog.Error("Request failed", "path", r.URL.Path, "error", err)
		}
		h.writeErrorResponse(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}
	slog.Error("Request failed", "path", r.URL.Path, "error", err)
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}
