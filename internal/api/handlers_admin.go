package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"rbt/internal/models"
	"rbt/internal/ratelimit"
	"rbt/internal/storage"

	"github.com/gorilla/mux"
)

// BansResponse lists rate limiter state.
type BansResponse struct {
	Entries []ratelimit.StateEntry `json:"entries"`
	Count   int                    `json:"count"`
}

// UnbanResponse reports how many limiter entries were cleared for an IP.
type UnbanResponse struct {
	IP      string `json:"ip"`
	Removed int    `json:"removed"`
}

// JobsResponse lists translation jobs.
type JobsResponse struct {
	Jobs  []*models.TranslationJob `json:"jobs"`
	Count int                      `json:"count"`
}

// ListBans lists active bans, or every ban, strike and window with ?all=true
// GET /api/admin/bans
func (h *Handlers) ListBans(w http.ResponseWriter, r *http.Request) {
	if h.guard == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "rate limiting is disabled")
		return
	}

	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	var (
		entries []ratelimit.StateEntry
		err     error
	)
	if all {
		entries, err = h.guard.Entries(r.Context())
	} else {
		entries, err = h.guard.Bans(r.Context())
	}
	if err != nil {
		slog.Error("Failed to list rate limit state", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to list bans")
		return
	}
	if entries == nil {
		entries = []ratelimit.StateEntry{}
	}
	h.writeJSONResponse(w, http.StatusOK, BansResponse{Entries: entries, Count: len(entries)})
}

// Unban clears the ban, strikes and windows of an IP
// DELETE /api/admin/bans/{ip}
func (h *Handlers) Unban(w http.ResponseWriter, r *http.Request) {
	if h.guard == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "rate limiting is disabled")
		return
	}

	ip := mux.Vars(r)["ip"]
	if net.ParseIP(ip) == nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid IP address")
		return
	}

	removed, err := h.guard.Unban(r.Context(), ip)
	if err != nil {
		slog.Error("Failed to unban IP", "ip", ip, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to unban")
		return
	}
	if removed == 0 {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "no rate limit state for "+ip)
		return
	}

	slog.Info("IP unbanned", "ip", ip, "removed", removed, "by", ratelimit.ClientIP(r))
	h.writeJSONResponse(w, http.StatusOK, UnbanResponse{IP: ip, Removed: removed})
}

// ListJobs lists recent translation jobs
// GET /api/admin/jobs?status=&limit=
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := h.translation.ListJobs(r.Context(), models.JobStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*models.TranslationJob{}
	}
	h.writeJSONResponse(w, http.StatusOK, JobsResponse{Jobs: jobs, Count: len(jobs)})
}

// AppendUpdate records a translation update in the public log
// POST /api/admin/updates
func (h *Handlers) AppendUpdate(w http.ResponseWriter, r *http.Request) {
	var u models.TranslationUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&u); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if u.Date.IsZero() {
		u.Date = time.Now().UTC()
	}
	if err := u.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	err := h.storage.AppendUpdate(r.Context(), &u)
	if errors.Is(err, storage.ErrDuplicate) {
		h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict, "an update with this date already exists")
		return
	}
	if err != nil {
		slog.Error("Failed to append update", "reference", u.Reference, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to record update")
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, u)
}
