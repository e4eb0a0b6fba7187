package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rbt/internal/content"
	"rbt/internal/models"
	"rbt/internal/storage"

	"github.com/gorilla/mux"
)

const defaultStatsDays = 30

// Updates lists the translation update log, newest first. date=YYYY-MM-DD
// limits it to one day and month=N to a month of the current year.
// GET /api/updates?date=&month=&limit=&offset=
func (h *Handlers) Updates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := 100, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	from, to, err := updateRange(q, h.now())
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	updates, err := h.storage.ListUpdatesBetween(r.Context(), from, to, limit, offset)
	if err != nil {
		slog.Error("Failed to list updates", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to list updates")
		return
	}
	total, err := h.storage.CountUpdatesBetween(r.Context(), from, to)
	if err != nil {
		slog.Error("Failed to count updates", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to count updates")
		return
	}
	if updates == nil {
		updates = []*models.TranslationUpdate{}
	}
	h.writeJSONResponse(w, http.StatusOK, models.UpdatesResponse{Updates: updates, TotalCount: total})
}

// updateRange turns the date and month filters into a [from, to) range in
// now's location. With neither set both bounds are zero.
func updateRange(q url.Values, now time.Time) (time.Time, time.Time, error) {
	loc := now.Location()
	if v := q.Get("date"); v != "" {
		day, err := time.ParseInLocation(time.DateOnly, v, loc)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("date must be formatted YYYY-MM-DD")
		}
		return day, day.AddDate(0, 0, 1), nil
	}
	if v := q.Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return time.Time{}, time.Time{}, errors.New("month must be between 1 and 12")
		}
		first := time.Date(now.Year(), time.Month(m), 1, 0, 0, 0, 0, loc)
		return first, first.AddDate(0, 1, 0), nil
	}
	return time.Time{}, time.Time{}, nil
}

// UpdateCount returns how many updates were logged today. It is read by
// pages on other origins.
// GET /api/update_count
func (h *Handlers) UpdateCount(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	n, err := h.storage.CountUpdatesBetween(r.Context(), today, today.AddDate(0, 0, 1))
	if err != nil {
		slog.Error("Failed to count updates", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to count updates")
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	h.writeJSONResponse(w, http.StatusOK, models.UpdateCountResponse{UpdateCount: n})
}

// Stats aggregates the update log over the last days days, or since the
// project began when days=all.
// GET /api/stats?days=
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	end := h.now()
	var start time.Time
	switch v := r.URL.Query().Get("days"); v {
	case "":
		start = end.AddDate(0, 0, -defaultStatsDays)
	case "all":
		start = models.StatsEpoch.In(end.Location())
	default:
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "days must be a non-negative integer or all")
			return
		}
		start = end.AddDate(0, 0, -n)
	}

	updates, err := h.storage.ListUpdatesBetween(r.Context(), start, end.Add(time.Nanosecond), 0, 0)
	if err != nil {
		slog.Error("Failed to list updates", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to list updates")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, models.NewUpdateStats(updates, start, end))
}

// Footnote returns one footnote's HTML. When lang names a translation target
// and a finished translation exists it is served, otherwise the English text.
// GET /api/footnote/{id}?book=&lang=
func (h *Handlers) Footnote(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "footnotes are not available")
		return
	}
	q := r.URL.Query()
	book, ok := content.Lookup(q.Get("book"))
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "unknown book")
		return
	}
	ref := strings.TrimPrefix(mux.Vars(r)["id"], book.Name+"-")
	resp := models.FootnoteResponse{
		ID:           content.FootnoteID(book, ref),
		Book:         book.Name,
		LanguageCode: models.SourceLanguage,
	}

	if lang := q.Get("lang"); lang != "" && lang != models.SourceLanguage {
		code, err := models.NormalizeLanguage(lang)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeUnsupportedLang, err.Error())
			return
		}
		t, err := h.storage.FootnoteTranslation(r.Context(), book.Name, resp.ID, code)
		switch {
		case err == nil:
			resp.LanguageCode = code
			resp.HTML = t.FootnoteText
			resp.Translated = true
			h.writeJSONResponse(w, http.StatusOK, resp)
			return
		case !errors.Is(err, storage.ErrNotFound):
			slog.Warn("Failed to read footnote translation, serving English", "footnote_id", resp.ID, "lang", code, "error", err)
		}
	}

	html, err := h.source.Footnote(r.Context(), book.Name, ref)
	if errors.Is(err, content.ErrNotFound) {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "footnote not found")
		return
	}
	if err != nil {
		slog.Error("Failed to read footnote", "footnote_id", resp.ID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to read footnote")
		return
	}
	resp.HTML = html
	h.writeJSONResponse(w, http.StatusOK, resp)
}
