package ratelimit

import (
	"log/slog"
	"net/http"
	"strings"

	"rbt/internal/models"
)

const botDeniedMessage = "Access denied. If you are a legitimate bot, please contact the site administrator."

// BotFilterOptions configures BotFilter.
type BotFilterOptions struct {
	// Blocked and Allowed are lowercase user agent fragments. An allowed match
	// wins over a blocked one.
	Blocked         []string
	Allowed         []string
	Debug           bool
	ExemptPrefixes  []string
	IsAuthenticated func(*http.Request) bool
	Logger          *slog.Logger
}

// Blocks reports whether a user agent is rejected.
func (o BotFilterOptions) Blocks(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, a := range o.Allowed {
		if strings.Contains(ua, a) {
			return false
		}
	}
	for _, b := range o.Blocked {
		if strings.Contains(ua, b) {
			return true
		}
	}
	return false
}

// BotFilter rejects requests from scraper user agents with 403. An empty
// user agent passes; some privacy tools strip it.
func BotFilter(opts BotFilterOptions) func(http.Handler) http.Handler {
	if opts.ExemptPrefixes == nil {
		opts.ExemptPrefixes = DefaultExemptPrefixes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Debug || isExempt(r.URL.Path, opts.ExemptPrefixes) ||
				(opts.IsAuthenticated != nil && opts.IsAuthenticated(r)) {
				next.ServeHTTP(w, r)
				return
			}

			if ua := r.UserAgent(); ua != "" && opts.Blocks(ua) {
				opts.Logger.Info("Blocked user agent", "ip", ClientIP(r), "user_agent", ua, "path", r.URL.Path)
				writeDenied(w, r, http.StatusForbidden, botDeniedMessage, models.ErrorCodeBotBlocked)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
