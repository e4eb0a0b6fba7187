package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rbt/internal/models"
)

// DefaultChallengePath is where over-limit browsers are sent.
const DefaultChallengePath = "/__human_challenge/"

// DefaultExemptPrefixes are never counted or filtered.
var DefaultExemptPrefixes = []string{
	"/health",
	"/api/v1/health",
	"/__human_challenge/",
	"/__human_verify/",
	"/static/",
	"/favicon.ico",
}

// MiddlewareOptions configures Middleware.
type MiddlewareOptions struct {
	Guard    *Guard
	Verifier *HumanVerifier // nil disables the cookie bypass

	// Debug disables limiting for local development.
	Debug bool

	// ChallengeRedirect sends over-limit browsers to ChallengePath. API and
	// XHR callers always receive 429.
	ChallengeRedirect bool
	ChallengePath     string
	ExemptPrefixes    []string

	// IsAuthenticated identifies editors, who are never limited.
	IsAuthenticated func(*http.Request) bool

	Logger *slog.Logger
}

// Middleware enforces the Guard's decisions on every request that is not
// exempt, authenticated or carrying a valid human_verified cookie.
func Middleware(opts MiddlewareOptions) func(http.Handler) http.Handler {
	if opts.ChallengePath == "" {
		opts.ChallengePath = DefaultChallengePath
	}
	if opts.ExemptPrefixes == nil {
		opts.ExemptPrefixes = DefaultExemptPrefixes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Debug || isExempt(r.URL.Path, opts.ExemptPrefixes) ||
				(opts.IsAuthenticated != nil && opts.IsAuthenticated(r)) ||
				(opts.Verifier != nil && opts.Verifier.Valid(r)) {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			d := opts.Guard.Check(r.Context(), ip, Classify(r))
			setLimitHeaders(w, d)

			switch d.Action {
			case ActionAllow:
				next.ServeHTTP(w, r)

			case ActionChallenge:
				opts.Logger.Warn("Rate limit exceeded",
					"ip", ip,
					"category", d.Category,
					"limit", d.Limit,
					"strikes", d.Strikes,
				)
				if opts.ChallengeRedirect && !IsAPIRequest(r) {
					target, err := challengeURL(opts.ChallengePath, r)
					if err == nil {
						http.Redirect(w, r, target, http.StatusFound)
						return
					}
					opts.Logger.Warn("Challenge redirect failed, answering 429", "error", err)
				}
				tooManyRequests(w, r, d)

			default:
				forbidden(w, r, d)
			}
		})
	}
}

func isExempt(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func challengeURL(challengePath string, r *http.Request) (string, error) {
	u, err := url.Parse(challengePath)
	if err != nil {
		return "", fmt.Errorf("invalid challenge path %q: %w", challengePath, err)
	}
	q := u.Query()
	q.Set("next", r.URL.RequestURI())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

func tooManyRequests(w http.ResponseWriter, r *http.Request, d Decision) {
	secs := retryAfterSeconds(d.RetryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	msg := fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", secs)
	writeDenied(w, r, http.StatusTooManyRequests, msg, models.ErrorCodeRateLimited)
}

func forbidden(w http.ResponseWriter, r *http.Request, d Decision) {
	secs := retryAfterSeconds(d.RetryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	msg := fmt.Sprintf("Too many requests. Access is blocked for %d seconds.", secs)
	writeDenied(w, r, http.StatusForbidden, msg, models.ErrorCodeBanned)
}

// writeDenied answers JSON to API callers and plain text to browsers.
func writeDenied(w http.ResponseWriter, r *http.Request, status int, msg, code string) {
	if IsAPIRequest(r) {
		writeJSON(w, status, models.NewErrorResponse(msg, code))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, msg)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// IsAPIRequest reports whether the caller expects JSON rather than a page:
// XHR requests, requests accepting application/json, and /api/ paths.
func IsAPIRequest(r *http.Request) bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// ClientIP returns the connection address without its port. Behind a
// reverse proxy, RealIP must run first to replace RemoteAddr with the
// forwarded client address.
func ClientIP(r *http.Request) string {
	return remoteHost(r.RemoteAddr)
}
