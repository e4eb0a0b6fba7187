package ratelimit

import (
	"bytes"
	"crypto/rand"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rbt/internal/models"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// CookieName is the cookie carrying proof of a passed challenge.
const CookieName = "human_verified"

// DefaultVerifyPath is the endpoint the challenge page posts to.
const DefaultVerifyPath = "/__human_verify/"

//go:embed templates/challenge.html
var templateFS embed.FS

var challengeTemplate = template.Must(template.ParseFS(templateFS, "templates/challenge.html"))

// HumanVerifier serves the challenge page and issues the signed cookie that
// lets a browser skip rate limiting.
type HumanVerifier struct {
	secret     []byte
	maxAge     time.Duration
	secure     bool
	verifyPath string
	limiter    Limiter
	now        func() time.Time
	logger     *slog.Logger
}

// HumanOption configures a HumanVerifier.
type HumanOption func(*HumanVerifier)

// WithVerifierClock replaces time.Now for token issue and validation.
func WithVerifierClock(now func() time.Time) HumanOption {
	return func(h *HumanVerifier) { h.now = now }
}

// WithVerifyLimiter replaces the per-IP limiter on the verify endpoint.
func WithVerifyLimiter(l Limiter) HumanOption {
	return func(h *HumanVerifier) { h.limiter = l }
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(l *slog.Logger) HumanOption {
	return func(h *HumanVerifier) { h.logger = l }
}

// NewHumanVerifier creates a verifier. Cookies are marked Secure unless debug
// is set. With no configured secret a random one is generated, so cookies do
// not survive a restart.
func NewHumanVerifier(cfg models.HumanVerifyConfig, debug bool, opts ...HumanOption) (*HumanVerifier, error) {
	h := &HumanVerifier{
		secret:     []byte(cfg.Secret),
		maxAge:     cfg.MaxAge,
		secure:     !debug,
		verifyPath: DefaultVerifyPath,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if len(h.secret) == 0 {
		h.secret = make([]byte, 32)
		if _, err := rand.Read(h.secret); err != nil {
			return nil, fmt.Errorf("failed to generate verification secret: %w", err)
		}
		h.logger.Warn("No human verification secret configured, using a random one")
	}
	if h.maxAge <= 0 {
		h.maxAge = 24 * time.Hour
	}
	if h.limiter == nil {
		h.limiter = NewMemoryLimiter(cfg.VerifyPerMinute, cfg.VerifyBurst, 5*time.Minute)
	}
	return h, nil
}

// Close releases the verify limiter.
func (h *HumanVerifier) Close() {
	h.limiter.Close()
}

// Issue returns a signed token valid for the configured max age.
func (h *HumanVerifier) Issue() (string, error) {
	now := h.now()
	tok := jwt.New()
	if err := tok.Set(jwt.SubjectKey, "human"); err != nil {
		return "", err
	}
	if err := tok.Set(jwt.IssuedAtKey, now); err != nil {
		return "", err
	}
	if err := tok.Set(jwt.ExpirationKey, now.Add(h.maxAge)); err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, h.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign verification token: %w", err)
	}
	return string(signed), nil
}

// ValidToken checks a token's signature and expiry.
func (h *HumanVerifier) ValidToken(token string) bool {
	_, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, h.secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(h.now)),
		jwt.WithSubject("human"),
	)
	return err == nil
}

// Valid reports whether the request carries a valid human_verified cookie.
func (h *HumanVerifier) Valid(r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return false
	}
	return h.ValidToken(c.Value)
}

type challengePage struct {
	EncodedNext string
	VerifyPath  string
}

// Challenge renders the verification page.
func (h *HumanVerifier) Challenge(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"))

	var buf bytes.Buffer
	page := challengePage{EncodedNext: encodeURIComponent(next), VerifyPath: h.verifyPath}
	if err := challengeTemplate.Execute(&buf, page); err != nil {
		h.logger.Error("Failed to render challenge page", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Verify sets the cookie. Only POST is accepted.
func (h *HumanVerifier) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, models.NewErrorResponse("POST required", models.ErrorCodeMethodNotAllowed))
		return
	}

	ip := ClientIP(r)
	if ok, info := h.limiter.Allow(ip); !ok {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(info.RetryAfter)))
		writeJSON(w, http.StatusTooManyRequests, models.NewErrorResponse("Too many verification attempts", models.ErrorCodeRateLimited))
		return
	}

	token, err := h.Issue()
	if err != nil {
		h.logger.Error("Failed to issue verification token", "error", err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Verification failed", models.ErrorCodeInternalError))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("Human verification passed", "ip", ip)
	writeJSON(w, http.StatusOK, models.HumanVerifyResponse{
		Status: "ok",
		Next:   safeNext(r.URL.Query().Get("next")),
	})
}

// safeNext keeps redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

// encodeURIComponent percent-encodes every reserved character, spaces as %20,
// so the result round-trips through JavaScript's decodeURIComponent.
func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
