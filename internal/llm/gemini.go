package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"rbt/internal/models"

	"github.com/abadojack/whatlanggo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GenerateFunc sends one prompt to the model with one API key.
type GenerateFunc func(ctx context.Context, apiKey, model, prompt string) (string, error)

// Gemini is a Translator backed by the Gemini API. It keeps using the key
// that last succeeded and moves to the next one when a key reports quota
// exhaustion.
type Gemini struct {
	keys     []string
	model    string
	timeout  time.Duration
	detect   bool
	generate GenerateFunc
	limiter  *rate.Limiter
	logger   *slog.Logger
	requests metric.Int64Counter
	latency  metric.Float64Histogram

	mu      sync.Mutex
	current int
	clients map[string]*genai.Client
}

// Option configures a Gemini translator.
type Option func(*Gemini)

// WithGenerateFunc replaces the Gemini API call.
func WithGenerateFunc(fn GenerateFunc) Option {
	return func(g *Gemini) { g.generate = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gemini) { g.logger = l }
}

// NewGemini creates a translator from cfg. Calls are paced to
// cfg.RequestsPerMinute across all keys.
func NewGemini(cfg models.TranslationConfig, opts ...Option) (*Gemini, error) {
	g := &Gemini{
		keys:    append([]string(nil), cfg.APIKeys...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		detect:  cfg.DetectLanguage,
		logger:  slog.Default(),
		limiter: rate.NewLimiter(rate.Inf, 1),
		clients: make(map[string]*genai.Client),
	}
	if cfg.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	g.generate = g.callGemini
	for _, opt := range opts {
		opt(g)
	}

	counter, err := otel.Meter("rbt/llm").Int64Counter(
		"llm.requests",
		metric.WithDescription("Model calls by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	g.requests = counter

	g.latency, err = otel.Meter("rbt/llm").Float64Histogram(
		"llm.request.duration",
		metric.WithDescription("Wall time of a translation call including key rotation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}
	return g, nil
}

func (g *Gemini) Model() string {
	return g.model
}

func (g *Gemini) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.clients[apiKey] = c
	return c, nil
}

func (g *Gemini) callGemini(ctx context.Context, apiKey, model, prompt string) (string, error) {
	c, err := g.client(ctx, apiKey)
	if err != nil {
		return "", err
	}
	resp, err := c.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

// isQuotaError matches the messages the API uses for exhausted keys.
func isQuotaError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "resource_exhausted")
}

// call sends prompt, rotating keys on quota errors. It returns
// ErrQuotaExceeded once every key has been tried.
func (g *Gemini) call(ctx context.Context, kind, prompt string) (string, error) {
	defer func(began time.Time) {
		g.latency.Record(ctx, time.Since(began).Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
	}(time.Now())

	g.mu.Lock()
	start := g.current
	g.mu.Unlock()

	for i := range g.keys {
		idx := (start + i) % len(g.keys)

		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if g.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		}
		text, err := g.generate(callCtx, g.keys[idx], g.model, prompt)
		if cancel != nil {
			cancel()
		}

		switch {
		case err == nil:
			g.mu.Lock()
			g.current = idx
			g.mu.Unlock()
			g.count(ctx, kind, "ok")
			return text, nil
		case isQuotaError(err):
			g.count(ctx, kind, "quota")
			g.logger.Warn("API key exhausted, trying next key",
				"key", i+1,
				"keys", len(g.keys),
			)
			continue
		default:
			g.count(ctx, kind, "error")
			return "", err
		}
	}

	g.mu.Lock()
	g.current = (start + 1) % len(g.keys)
	g.mu.Unlock()
	return "", ErrQuotaExceeded
}

func (g *Gemini) count(ctx context.Context, kind, outcome string) {
	g.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (g *Gemini) TranslateTitle(ctx context.Context, title, lang string) (string, error) {
	if len(g.keys) == 0 {
		return UnavailableText, nil
	}
	text, err := g.call(ctx, "title", titlePrompt(title, models.LanguageName(lang)))
	if err != nil {
		return "", err
	}
	return strings.Trim(text, "\"“” \n"), nil
}

func (g *Gemini) TranslateVerses(ctx context.Context, verses map[int]string, lang string) (map[int]string, error) {
	out := make(map[int]string, len(verses))
	if len(verses) == 0 {
		return out, nil
	}
	if len(g.keys) == 0 {
		for n := range verses {
			out[n] = UnavailableText
		}
		return out, nil
	}

	text, err := g.call(ctx, "verses", versesPrompt(verses, models.LanguageName(lang)))
	if errors.Is(err, ErrQuotaExceeded) || ctx.Err() != nil {
		return nil, errors.Join(err, ctx.Err())
	}
	if err != nil {
		g.logger.Error("Verse translation failed", "error", err, "language", lang)
		for n := range verses {
			out[n] = ErrorText(err)
		}
		return out, nil
	}

	parsed := ParseVerses(text)
	if len(parsed) == 0 {
		g.logger.Error("Could not parse verse markers in response", "language", lang, "length", len(text))
	}
	for n := range verses {
		t, ok := parsed[n]
		if !ok {
			out[n] = ParsingErrorText
			continue
		}
		g.checkLanguage(t, lang, "verse", n)
		out[n] = t
	}
	return out, nil
}

func (g *Gemini) TranslateFootnotes(ctx context.Context, footnotes map[string]string, lang string) (map[string]string, error) {
	out := make(map[string]string, len(footnotes))
	if len(footnotes) == 0 {
		return out, nil
	}
	if len(g.keys) == 0 {
		for id := range footnotes {
			out[id] = UnavailableText
		}
		return out, nil
	}

	text, err := g.call(ctx, "footnotes", footnotesPrompt(footnotes, models.LanguageName(lang)))
	if errors.Is(err, ErrQuotaExceeded) || ctx.Err() != nil {
		return nil, errors.Join(err, ctx.Err())
	}
	if err != nil {
		g.logger.Error("Footnote translation failed", "error", err, "language", lang)
		for id := range footnotes {
			out[id] = ErrorText(err)
		}
		return out, nil
	}

	parsed := ParseFootnotes(text)
	if len(parsed) < len(footnotes) {
		g.logger.Warn("Response is missing footnotes",
			"expected", len(footnotes),
			"parsed", len(parsed),
		)
	}
	for id := range footnotes {
		t, ok := parsed[id]
		if !ok {
			out[id] = ParsingErrorText
			continue
		}
		g.checkLanguage(t, lang, "footnote", id)
		out[id] = t
	}
	return out, nil
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// minDetectLength skips detection on fragments too short to classify.
const minDetectLength = 40

// checkLanguage logs output that still reads as English.
func (g *Gemini) checkLanguage(text, lang, kind string, key any) {
	if !g.detect {
		return
	}
	if LooksEnglish(text) && lang != models.SourceLanguage {
		g.logger.Warn("Translation output detected as English",
			"kind", kind,
			"key", key,
			"language", lang,
		)
	}
}

// LooksEnglish reports whether the visible text of html is detected as
// English. Short fragments are never flagged.
func LooksEnglish(html string) bool {
	plain := strings.TrimSpace(htmlTag.ReplaceAllString(html, " "))
	if len(plain) < minDetectLength {
		return false
	}
	return whatlanggo.DetectLang(plain).Iso6391() == "en"
}
