package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"rbt/internal/models"
)

// Category groups endpoints that share a rate limit policy.
type Category string

const (
	CategoryVerse   Category = "verse"
	CategoryChapter Category = "chapter"
	CategoryAPI     Category = "api"
	CategoryGeneral Category = "general"
)

// Categories lists every category in classification order.
var Categories = []Category{CategoryVerse, CategoryChapter, CategoryAPI, CategoryGeneral}

// Classify picks the category for a request. Single-verse lookups are the
// most expensive pages, then whole chapters, then the JSON APIs.
func Classify(r *http.Request) Category {
	q := r.URL.Query()
	switch {
	case q.Has("verse") && q.Has("chapter"):
		return CategoryVerse
	case q.Has("chapter") && q.Has("book"):
		return CategoryChapter
	case strings.HasPrefix(r.URL.Path, "/translate/") || strings.HasPrefix(r.URL.Path, "/api/"):
		return CategoryAPI
	default:
		return CategoryGeneral
	}
}

// Policy is the fixed-window limit and escalation rule for a category.
type Policy struct {
	Limit       int
	Window      time.Duration
	MaxStrikes  int
	BanDuration time.Duration
}

// Policies maps each category to its policy.
type Policies map[Category]Policy

// PoliciesFromConfig converts the configured per-category policies.
func PoliciesFromConfig(cfg models.RateLimitConfig) Policies {
	conv := func(p models.PolicyConfig) Policy {
		return Policy{Limit: p.Limit, Window: p.Window, MaxStrikes: p.MaxStrikes, BanDuration: p.BanDuration}
	}
	return Policies{
		CategoryVerse:   conv(cfg.Verse),
		CategoryChapter: conv(cfg.Chapter),
		CategoryAPI:     conv(cfg.API),
		CategoryGeneral: conv(cfg.General),
	}
}

// DefaultPolicies returns the production policies.
func DefaultPolicies() Policies {
	return PoliciesFromConfig(models.NewDefaultConfig().Security.RateLimit)
}

func (p Policies) validate() error {
	for _, c := range Categories {
		pol, ok := p[c]
		if !ok {
			return fmt.Errorf("missing policy for category %s", c)
		}
		if pol.Limit <= 0 || pol.Window <= 0 || pol.MaxStrikes <= 0 || pol.BanDuration <= 0 {
			return fmt.Errorf("policy for category %s must have positive values", c)
		}
	}
	return nil
}

func windowKey(c Category, ip string) string { return "ratelimit:" + string(c) + ":" + ip }
func strikeKey(c Category, ip string) string { return "strikes:" + string(c) + ":" + ip }
func banKey(ip string) string                { return "banned:" + ip }
