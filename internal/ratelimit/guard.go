package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"rbt/internal/cache"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Action is the outcome of a Guard check.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionChallenge Action = "challenge" // over the limit, strike recorded
	ActionBan       Action = "ban"       // strike threshold reached, ban written now
	ActionBanned    Action = "banned"    // an earlier ban is still active
)

// Window is the counter for one (category, IP) fixed window.
type Window struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Ban blocks every request from an IP until Until.
type Ban struct {
	Until    time.Time `json:"until"`
	Reason   string    `json:"reason"`
	Endpoint Category  `json:"endpoint"`
}

// Decision is the result of counting one request.
type Decision struct {
	Action     Action
	Category   Category
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Strikes    int
}

// Blocked reports whether the request must not reach the handler.
func (d Decision) Blocked() bool {
	return d.Action != ActionAllow
}

// Guard runs the per-IP state machine against a shared cache. Counter updates
// are read-then-write, so concurrent requests from one IP can undercount;
// limiting is approximate. Cache failures allow the request.
type Guard struct {
	cache     cache.Cache
	policies  Policies
	strikeTTL time.Duration
	now       func() time.Time
	logger    *slog.Logger
	decisions metric.Int64Counter
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithStrikeTTL sets how long strikes are remembered. Defaults to two hours.
func WithStrikeTTL(d time.Duration) GuardOption {
	return func(g *Guard) { g.strikeTTL = d }
}

// WithNow replaces time.Now.
func WithNow(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger used for cache failures and bans.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard creates a Guard. Every category must have a policy.
func NewGuard(c cache.Cache, policies Policies, opts ...GuardOption) (*Guard, error) {
	if err := policies.validate(); err != nil {
		return nil, err
	}
	g := &Guard{
		cache:     c,
		policies:  policies,
		strikeTTL: 2 * time.Hour,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	counter, err := otel.Meter("rbt/ratelimit").Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by category and action"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision counter: %w", err)
	}
	g.decisions = counter
	return g, nil
}

// Policy returns the policy for a category.
func (g *Guard) Policy(c Category) Policy {
	return g.policies[c]
}

// Check counts one request from ip in category c and decides what to do with it.
func (g *Guard) Check(ctx context.Context, ip string, c Category) Decision {
	d := g.check(ctx, ip, c)
	g.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", string(c)),
		attribute.String("action", string(d.Action)),
	))
	return d
}

func (g *Guard) check(ctx context.Context, ip string, c Category) Decision {
	policy := g.policies[c]
	now := g.now()
	d := Decision{
		Action:    ActionAllow,
		Category:  c,
		Limit:     policy.Limit,
		Remaining: policy.Limit,
		ResetAt:   now.Add(policy.Window),
	}

	var ban Ban
	found, err := g.cache.Get(ctx, banKey(ip), &ban)
	if err != nil {
		g.logger.Warn("Rate limit cache read failed, allowing request", "key", banKey(ip), "error", err)
		return d
	}
	if found && now.Before(ban.Until) {
		d.Action = ActionBanned
		d.Remaining = 0
		d.ResetAt = ban.Until
		d.RetryAfter = ban.Until.Sub(now)
		return d
	}

	var w Window
	found, err = g.cache.Get(ctx, windowKey(c, ip), &w)
	if err != nil {
		g.logger.Warn("Rate limit cache read failed, allowing request", "key", windowKey(c, ip), "error", err)
		return d
	}

	var ttl time.Duration
	if !found || !now.Before(w.ResetAt) {
		w = Window{Count: 1, ResetAt: now.Add(policy.Window)}
		ttl = policy.Window
	} else {
		w.Count++
		ttl = w.ResetAt.Sub(now)
	}
	if err := g.cache.Set(ctx, windowKey(c, ip), w, ttl); err != nil {
		g.logger.Warn("Rate limit cache write failed", "key", windowKey(c, ip), "error", err)
	}

	d.ResetAt = w.ResetAt
	d.Remaining = max(0, policy.Limit-w.Count)
	if w.Count <= policy.Limit {
		return d
	}

	d.RetryAfter = w.ResetAt.Sub(now)

	var strikes int
	if _, err := g.cache.Get(ctx, strikeKey(c, ip), &strikes); err != nil {
		g.logger.Warn("Rate limit cache read failed", "key", strikeKey(c, ip), "error", err)
	}
	strikes++
	d.Strikes = strikes

	if strikes < policy.MaxStrikes {
		if err := g.cache.Set(ctx, strikeKey(c, ip), strikes, g.strikeTTL); err != nil {
			g.logger.Warn("Rate limit cache write failed", "key", strikeKey(c, ip), "error", err)
		}
		d.Action = ActionChallenge
		return d
	}

	ban = Ban{
		Until:    now.Add(policy.BanDuration),
		Reason:   fmt.Sprintf("exceeded %s rate limit %d times", c, strikes),
		Endpoint: c,
	}
	if err := g.cache.Set(ctx, banKey(ip), ban, policy.BanDuration); err != nil {
		g.logger.Warn("Rate limit cache write failed", "key", banKey(ip), "error", err)
	}
	if err := g.cache.Delete(ctx, strikeKey(c, ip)); err != nil {
		g.logger.Warn("Rate limit cache delete failed", "key", strikeKey(c, ip), "error", err)
	}
	g.logger.Warn("IP banned", "ip", ip, "category", c, "until", ban.Until, "strikes", strikes)

	d.Action = ActionBan
	d.Remaining = 0
	d.ResetAt = ban.Until
	d.RetryAfter = policy.BanDuration
	return d
}

// EntryKind names the kind of state held for an IP.
type EntryKind string

const (
	KindBan     EntryKind = "banned"
	KindStrikes EntryKind = "strikes"
	KindWindow  EntryKind = "ratelimit"
)

// StateEntry is one live cache entry belonging to the limiter.
type StateEntry struct {
	Kind      EntryKind `json:"type"`
	IP        string    `json:"ip"`
	Category  Category  `json:"endpoint,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Ban       *Ban      `json:"ban,omitempty"`
	Strikes   int       `json:"strikes,omitempty"`
	Window    *Window   `json:"window,omitempty"`
}

// Entries lists every live ban, strike and window entry, soonest expiry first.
func (g *Guard) Entries(ctx context.Context) ([]StateEntry, error) {
	var out []StateEntry
	for _, kind := range []EntryKind{KindBan, KindStrikes, KindWindow} {
		rows, err := g.cache.Scan(ctx, string(kind)+":")
		if err != nil {
			return nil, fmt.Errorf("failed to list %s entries: %w", kind, err)
		}
		for _, row := range rows {
			e, err := parseEntry(kind, row)
			if err != nil {
				g.logger.Warn("Skipping unreadable rate limit entry", "key", row.Key, "error", err)
				continue
			}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

// Bans lists active bans only.
func (g *Guard) Bans(ctx context.Context) ([]StateEntry, error) {
	all, err := g.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var bans []StateEntry
	for _, e := range all {
		if e.Kind == KindBan {
			bans = append(bans, e)
		}
	}
	return bans, nil
}

func parseEntry(kind EntryKind, row cache.Entry) (StateEntry, error) {
	e := StateEntry{Kind: kind, ExpiresAt: row.ExpiresAt}
	rest := strings.TrimPrefix(row.Key, string(kind)+":")

	switch kind {
	case KindBan:
		e.IP = rest
		var b Ban
		if err := row.Decode(&b); err != nil {
			return e, err
		}
		e.Ban = &b
		e.Category = b.Endpoint
		return e, nil
	}

	// strikes and ratelimit keys are {category}:{ip}; IPv6 addresses keep
	// their colons because only the first separator is split.
	cat, ip, ok := strings.Cut(rest, ":")
	if !ok {
		return e, fmt.Errorf("malformed key %q", row.Key)
	}
	e.Category = Category(cat)
	e.IP = ip

	if kind == KindStrikes {
		return e, row.Decode(&e.Strikes)
	}
	var w Window
	if err := row.Decode(&w); err != nil {
		return e, err
	}
	e.Window = &w
	return e, nil
}

// Unban removes the ban, strikes and windows held for ip and returns how many
// entries were removed.
func (g *Guard) Unban(ctx context.Context, ip string) (int, error) {
	keys := []string{banKey(ip)}
	for _, c := range Categories {
		keys = append(keys, strikeKey(c, ip), windowKey(c, ip))
	}

	removed := 0
	for _, k := range keys {
		var raw any
		found, err := g.cache.Get(ctx, k, &raw)
		if err != nil {
			return removed, fmt.Errorf("failed to read %s: %w", k, err)
		}
		if !found {
			continue
		}
		if err := g.cache.Delete(ctx, k); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", k, err)
		}
		removed++
	}
	if removed > 0 {
		g.logger.Info("IP unbanned", "ip", ip, "entries_removed", removed)
	}
	return removed, nil
}
