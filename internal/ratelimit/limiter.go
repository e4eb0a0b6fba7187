// Package ratelimit protects the site from automated flooding. Each
// unauthenticated request is classified into an endpoint category and counted
// per (client IP, category) in a fixed window held in the shared cache. Going
// over a window's limit earns a strike and a human-verification challenge;
// enough strikes within the strike TTL turn into a temporary IP ban.
//
// A signed human_verified cookie, issued by HumanVerifier, bypasses counting.
// BotFilter rejects known scraper user agents before any counting happens.
package ratelimit

import "time"

// Limiter paces a single action per key. It backs the human verification
// endpoint, which must not itself become a way to mint cookies in bulk.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether the action identified by key may proceed now.
	Allow(key string) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// Info describes limiter state for response headers.
type Info struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero unless denied
}
