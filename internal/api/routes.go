package api

import (
	"log/slog"
	"net/http"

	"rbt/internal/models"
	"rbt/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithMiddleware adds a middleware that runs on matched routes, inside the
// built-in chain.
func WithMiddleware(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// SetupRoutes configures the HTTP routes for the API and wraps the router in
// the request chain: client address resolution, recovery, logging, CORS,
// editor detection, the bot filter and the rate limiter, outermost first.
// The chain runs for every request, matched or not, so unknown pages are
// classified and counted too. RouteOption middleware runs inside the router.
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) http.Handler {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/translate/start", handlers.StartTranslation).Methods("GET", "POST")
	api.HandleFunc("/translate/status", handlers.TranslationStatus).Methods("GET")
	api.HandleFunc("/translate/clear-cache", handlers.ClearCache).Methods("POST")
	api.HandleFunc("/translations", handlers.Translations).Methods("GET")
	api.HandleFunc("/footnote/{id}", handlers.Footnote).Methods("GET")
	api.HandleFunc("/languages", handlers.Languages).Methods("GET")
	api.HandleFunc("/updates", handlers.Updates).Methods("GET")
	api.HandleFunc("/update_count", handlers.UpdateCount).Methods("GET")
	api.HandleFunc("/stats", handlers.Stats).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdminKey(config.Security))
	admin.HandleFunc("/bans", handlers.ListBans).Methods("GET")
	admin.HandleFunc("/bans/{ip}", handlers.Unban).Methods("DELETE")
	admin.HandleFunc("/jobs", handlers.ListJobs).Methods("GET")
	admin.HandleFunc("/updates", handlers.AppendUpdate).Methods("POST")

	if handlers.verifier != nil {
		router.HandleFunc(ratelimit.DefaultChallengePath, handlers.verifier.Challenge).Methods("GET")
		router.HandleFunc(ratelimit.DefaultVerifyPath, handlers.verifier.Verify)
	}

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)

	var handler http.Handler = router
	if config.Security.RateLimit.Enabled && handlers.guard != nil {
		handler = ratelimit.Middleware(ratelimit.MiddlewareOptions{
			Guard:             handlers.guard,
			Verifier:          handlers.verifier,
			Debug:             config.Server.Debug,
			ChallengeRedirect: config.Security.RateLimit.ChallengeRedirect && handlers.verifier != nil,
			IsAuthenticated:   isEditor,
			Logger:            slog.Default(),
		})(handler)
	}
	if config.Security.BotFilter.Enabled {
		handler = ratelimit.BotFilter(ratelimit.BotFilterOptions{
			Blocked:         config.Security.BotFilter.Blocked,
			Allowed:         config.Security.BotFilter.Allowed,
			Debug:           config.Server.Debug,
			IsAuthenticated: isEditor,
			Logger:          slog.Default(),
		})(handler)
	}
	handler = editorMiddleware(config.Security)(handler)

	// Preflight requests are answered here, before they reach the router,
	// whether or not cross-origin headers are configured.
	corsConfig := models.CORSConfig{}
	if config.Server.CORS.Enabled {
		corsConfig = config.Server.CORS
	}
	handler = corsMiddleware(corsConfig)(handler)

	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)

	proxies, err := ratelimit.ParseTrustedProxies(config.Security.TrustedProxies)
	if err != nil {
		slog.Error("Ignoring trusted proxies", "error", err)
		proxies = &ratelimit.TrustedProxies{}
	}
	return ratelimit.RealIP(proxies)(handler)
}
