// Command rbt serves the translation API, runs the translation worker and
// guards the site with the rate limiter and bot filter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rbt/internal/api"
	"rbt/internal/cache"
	"rbt/internal/config"
	"rbt/internal/content"
	"rbt/internal/llm"
	"rbt/internal/logger"
	"rbt/internal/models"
	"rbt/internal/observability"
	"rbt/internal/ratelimit"
	"rbt/internal/storage"
	"rbt/internal/translation"
	"rbt/internal/version"
	"rbt/internal/worker"

	"golang.org/x/sync/errgroup"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	info := version.GetInfo()
	if *showVersion {
		fmt.Println(info.String())
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, info)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	if err := run(cfg, info); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server shutdown complete")
}

func run(cfg *models.Config, info version.Info) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, info)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	store, err := initializeStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	source, err := initializeContent(ctx, cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	sharedCache, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer sharedCache.Close()

	janitor, err := cache.NewJanitor(sharedCache, cfg.Cache.PurgeSchedule, logger.Component(slog.Default(), "cache"))
	if err != nil {
		return err
	}
	janitor.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		janitor.Stop(stopCtx)
	}()

	translator, err := llm.NewGemini(cfg.Translation, llm.WithLogger(logger.Component(slog.Default(), "llm")))
	if err != nil {
		return fmt.Errorf("failed to initialize translator: %w", err)
	}
	if len(cfg.Translation.APIKeys) == 0 {
		slog.Warn("No Gemini API keys configured, translations will be marked unavailable")
	}

	svcOpts := []translation.Option{
		translation.WithLogger(logger.Component(slog.Default(), "translation")),
		translation.WithChapterTTL(cfg.Translation.ChapterCacheTTL),
	}
	var w *worker.Worker
	if cfg.Worker.Enabled {
		w, err = worker.New(store, source, translator, cfg.Worker,
			worker.WithLogger(logger.Component(slog.Default(), "worker")),
			worker.WithChapterCache(sharedCache))
		if err != nil {
			return fmt.Errorf("failed to initialize worker: %w", err)
		}
		svcOpts = append(svcOpts, translation.WithWaker(w))
	}
	translationService := translation.NewService(store, source, sharedCache, svcOpts...)

	handlerOpts := []api.HandlerOption{api.WithSource(source)}
	if cfg.Security.RateLimit.Enabled {
		guard, err := ratelimit.NewGuard(sharedCache, ratelimit.PoliciesFromConfig(cfg.Security.RateLimit),
			ratelimit.WithStrikeTTL(cfg.Security.RateLimit.StrikeTTL),
			ratelimit.WithLogger(logger.Component(slog.Default(), "ratelimit")))
		if err != nil {
			return fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
		handlerOpts = append(handlerOpts, api.WithGuard(guard))
	}
	verifier, err := ratelimit.NewHumanVerifier(cfg.Security.Human, cfg.Server.Debug,
		ratelimit.WithVerifierLogger(logger.Component(slog.Default(), "human")))
	if err != nil {
		return fmt.Errorf("failed to initialize human verification: %w", err)
	}
	defer verifier.Close()
	handlerOpts = append(handlerOpts, api.WithHumanVerifier(verifier))

	handlers := api.NewHandlers(translationService, store, handlerOpts...)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	handler := api.SetupRoutes(handlers, cfg, routeOpts...)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting server", "addr", server.Addr, "tls", cfg.Server.TLSEnabled)
		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		g.Go(func() error {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	if w != nil {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Metrics server forced to shutdown", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// initializeStorage opens the configured backend and wraps it with tracing
// and metrics.
func initializeStorage(ctx context.Context, cfg *models.Config) (storage.Storage, error) {
	base, err := storage.NewFactory().Create(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if !cfg.Metrics.Enabled && !cfg.Observability.Tracing.Enabled {
		return base, nil
	}
	instrumented, err := observability.NewInstrumentedStorage(base)
	if err != nil {
		base.Close()
		return nil, fmt.Errorf("failed to create instrumented storage: %w", err)
	}
	return instrumented, nil
}

// initializeContent opens the read-only source text database. Without one the
// server runs on an empty in-memory source, which is only useful for
// development.
func initializeContent(ctx context.Context, cfg *models.Config) (content.Source, error) {
	if cfg.Content.DSN == "" {
		slog.Warn("No content database configured, using an empty in-memory source")
		return content.NewMemorySource(), nil
	}
	source, err := content.NewPostgresSource(ctx, cfg.Content.DSN, cfg.Storage.Database.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize content source: %w", err)
	}
	return source, nil
}
