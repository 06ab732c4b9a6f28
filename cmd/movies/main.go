// Package main provides the entry point for the movies server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Simon111302/movies/internal/browser"
	"github.com/Simon111302/movies/internal/classify"
	"github.com/Simon111302/movies/internal/config"
	"github.com/Simon111302/movies/internal/handlers"
	"github.com/Simon111302/movies/internal/heuristics"
	"github.com/Simon111302/movies/internal/metadata"
	"github.com/Simon111302/movies/internal/metrics"
	"github.com/Simon111302/movies/internal/middleware"
	"github.com/Simon111302/movies/internal/player"
	"github.com/Simon111302/movies/pkg/version"
)

// requestTimeout bounds API handling. Player commands drive a real browser
// through navigation and guard installs, so this is generous.
const requestTimeout = 2 * time.Minute

func main() {
	cfg := config.Load()

	// Logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)
	cfg.Validate()

	printBanner()

	// Heuristics, optionally hot-reloaded from an external file
	rules, err := heuristics.NewManager(cfg.HeuristicsPath, cfg.HeuristicsHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load heuristics")
	}

	// Provider registry: built-ins plus validated custom entries
	registry, err := player.RegistryFromSpecs(cfg.Providers)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid PROVIDERS entry")
	}
	log.Info().Strs("providers", registry.Names()).Msg("Provider registry ready")

	classifier := classify.New(cfg.BlockPatterns, cfg.AllowPatterns)

	log.Info().Msg("Initializing browser pool...")
	pool, err := browser.NewPool(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize browser pool")
	}

	controller := player.NewController(
		player.NewBrowserEnv(pool),
		registry,
		classifier,
		rules,
		player.Config{
			HostURL:       fmt.Sprintf("http://%s/player/host", cfg.Addr()),
			SweepScope:    cfg.SweepScope,
			SweepInterval: cfg.SweepInterval,
		},
	)

	catalog := metadata.NewClient(metadata.Options{
		BaseURL:   cfg.TMDBBaseURL,
		ImageBase: cfg.ImageBaseURL,
		APIKey:    cfg.TMDBAPIKey,
		Timeout:   cfg.TMDBTimeout,
	})

	handler := handlers.New(controller, catalog, registry, rules)

	// Middleware chain, outermost first: recovery catches everything,
	// logging sees every request, then rate limiting, CORS, and the
	// request deadline.
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.Logging,
	}

	var rateLimiter *middleware.RateLimiterMiddleware
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		rateLimiter = middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.TrustProxy)
		chain = append(chain, rateLimiter.Handler())
	}

	chain = append(chain,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}),
		middleware.SecurityHeaders,
		middleware.Timeout(requestTimeout),
	)

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", metrics.Handler())
	}
	mux.Handle("/", handler)

	finalHandler := middleware.Chain(chain...)(mux)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      finalHandler,
		ReadTimeout:  requestTimeout + 10*time.Second,
		WriteTimeout: requestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Background metric collection
	stopCh := make(chan struct{})
	if cfg.MetricsEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)
	}

	go func() {
		log.Info().
			Str("address", cfg.Addr()).
			Int("pool_size", cfg.BrowserPoolSize).
			Bool("metrics_enabled", cfg.MetricsEnabled).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Msg("movies is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Release the live session before the pool goes away
	if err := controller.Close(ctx); err != nil {
		log.Debug().Err(err).Msg("No playback session to close")
	}

	if rateLimiter != nil {
		rateLimiter.Close()
	}

	if err := rules.Close(); err != nil {
		log.Error().Err(err).Msg("Heuristics manager close error")
	}

	if err := pool.Close(); err != nil {
		log.Error().Err(err).Msg("Browser pool close error")
	}

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
 __  __            _
|  \/  | _____   _(_) ___  ___
| |\/| |/ _ \ \ / / |/ _ \/ __|
| |  | | (_) \ V /| |  __/\__ \
|_|  |_|\___/ \_/ |_|\___||___/
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting movies")
}
