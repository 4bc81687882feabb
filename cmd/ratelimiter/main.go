package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ratelimiter/internal/api"
	"ratelimiter/internal/config"
	"ratelimiter/internal/journal"
	"ratelimiter/internal/logger"
	"ratelimiter/internal/models"
	"ratelimiter/internal/observability"
	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/storage"
	"ratelimiter/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	writeExample = flag.String("write-example-config", "", "Write an example configuration file to this path and exit")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}

	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the denial journal
	var denials *journal.Service
	if cfg.Journal.Enabled {
		store, err := initializeStorage(cfg)
		if err != nil {
			slog.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		denials = journal.NewService(store, cfg.Journal, journal.WithLogger(log))
		defer func() {
			if err := denials.Close(); err != nil {
				slog.Error("Failed to close denial journal", "error", err)
			}
		}()
	}

	// Build one limiter per profile
	limiters, limiterMetrics, err := initializeLimiters(cfg, denials, log)
	if err != nil {
		slog.Error("Failed to initialize rate limiters", "error", err)
		os.Exit(1)
	}
	defer limiters.Close()
	if limiterMetrics != nil {
		defer limiterMetrics.Close()
	}

	// Initialize HTTP handlers
	handlerOpts := []api.HandlerOption{api.WithVersion(ver)}
	if denials != nil {
		handlerOpts = append(handlerOpts, api.WithJournal(denials))
	}
	handlers := api.NewHandlers(limiters, handlerOpts...)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Gateway routes are mounted last so the service's own routes win
	if cfg.Proxy.Enabled {
		proxy, err := api.NewProxy(cfg.Proxy, limiters, cfg.RateLimit.Enabled, ver)
		if err != nil {
			slog.Error("Failed to initialize proxy", "error", err)
			os.Exit(1)
		}
		proxy.Mount(router)
	}

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"profiles", limiters.Names(),
			"storage", cfg.Storage.Type,
			"proxy", cfg.Proxy.Enabled)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeStorage creates the journal storage, instrumented when metrics
// are enabled.
func initializeStorage(cfg *models.Config) (storage.Storage, error) {
	store, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		return nil, err
	}

	if !cfg.Metrics.Enabled {
		return store, nil
	}

	instrumented, err := observability.NewInstrumentedStorage(store, cfg.Storage.Type)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to instrument storage: %w", err)
	}
	return instrumented, nil
}

// initializeLimiters builds the profile registry. Denials are forwarded to
// the journal when one is configured.
func initializeLimiters(cfg *models.Config, denials *journal.Service, log *slog.Logger) (*ratelimit.Registry, *observability.LimiterMetrics, error) {
	var onRateLimit func(string) func(*http.Request, ratelimit.Info)
	if denials != nil {
		onRateLimit = denials.OnRateLimit
	}

	profiles, err := ratelimit.ProfilesFromConfig(cfg.RateLimit, onRateLimit)
	if err != nil {
		return nil, nil, err
	}

	opts := []ratelimit.Option{ratelimit.WithLogger(log)}
	if cfg.RateLimit.CleanupInterval > 0 {
		opts = append(opts, ratelimit.WithCleanupInterval(cfg.RateLimit.CleanupInterval))
	}

	var metrics *observability.LimiterMetrics
	if cfg.Metrics.Enabled {
		metrics, err = observability.NewLimiterMetrics()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create limiter metrics: %w", err)
		}
		opts = append(opts, ratelimit.WithObserver(metrics))
	}

	limiters, err := ratelimit.NewRegistry(profiles, opts...)
	if err != nil {
		return nil, nil, err
	}

	if metrics != nil {
		if err := metrics.TrackBuckets(limiters.Stats); err != nil {
			limiters.Close()
			return nil, nil, fmt.Errorf("failed to register bucket gauge: %w", err)
		}
	}

	return limiters, metrics, nil
}
