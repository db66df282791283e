// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/othala/internal/api"
	"github.com/starford/othala/internal/cache"
	"github.com/starford/othala/internal/db"
	"github.com/starford/othala/internal/dvm"
	"github.com/starford/othala/internal/graph"
	"github.com/starford/othala/internal/ingest"
	"github.com/starford/othala/internal/oracle"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Structured JSON logger; the level var feeds the config watcher.
	level := new(slog.LevelVar)
	level.Set(cfg.App.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.Int("relays", len(cfg.Feeds.Relays)),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Open the mirror and rebuild the graph. A corrupt mirror fails the
	// whole start rather than serving a half-loaded graph.
	database, err := db.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	defer database.Close()

	store := graph.NewStore()
	if err := database.LoadGraph(store); err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	stats := store.GraphStats()
	logger.Info("Graph loaded",
		slog.Int("nodes", stats.NodeCount),
		slog.Int("edges", stats.EdgeCount))
	store.ResetLockMetrics()

	resultCache := cache.New(cfg.Query.CacheSize, time.Duration(cfg.Query.CacheTTLSecs)*time.Second)
	pool := oracle.NewPool(0, logger)
	defer pool.Close()
	svc := oracle.NewService(store, resultCache, pool, cfg.Query.MaxHopsDefault, cfg.Query.MaxHopsCeiling)

	writer := db.NewWriter(database, logger)

	ingestor, err := ingest.New(store, writer, database, cfg.Feeds.Relays, logger)
	if err != nil {
		return fmt.Errorf("init ingest: %w", err)
	}

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated, unlimited).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(svc, cfg.Query.RateLimitPerMinute))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// Persistence writer.
	g.Go(func() error {
		return writer.Run(gCtx)
	})

	// Feed ingestion.
	if len(cfg.Feeds.Relays) > 0 {
		g.Go(func() error {
			return ingestor.Run(gCtx)
		})
	} else {
		logger.Warn("No relays configured; serving existing graph only")
	}

	// Optional DVM responder.
	if cfg.DVM.Enabled {
		responder, dvmErr := dvm.New(svc, cfg.Feeds.Relays, cfg.DVM.PrivateKey, logger)
		if dvmErr != nil {
			return fmt.Errorf("init dvm: %w", dvmErr)
		}
		g.Go(func() error {
			return responder.Run(gCtx)
		})
	}

	// Config watcher for live log-level changes.
	if app.configPath != "" {
		g.Go(func() error {
			if err := watchLogLevel(gCtx, app.configPath, level, logger); err != nil {
				logger.Warn("config watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stop ingest, DVM, and the persistence writer (which drains its
		// queue before returning).
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
