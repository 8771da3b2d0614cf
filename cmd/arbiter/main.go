package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/archeval/arbiter/internal/api"
	"github.com/archeval/arbiter/internal/cleanup"
	"github.com/archeval/arbiter/internal/config"
	"github.com/archeval/arbiter/internal/generate"
	"github.com/archeval/arbiter/internal/runner"
	"github.com/archeval/arbiter/internal/session"
	"github.com/archeval/arbiter/internal/storage"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting arbiter",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Run database migrations
	slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
	if err := storage.MigrateFromDSN(initCtx, cfg.Database.DSN, cfg.Database.MigrationsDir); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize database repository
	repo, err := storage.NewPostgresRepository(initCtx, storage.PostgresConfig{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: int32(cfg.Database.MaxOpenConns),
		MaxIdleConns: int32(cfg.Database.MaxIdleConns),
	})
	if err != nil {
		slog.Error("failed to create database repository", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected successfully")

	// Redis backs the session cache and the run lock. Without it the
	// service degrades to an in-process lock and no snapshot cache.
	var (
		sessionCache  session.Cache
		sessionLocker session.Locker
	)
	redisCache, err := storage.NewRedisCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Session.DefaultTTL)
	if err != nil {
		slog.Warn("redis unavailable, using in-memory run locks", "error", err)
		sessionLocker = session.NewMemoryLocker()
	} else {
		sessionCache = redisCache
		sessionLocker = redisCache
		slog.Info("redis connected successfully")
	}

	// Load problem templates
	problemLoader := generate.NewLoader()
	if err := problemLoader.LoadFromDir(cfg.Fixtures.Dir); err != nil {
		slog.Warn("failed to load fixtures from dir", "dir", cfg.Fixtures.Dir, "error", err)
	}

	// Test-execution collaborator
	runnerEndpoint := cfg.Runner.ResolveEndpoint()
	slog.Info("runner endpoint resolved", "endpoint", runnerEndpoint)
	runnerClient := runner.NewClient(runnerEndpoint, runner.WithTimeout(cfg.Runner.Timeout))

	// Initialize session manager
	manager := session.NewManager(
		repo,
		sessionCache,
		sessionLocker,
		generate.NewFixtureGenerator(problemLoader),
		runnerClient,
		session.NewHub(),
		session.Config{
			DefaultTTL: cfg.Session.DefaultTTL,
			MaxTTL:     cfg.Session.MaxTTL,
			RunTimeout: cfg.Runner.Timeout,
		},
	)

	// Initialize cleanup worker
	cleaner := cleanup.NewCleaner(manager, cfg.Cleanup.Interval)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start cleanup worker
	cleaner.Start(ctx)

	// Setup HTTP server
	server := api.NewServer(cfg.Server, manager, problemLoader, repo)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}
	if err := repo.Close(); err != nil {
		slog.Error("repository close error", "error", err)
	}

	slog.Info("arbiter stopped")
}
