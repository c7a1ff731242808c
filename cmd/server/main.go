package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mafiapanel/internal/app"
	"mafiapanel/internal/clock"
	"mafiapanel/internal/config"
	"mafiapanel/internal/replication"
	"mafiapanel/internal/store"
	"mafiapanel/internal/store/sqlite"
	httpTransport "mafiapanel/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting mafia panel",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"store", cfg.Store.Path,
		"sync", cfg.SyncEnabled(),
	)

	clk := clock.Real{}

	// Local session store
	var backend store.Backend = store.NewMemoryBackend()
	var db *sqlite.Store
	if cfg.Store.Path != "" {
		db, err = sqlite.Open(cfg.Store.Path)
		if err != nil {
			logger.Error("failed to open session store", "path", cfg.Store.Path, "error", err)
			os.Exit(1)
		}
		backend = db
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := store.New(ctx, backend, clk, store.Options{
		MaxSessions:  cfg.Store.MaxSessions,
		SessionTTL:   cfg.Store.SessionTTL,
		TombstoneTTL: cfg.Store.TombstoneTTL,
	}, logger)
	cancel()
	if err != nil {
		logger.Error("failed to load sessions", "error", err)
		os.Exit(1)
	}

	// Replication stays off without a sync URL
	var remote replication.Remote
	if cfg.SyncEnabled() {
		remote = replication.NewHTTPRemote(cfg.Sync.URL, cfg.Sync.Token, cfg.Sync.Timeout)
	}
	syncer := replication.NewSyncer(st, remote, clk, replication.Options{
		Debounce:     cfg.Sync.Debounce,
		TombstoneTTL: cfg.Store.TombstoneTTL,
		Timeout:      cfg.Sync.Timeout,
		FlushTimeout: cfg.Sync.FlushTimeout,
	}, logger)

	hub := app.NewSessionHub(st, syncer, clk, app.HubOptions{
		Rules:       cfg.Rules(),
		IdleTimeout: cfg.Game.EngineIdleTimeout,
	}, logger)
	hub.Start()

	if syncer.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.Timeout)
		if err := hub.Sync(ctx); err != nil {
			logger.Warn("initial sync failed, working offline", "error", err)
		}
		cancel()
		syncer.StartPeriodic(cfg.Sync.Interval)
	}

	// Create HTTP server
	server := httpTransport.NewServer(cfg, hub, logger)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Flushes pending sessions to the remote
	hub.Close(ctx)

	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("failed to close session store", "error", err)
		}
	}

	logger.Info("server stopped")
}
