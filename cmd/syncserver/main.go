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

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mafiapanel/internal/config"
	"mafiapanel/internal/syncserver"
	"mafiapanel/internal/syncserver/mongostore"
	"mafiapanel/internal/syncserver/redisstore"
)

func main() {
	mint := flag.String("mint", "", "print a sync token for this owner and exit")
	mintTTL := flag.Duration("mint-ttl", 0, "lifetime of a minted token (0 = no expiry)")
	flag.Parse()

	cfg, err := config.LoadSyncServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	issuer := syncserver.NewTokenIssuer(cfg.Secret)
	if *mint != "" {
		token, err := issuer.Mint(*mint, *mintTTL)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	backend, closeBackend, err := openBackend(ctx, cfg)
	cancel()
	if err != nil {
		logger.Error("failed to open backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}
	defer closeBackend()

	logger.Info("starting sync server",
		"backend", cfg.Backend,
		"port", cfg.Port,
	)

	srv := syncserver.NewServer(backend, issuer, cfg.TombstoneTTL, logger)
	httpServer := &http.Server{
		Addr:         cfg.GetAddr(),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down sync server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("sync server stopped")
}

func openBackend(ctx context.Context, cfg *config.SyncServerConfig) (syncserver.Backend, func(), error) {
	switch cfg.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return redisstore.New(rdb, cfg.RedisPrefix), func() { _ = rdb.Close() }, nil
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		}
		return mongostore.New(client.Database(cfg.MongoDB)), closeFn, nil
	default:
		return syncserver.NewMemoryBackend(), func() {}, nil
	}
}
