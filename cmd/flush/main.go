// Command flush performs the end-of-night forced drain: every queued
// score is pushed to the remote store, bypassing the single-flight
// skip, and the committed count is printed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/courtside/scorekeeper/internal/infra"
	"github.com/courtside/scorekeeper/internal/repository"
	syncengine "github.com/courtside/scorekeeper/internal/sync"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("flush failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("configure remote store: %w", err)
	}
	defer pool.Close()

	local := infra.NewLocalStore(cfg.DataDir, cfg.StoreIdleTimeout, logger)
	defer local.Close()

	cache := repository.NewCacheRepository(local, logger)
	remote := repository.NewRemoteStore(pool)

	engine := syncengine.NewEngine(syncengine.Options{
		Cache:  cache,
		Remote: remote,
		Online: func(ctx context.Context) bool {
			return infra.HealthCheck(ctx, pool) == nil
		},
		Court:  cfg.CourtNumber,
		Logger: logger,
	})

	count, err := engine.ProcessPendingScores(ctx, true)
	if err != nil {
		return fmt.Errorf("flush queue: %w", err)
	}

	logger.Info("flush complete", "synced", count)
	fmt.Printf("synced %d score(s)\n", count)
	return nil
}
