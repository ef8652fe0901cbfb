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

	"github.com/courtside/scorekeeper/internal/app"
	"github.com/courtside/scorekeeper/internal/infra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("scoreboard failed", "error", err)
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
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	// The remote store may be unreachable at startup; the device runs
	// regardless and the queue holds scores until it comes back.
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("configure remote store: %w", err)
	}
	defer pool.Close()

	if err := infra.HealthCheck(ctx, pool); err != nil {
		logger.Warn("remote store unreachable at startup, running offline", "error", err)
	} else if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
		logger.Warn("migrations failed", "error", err)
	}

	local := infra.NewLocalStore(cfg.DataDir, cfg.StoreIdleTimeout, logger)
	defer local.Close()

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()

	a := app.NewApp(app.Deps{Cfg: cfg, Pool: pool, Local: local, Kafka: producer, Logger: logger})
	defer a.Board.Shutdown()

	go a.RunSyncLoop(ctx, cfg.SyncInterval, logger)

	if _, err := a.Board.LoadSchedule(ctx); err != nil {
		logger.Warn("initial schedule load failed", "error", err)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("scoreboard starting", "addr", addr, "court", cfg.CourtNumber)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("scoreboard stopped gracefully")
	return nil
}
