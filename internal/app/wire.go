package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtside/scorekeeper/internal/guard"
	"github.com/courtside/scorekeeper/internal/handler"
	"github.com/courtside/scorekeeper/internal/infra"
	"github.com/courtside/scorekeeper/internal/repository"
	"github.com/courtside/scorekeeper/internal/schedule"
	"github.com/courtside/scorekeeper/internal/service"
	syncengine "github.com/courtside/scorekeeper/internal/sync"
	"github.com/courtside/scorekeeper/internal/timer"
)

// Deps holds everything NewApp assembles from.
type Deps struct {
	Cfg    *infra.Config
	Pool   *pgxpool.Pool
	Local  *infra.LocalStore
	Kafka  *infra.KafkaProducer
	Logger *slog.Logger
}

// App is the assembled device: router plus the long-lived components
// that need lifecycle management.
type App struct {
	Router chi.Router
	Board  *service.Scoreboard
	Engine *syncengine.Engine
	Cache  repository.CacheRepository
}

// NewApp wires repositories, engine, service and routes.
func NewApp(deps Deps) *App {
	cfg, logger := deps.Cfg, deps.Logger

	cache := repository.NewCacheRepository(deps.Local, logger)
	remote := repository.NewRemoteStore(deps.Pool)

	probe := guard.NewOnlineProbe(func(ctx context.Context) error {
		return infra.HealthCheck(ctx, deps.Pool)
	}, 0, 0, 0)

	engine := syncengine.NewEngine(syncengine.Options{
		Cache:     cache,
		Remote:    remote,
		Online:    probe.Online,
		Publisher: deps.Kafka,
		Court:     cfg.CourtNumber,
		Logger:    logger,
	})

	provider := schedule.NewRetryingProvider(
		schedule.NewHTTPProvider(cfg.ScheduleBaseURL), logger, 0, 0)

	board := service.NewScoreboard(cache, engine, provider, cfg.CourtNumber,
		timer.Durations{Set: cfg.SetDuration, Break: cfg.BreakDuration},
		cfg.ResultsDuration, logger)

	boardHandler := handler.NewScoreboardHandler(board, cache, logger)
	syncHandler := handler.NewSyncHandler(engine)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORS)
	r.Use(handler.JSONContentType)

	r.Get("/health", handler.HealthHandler(deps.Pool))
	r.Get("/state", boardHandler.GetState)
	r.Get("/schedule", boardHandler.GetSchedule)
	r.Get("/summary", boardHandler.GetSummary)
	r.Get("/scores/pending", boardHandler.GetPendingScores)

	r.Post("/match/start", boardHandler.StartFixture)
	r.Post("/match/next", boardHandler.NextMatch)
	r.Post("/night/end", boardHandler.EndNight)
	r.Post("/score/{side}/{op}", boardHandler.AdjustScore)
	r.Post("/teams/switch", boardHandler.SwitchTeams)

	r.Route("/timer", func(r chi.Router) {
		r.Post("/toggle", boardHandler.ToggleTimer)
		r.Post("/reset", boardHandler.ResetTimer)
		r.Post("/skip", boardHandler.SkipPhase)
	})

	r.Post("/sync", syncHandler.Trigger)

	return &App{Router: r, Board: board, Engine: engine, Cache: cache}
}

// RunSyncLoop drains the queue on a fixed interval until ctx ends.
func (a *App) RunSyncLoop(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := a.Engine.ProcessPendingScores(ctx, false)
			if err != nil {
				logger.Error("sync pass failed", "error", err)
				continue
			}
			if count > 0 {
				logger.Info("sync pass complete", "synced", count)
			}
		}
	}
}
