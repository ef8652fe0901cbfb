// Package sync drains the locally queued score submissions against the
// remote store. Deterministic match codes make the drain idempotent:
// a retried submission updates the existing remote record instead of
// inserting a duplicate.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/courtside/scorekeeper/internal/domain"
	"github.com/courtside/scorekeeper/internal/repository"
)

// Publisher is the optional event sink notified after each committed
// score. infra.KafkaProducer satisfies it; a nil Publisher disables
// publishing.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// TopicScoreSynced receives one event per score committed to the
// remote store.
const TopicScoreSynced = "scorekeeper.match.score_synced"

// Options configures an Engine. Online is the constructor-injected
// network probe so tests can simulate offline mode deterministically.
type Options struct {
	Cache     repository.CacheRepository
	Remote    repository.RemoteStore
	Online    func(ctx context.Context) bool
	Publisher Publisher
	Court     int
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine reconciles the pending score queue with the remote store.
type Engine struct {
	cache     repository.CacheRepository
	remote    repository.RemoteStore
	online    func(ctx context.Context) bool
	publisher Publisher
	court     int
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool
}

// NewEngine creates a synchronization engine.
func NewEngine(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cache:     opts.Cache,
		remote:    opts.Remote,
		online:    opts.Online,
		publisher: opts.Publisher,
		court:     opts.Court,
		logger:    opts.Logger,
		now:       now,
	}
}

// Online reports whether the remote store is currently reachable.
func (e *Engine) Online(ctx context.Context) bool {
	return e.online(ctx)
}

// ProcessPendingScores drains the queue and returns the number of
// records committed to the remote store in this pass. At most one
// pass runs at a time per device: a concurrent call observes the
// in-progress flag and returns 0, unless force is set (the end-of-
// night flush must never be skipped).
func (e *Engine) ProcessPendingScores(ctx context.Context, force bool) (int, error) {
	owned := e.running.CompareAndSwap(false, true)
	if !owned && !force {
		return 0, nil
	}
	if owned {
		defer e.running.Store(false)
	}

	records := e.cache.ListPendingScores(ctx, "")
	if len(records) == 0 {
		return 0, nil
	}

	// Deduplicate by match id: the newest record per match wins, older
	// duplicates are dropped from the queue.
	latest := make(map[string]domain.PendingScore, len(records))
	for _, rec := range records {
		if rec.Status == domain.ScoreFailed {
			continue // terminal, requires operator action
		}
		if prev, ok := latest[rec.MatchID]; ok {
			if rec.Timestamp.Before(prev.Timestamp) {
				e.dropDuplicate(ctx, rec)
				continue
			}
			e.dropDuplicate(ctx, prev)
		}
		latest[rec.MatchID] = rec
	}

	synced := 0
	for _, rec := range records {
		live, ok := latest[rec.MatchID]
		if !ok || live.ID != rec.ID {
			continue
		}
		if e.processOne(ctx, rec, force) {
			synced++
		}
	}
	return synced, nil
}

// processOne pushes a single record and reports whether it was
// committed. One record's failure never blocks the rest of the queue.
func (e *Engine) processOne(ctx context.Context, rec domain.PendingScore, force bool) bool {
	if err := e.cache.UpdatePendingScoreStatus(ctx, rec.ID, domain.ScoreProcessing, ""); err != nil {
		e.logger.Warn("mark processing failed", "id", rec.ID, "error", err)
		return false
	}

	// Offline is not a failure: revert without touching the retry count.
	if !force && !e.online(ctx) {
		if err := e.cache.UpdatePendingScoreStatus(ctx, rec.ID, domain.ScorePending, ""); err != nil {
			e.logger.Warn("revert to pending failed", "id", rec.ID, "error", err)
		}
		return false
	}

	if err := e.push(ctx, rec); err != nil {
		e.recordFailure(ctx, rec, err)
		return false
	}

	if err := e.cache.RemovePendingScore(ctx, rec.ID); err != nil {
		e.logger.Warn("remove synced score failed", "id", rec.ID, "error", err)
	}
	e.publish(ctx, rec)
	e.logger.Info("score synced", "match_id", rec.MatchID)
	return true
}

func (e *Engine) push(ctx context.Context, rec domain.PendingScore) error {
	start := e.resolveStartTime(rec)
	court, home, away := e.resolveIdentity(rec)
	code := domain.MatchCode(court, start, home, away)

	match, err := e.remote.FindMatch(ctx, rec.MatchID, code)
	var matchID string
	switch {
	case err == nil:
		matchID = match.ID
	case isNotFound(err):
		matchID, err = e.remote.InsertMatch(ctx, domain.Match{
			MatchCode: code,
			Court:     court,
			StartTime: start,
			HomeTeam:  home,
			AwayTeam:  away,
		})
		if err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
	default:
		return fmt.Errorf("find match: %w", err)
	}

	// Derived fields are recomputed here, never trusted from client
	// state, so they reflect exactly the scores being persisted.
	score := domain.MatchScore{
		MatchID:       matchID,
		HomeScores:    rec.HomeScores,
		AwayScores:    rec.AwayScores,
		Summary:       domain.Summarize(rec.HomeScores, rec.AwayScores),
		HasFinalScore: true,
		UpdatedAt:     e.now(),
	}

	if _, err := e.remote.FindScore(ctx, matchID); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("find score: %w", err)
		}
		if err := e.remote.InsertScore(ctx, score); err != nil {
			return fmt.Errorf("insert score: %w", err)
		}
		return nil
	}
	if err := e.remote.UpdateScore(ctx, score); err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	return nil
}

// resolveStartTime prefers the explicit RFC 3339 instant, then the
// locale-formatted fixture time, then "now". Conversion failures fall
// back rather than aborting the record.
func (e *Engine) resolveStartTime(rec domain.PendingScore) time.Time {
	if rec.FixtureStartTime != "" {
		if t, err := time.Parse(time.RFC3339, rec.FixtureStartTime); err == nil {
			return t
		}
		e.logger.Warn("unparseable fixture start time, using now", "value", rec.FixtureStartTime)
	}
	if rec.FixtureTime != "" {
		if t, err := time.ParseInLocation(domain.FixtureTimeLayout, rec.FixtureTime, time.Local); err == nil {
			return t
		}
		e.logger.Warn("unparseable fixture time, using now", "value", rec.FixtureTime)
	}
	return e.now()
}

// resolveIdentity derives court and team names from the denormalized
// hints, or from the offline-synthesized match id when the match was
// created entirely offline.
func (e *Engine) resolveIdentity(rec domain.PendingScore) (court int, home, away string) {
	court, home, away = e.court, rec.HomeTeam, rec.AwayTeam
	if (home == "" || away == "") && domain.IsOfflineMatchID(rec.MatchID) {
		idCourt, idHome, idAway, ok := domain.ParseOfflineMatchID(rec.MatchID)
		if ok {
			court = idCourt
			if home == "" {
				home = idHome
			}
			if away == "" {
				away = idAway
			}
		}
	}
	if home == "" {
		home = domain.PlaceholderHomeTeam
	}
	if away == "" {
		away = domain.PlaceholderAwayTeam
	}
	return court, home, away
}

func (e *Engine) recordFailure(ctx context.Context, rec domain.PendingScore, cause error) {
	next := domain.ScorePending
	if rec.RetryCount+1 >= domain.MaxSyncRetries {
		next = domain.ScoreFailed
		e.logger.Error("score failed permanently", "match_id", rec.MatchID, "retries", rec.RetryCount+1, "error", cause)
	} else {
		e.logger.Warn("score sync failed, will retry", "match_id", rec.MatchID, "retries", rec.RetryCount+1, "error", cause)
	}
	if err := e.cache.IncrementRetry(ctx, rec.ID, next, cause.Error()); err != nil {
		e.logger.Warn("record failure update failed", "id", rec.ID, "error", err)
	}
}

func (e *Engine) dropDuplicate(ctx context.Context, rec domain.PendingScore) {
	if err := e.cache.RemovePendingScore(ctx, rec.ID); err != nil {
		e.logger.Warn("drop duplicate failed", "id", rec.ID, "error", err)
		return
	}
	e.logger.Debug("dropped duplicate pending score", "match_id", rec.MatchID, "id", rec.ID)
}

func (e *Engine) publish(ctx context.Context, rec domain.PendingScore) {
	if e.publisher == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"match_id":    rec.MatchID,
		"home_scores": rec.HomeScores,
		"away_scores": rec.AwayScores,
		"synced_at":   e.now(),
	})
	if err := e.publisher.Publish(ctx, TopicScoreSynced, []byte(rec.MatchID), payload); err != nil {
		e.logger.Warn("score event publish failed", "match_id", rec.MatchID, "error", err)
	}
}

func isNotFound(err error) bool {
	var appErr *domain.AppError
	return errors.As(err, &appErr) && appErr.Code == "NOT_FOUND"
}
