package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/courtside/scorekeeper/internal/domain"
	"github.com/courtside/scorekeeper/internal/infra"
)

const (
	cacheAttempts = 3
	cacheBackoff  = 1 * time.Second
)

type cacheRepo struct {
	store  *infra.LocalStore
	logger *slog.Logger
}

// NewCacheRepository returns a CacheRepository backed by the shared
// local store handle.
func NewCacheRepository(store *infra.LocalStore, logger *slog.Logger) CacheRepository {
	return &cacheRepo{store: store, logger: logger}
}

// withRetry runs op against the borrowed handle with a bounded retry
// loop and linear backoff. Transaction aborts and transient open
// failures are retried transparently.
func (r *cacheRepo) withRetry(ctx context.Context, op func(db *sql.DB) error) error {
	var lastErr error
	for attempt := 1; attempt <= cacheAttempts; attempt++ {
		db, err := r.store.Acquire(ctx)
		if err == nil {
			err = op(db)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == cacheAttempts {
			break
		}
		r.logger.Warn("local store operation retry", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * cacheBackoff):
		}
	}
	return lastErr
}

func (r *cacheRepo) PutPendingScore(ctx context.Context, score domain.PendingScore) error {
	home, err := json.Marshal(score.HomeScores)
	if err != nil {
		return fmt.Errorf("marshal home scores: %w", err)
	}
	away, err := json.Marshal(score.AwayScores)
	if err != nil {
		return fmt.Errorf("marshal away scores: %w", err)
	}
	return r.withRetry(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO pending_scores
			  (id, match_id, home_scores, away_scores, created_at, retry_count, status, last_error,
			   fixture_time, fixture_start_time, home_team, away_team)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			  home_scores = excluded.home_scores,
			  away_scores = excluded.away_scores,
			  status      = excluded.status,
			  last_error  = excluded.last_error`,
			score.ID, score.MatchID, string(home), string(away),
			score.Timestamp.UnixMilli(), score.RetryCount, string(score.Status), score.LastError,
			score.FixtureTime, score.FixtureStartTime, score.HomeTeam, score.AwayTeam)
		if err != nil {
			return fmt.Errorf("put pending score: %w", err)
		}
		return nil
	})
}

func (r *cacheRepo) ListPendingScores(ctx context.Context, status domain.ScoreStatus) []domain.PendingScore {
	var scores []domain.PendingScore
	err := r.withRetry(ctx, func(db *sql.DB) error {
		query := `
			SELECT id, match_id, home_scores, away_scores, created_at, retry_count, status, last_error,
			       fixture_time, fixture_start_time, home_team, away_team
			FROM pending_scores`
		args := []interface{}{}
		if status != "" {
			query += ` WHERE status = ?`
			args = append(args, string(status))
		}
		query += ` ORDER BY created_at ASC`

		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list pending scores: %w", err)
		}
		defer rows.Close()

		scores = scores[:0]
		for rows.Next() {
			var (
				s           domain.PendingScore
				home, away  string
				createdAt   int64
				statusValue string
			)
			if err := rows.Scan(&s.ID, &s.MatchID, &home, &away, &createdAt, &s.RetryCount, &statusValue,
				&s.LastError, &s.FixtureTime, &s.FixtureStartTime, &s.HomeTeam, &s.AwayTeam); err != nil {
				return fmt.Errorf("scan pending score: %w", err)
			}
			if err := json.Unmarshal([]byte(home), &s.HomeScores); err != nil {
				s.HomeScores = nil
			}
			if err := json.Unmarshal([]byte(away), &s.AwayScores); err != nil {
				s.AwayScores = nil
			}
			s.Timestamp = time.UnixMilli(createdAt)
			s.Status = domain.ScoreStatus(statusValue)
			scores = append(scores, s)
		}
		return rows.Err()
	})
	if err != nil {
		// Read path degrades to empty rather than raising.
		r.logger.Error("list pending scores failed, returning empty", "error", err)
		return nil
	}
	return scores
}

func (r *cacheRepo) UpdatePendingScoreStatus(ctx context.Context, id string, status domain.ScoreStatus, lastError string) error {
	return r.withRetry(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE pending_scores SET status = ?, last_error = ? WHERE id = ?`,
			string(status), lastError, id)
		if err != nil {
			return fmt.Errorf("update pending score status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound("pending score", id)
		}
		return nil
	})
}

// IncrementRetry advances the retry count and sets the follow-up
// status in one statement.
func (r *cacheRepo) IncrementRetry(ctx context.Context, id string, status domain.ScoreStatus, lastError string) error {
	return r.withRetry(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE pending_scores SET retry_count = retry_count + 1, status = ?, last_error = ? WHERE id = ?`,
			string(status), lastError, id)
		if err != nil {
			return fmt.Errorf("increment retry: %w", err)
		}
		return nil
	})
}

func (r *cacheRepo) RemovePendingScore(ctx context.Context, id string) error {
	return r.withRetry(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM pending_scores WHERE id = ?`, id); err != nil {
			return fmt.Errorf("remove pending score: %w", err)
		}
		return nil
	})
}

func (r *cacheRepo) PutCachedMatches(ctx context.Context, records []domain.CachedMatch) (int, error) {
	// Iterative per-item accumulation: one bad record does not abort
	// the batch, and the caller learns how many actually landed.
	written := 0
	var lastErr error
	for _, rec := range records {
		rec := rec
		if rec.ID == "" {
			rec.ID = fmt.Sprintf("%s-court%d", rec.StartTime.Format("20060102-1504"), rec.CourtNumber)
		}
		err := r.withRetry(ctx, func(db *sql.DB) error {
			_, err := db.ExecContext(ctx, `
				INSERT INTO cached_matches
				  (id, court_number, court, time, start_time, division,
				   home_team_id, away_team_id, home_team, away_team, match_code, cached_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
				  court_number = excluded.court_number,
				  court        = excluded.court,
				  time         = excluded.time,
				  start_time   = excluded.start_time,
				  division     = excluded.division,
				  home_team_id = excluded.home_team_id,
				  away_team_id = excluded.away_team_id,
				  home_team    = excluded.home_team,
				  away_team    = excluded.away_team,
				  match_code   = excluded.match_code,
				  cached_at    = excluded.cached_at`,
				rec.ID, rec.CourtNumber, rec.Court, rec.Time, rec.StartTime.UnixMilli(), rec.Division,
				rec.HomeTeamID, rec.AwayTeamID, rec.HomeTeam, rec.AwayTeam, rec.MatchCode,
				rec.CachedAt.UnixMilli())
			if err != nil {
				return fmt.Errorf("put cached match %s: %w", rec.ID, err)
			}
			return nil
		})
		if err != nil {
			lastErr = err
			r.logger.Warn("cached match write failed", "id", rec.ID, "error", err)
			continue
		}
		written++
	}
	if written == 0 && lastErr != nil {
		return 0, lastErr
	}
	return written, nil
}

func (r *cacheRepo) GetCachedMatches(ctx context.Context, court int, date *time.Time) []domain.CachedMatch {
	var matches []domain.CachedMatch
	err := r.withRetry(ctx, func(db *sql.DB) error {
		// Three redundant court-match strategies tolerate schema drift
		// across write paths: numeric column, raw string column, and
		// the display label.
		query := `
			SELECT id, court_number, court, time, start_time, division,
			       home_team_id, away_team_id, home_team, away_team, match_code, cached_at
			FROM cached_matches
			WHERE (court_number = ? OR court = ? OR court = ?)`
		args := []interface{}{court, fmt.Sprintf("%d", court), fmt.Sprintf("Court %d", court)}
		if date != nil {
			dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
			query += ` AND start_time >= ? AND start_time < ?`
			args = append(args, dayStart.UnixMilli(), dayStart.Add(24*time.Hour).UnixMilli())
		}
		query += ` ORDER BY start_time ASC`

		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("get cached matches: %w", err)
		}
		defer rows.Close()

		matches = matches[:0]
		for rows.Next() {
			var (
				m                 domain.CachedMatch
				startAt, cachedAt int64
			)
			if err := rows.Scan(&m.ID, &m.CourtNumber, &m.Court, &m.Time, &startAt, &m.Division,
				&m.HomeTeamID, &m.AwayTeamID, &m.HomeTeam, &m.AwayTeam, &m.MatchCode, &cachedAt); err != nil {
				return fmt.Errorf("scan cached match: %w", err)
			}
			m.StartTime = time.UnixMilli(startAt)
			m.CachedAt = time.UnixMilli(cachedAt)
			matches = append(matches, m)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("get cached matches failed, returning empty", "court", court, "error", err)
		return nil
	}
	return matches
}

func (r *cacheRepo) PruneStaleMatches(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = 14 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	var pruned int
	err := r.withRetry(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM cached_matches WHERE cached_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("prune stale matches: %w", err)
		}
		n, _ := res.RowsAffected()
		pruned = int(n)
		return nil
	})
	return pruned, err
}
