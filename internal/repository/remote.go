package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/courtside/scorekeeper/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type remoteStore struct {
	db RemoteDB
}

// NewRemoteStore returns a pgx-backed RemoteStore.
func NewRemoteStore(db RemoteDB) RemoteStore {
	return &remoteStore{db: db}
}

func (r *remoteStore) FindMatch(ctx context.Context, matchID, matchCode string) (*domain.Match, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, match_code, court, start_time, division, home_team, away_team
		FROM matches
		WHERE id = $1 OR match_code = $2
		LIMIT 1`, matchID, matchCode)

	var m domain.Match
	err := row.Scan(&m.ID, &m.MatchCode, &m.Court, &m.StartTime, &m.Division, &m.HomeTeam, &m.AwayTeam)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound("match", matchCode)
	}
	if err != nil {
		return nil, fmt.Errorf("find match: %w", err)
	}
	return &m, nil
}

func (r *remoteStore) InsertMatch(ctx context.Context, m domain.Match) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	// ON CONFLICT on the match code keeps retried submissions from
	// producing duplicate match rows.
	row := r.db.QueryRow(ctx, `
		INSERT INTO matches (id, match_code, court, start_time, division, home_team, away_team)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (match_code) DO UPDATE SET match_code = EXCLUDED.match_code
		RETURNING id`,
		m.ID, m.MatchCode, m.Court, m.StartTime, m.Division, m.HomeTeam, m.AwayTeam)

	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("insert match: %w", err)
	}
	return id, nil
}

func (r *remoteStore) FindScore(ctx context.Context, matchID string) (*domain.MatchScore, error) {
	row := r.db.QueryRow(ctx, `
		SELECT match_id, home_scores, away_scores, has_final_score, updated_at
		FROM match_scores
		WHERE match_id = $1`, matchID)

	var s domain.MatchScore
	err := row.Scan(&s.MatchID, &s.HomeScores, &s.AwayScores, &s.HasFinalScore, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound("match score", matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("find score: %w", err)
	}
	s.Summary = domain.Summarize(s.HomeScores, s.AwayScores)
	return &s, nil
}

func (r *remoteStore) InsertScore(ctx context.Context, s domain.MatchScore) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO match_scores
		  (match_id, home_scores, away_scores,
		   home_sets_won, away_sets_won, home_result, away_result,
		   home_bonus, away_bonus, home_points, away_points,
		   has_final_score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.MatchID, s.HomeScores, s.AwayScores,
		s.Summary.HomeSetsWon, s.Summary.AwaySetsWon, s.Summary.HomeResult, s.Summary.AwayResult,
		s.Summary.HomeBonus, s.Summary.AwayBonus, s.Summary.HomePoints, s.Summary.AwayPoints,
		s.HasFinalScore, timeOrNow(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

func (r *remoteStore) UpdateScore(ctx context.Context, s domain.MatchScore) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE match_scores SET
		  home_scores = $2, away_scores = $3,
		  home_sets_won = $4, away_sets_won = $5,
		  home_result = $6, away_result = $7,
		  home_bonus = $8, away_bonus = $9,
		  home_points = $10, away_points = $11,
		  has_final_score = $12, updated_at = $13
		WHERE match_id = $1`,
		s.MatchID, s.HomeScores, s.AwayScores,
		s.Summary.HomeSetsWon, s.Summary.AwaySetsWon, s.Summary.HomeResult, s.Summary.AwayResult,
		s.Summary.HomeBonus, s.Summary.AwayBonus, s.Summary.HomePoints, s.Summary.AwayPoints,
		s.HasFinalScore, timeOrNow(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("match score", s.MatchID)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
