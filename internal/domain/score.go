package domain

import (
	"time"
)

// ScoreStatus enumerates the lifecycle states of a queued score.
type ScoreStatus string

const (
	ScorePending    ScoreStatus = "pending"
	ScoreProcessing ScoreStatus = "processing"
	ScoreFailed     ScoreStatus = "failed"
)

// MaxSyncRetries is the terminal retry ceiling for a pending score.
// A record that fails this many times is marked failed and requires
// operator action.
const MaxSyncRetries = 5

// PendingScore is a locally queued, not-yet-confirmed score submission.
// Exactly one live entry should exist per match at steady state;
// duplicates are tolerated and deduplicated at drain time by MatchID.
type PendingScore struct {
	ID         string      `json:"id"`
	MatchID    string      `json:"match_id"`
	HomeScores []int       `json:"home_scores"`
	AwayScores []int       `json:"away_scores"`
	Timestamp  time.Time   `json:"timestamp"`
	RetryCount int         `json:"retry_count"`
	Status     ScoreStatus `json:"status"`
	LastError  string      `json:"last_error,omitempty"`

	// Denormalized reconciliation hints, populated when known so an
	// offline-created match can still be inserted remotely.
	FixtureTime      string `json:"fixture_time,omitempty"`       // dd/MM/yyyy HH:mm
	FixtureStartTime string `json:"fixture_start_time,omitempty"` // RFC 3339
	HomeTeam         string `json:"home_team,omitempty"`
	AwayTeam         string `json:"away_team,omitempty"`
}

// ScoreSummary carries the derived fields recomputed at sync time.
// They are never trusted from client state so they always reflect
// exactly the set scores being persisted.
type ScoreSummary struct {
	HomeSetsWon int
	AwaySetsWon int
	HomeResult  string // "win" or "loss"
	AwayResult  string
	HomeBonus   int
	AwayBonus   int
	HomePoints  int
	AwayPoints  int
}

// Summarize recomputes per-set winners, match result, bonus points and
// point totals from the given set scores. Bonus is floor(setScore/10)
// summed per side. A drawn set counts for neither side.
func Summarize(homeScores, awayScores []int) ScoreSummary {
	var s ScoreSummary
	n := len(homeScores)
	if len(awayScores) < n {
		n = len(awayScores)
	}
	for i := 0; i < n; i++ {
		h, a := homeScores[i], awayScores[i]
		switch {
		case h > a:
			s.HomeSetsWon++
		case a > h:
			s.AwaySetsWon++
		}
		s.HomeBonus += h / 10
		s.AwayBonus += a / 10
		s.HomePoints += h
		s.AwayPoints += a
	}
	s.HomeResult, s.AwayResult = "loss", "loss"
	if s.HomeSetsWon > s.AwaySetsWon {
		s.HomeResult = "win"
	} else if s.AwaySetsWon > s.HomeSetsWon {
		s.AwayResult = "win"
	}
	return s
}
