package repository

import (
	"context"
	"time"

	"github.com/courtside/scorekeeper/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RemoteDB abstracts pgx.Tx and pgxpool.Pool so the remote repository
// works with both.
type RemoteDB interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// CacheRepository stores the two local collections: the write-ahead
// pending score queue and the cached match schedule. Writes raise
// after the retry budget is exhausted; reads degrade to an empty
// result, since a stale or empty cache is recoverable from the
// network.
type CacheRepository interface {
	PutPendingScore(ctx context.Context, score domain.PendingScore) error
	// ListPendingScores returns queued scores, oldest first. An empty
	// status matches all records.
	ListPendingScores(ctx context.Context, status domain.ScoreStatus) []domain.PendingScore
	UpdatePendingScoreStatus(ctx context.Context, id string, status domain.ScoreStatus, lastError string) error
	// IncrementRetry advances the retry count and applies the
	// follow-up status in one write.
	IncrementRetry(ctx context.Context, id string, status domain.ScoreStatus, lastError string) error
	RemovePendingScore(ctx context.Context, id string) error

	// PutCachedMatches batch-upserts fixture records, tolerating
	// partial failure. Returns the number of records written.
	PutCachedMatches(ctx context.Context, records []domain.CachedMatch) (int, error)
	GetCachedMatches(ctx context.Context, court int, date *time.Time) []domain.CachedMatch
	PruneStaleMatches(ctx context.Context, maxAge time.Duration) (int, error)
}

// RemoteStore is the consumed contract of the shared remote store:
// select-by-key, insert and update over match and match-score records.
type RemoteStore interface {
	// FindMatch looks a match up by its id, falling back to the
	// deterministic match code. Returns NOT_FOUND when neither key hits.
	FindMatch(ctx context.Context, matchID, matchCode string) (*domain.Match, error)
	InsertMatch(ctx context.Context, m domain.Match) (string, error)

	FindScore(ctx context.Context, matchID string) (*domain.MatchScore, error)
	InsertScore(ctx context.Context, s domain.MatchScore) error
	UpdateScore(ctx context.Context, s domain.MatchScore) error
}
