package infra

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/courtside/scorekeeper/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	localSchemaVersion = 1
	openAttempts       = 3
	openBackoff        = 1 * time.Second
)

// LocalStore owns the lifecycle of the single persistent local
// database handle. All repository operations borrow the handle via
// Acquire rather than opening dedicated connections. The handle is
// validated before reuse, shared between concurrent acquirers while
// establishment is in flight, and auto-closed after a period of
// inactivity so storage locks are never held indefinitely.
type LocalStore struct {
	path        string
	idleTimeout time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	db        *sql.DB
	opening   chan struct{} // non-nil while an acquisition is in flight
	openErr   error
	idleTimer *time.Timer
}

// NewLocalStore creates a manager for the SQLite file under dataDir.
// Nothing is opened until the first Acquire.
func NewLocalStore(dataDir string, idleTimeout time.Duration, logger *slog.Logger) *LocalStore {
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	return &LocalStore{
		path:        filepath.Join(dataDir, "scorekeeper.db"),
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Acquire returns the shared handle, establishing it if necessary.
// Concurrent callers during establishment share one in-flight attempt.
// Fails with STORE_UNAVAILABLE after exhausting the retry budget.
func (s *LocalStore) Acquire(ctx context.Context) (*sql.DB, error) {
	for {
		s.mu.Lock()

		if s.db != nil {
			db := s.db
			s.mu.Unlock()
			// Opportunistic validation before reuse.
			if err := db.PingContext(ctx); err == nil {
				s.touch()
				return db, nil
			}
			s.discard(db)
			continue
		}

		if s.opening != nil {
			wait := s.opening
			s.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			s.mu.Lock()
			db, err := s.db, s.openErr
			s.mu.Unlock()
			if err != nil {
				return nil, err
			}
			if db != nil {
				s.touch()
				return db, nil
			}
			continue
		}

		wait := make(chan struct{})
		s.opening = wait
		s.mu.Unlock()

		db, err := s.open(ctx)

		s.mu.Lock()
		s.db, s.openErr = db, err
		s.opening = nil
		close(wait)
		s.mu.Unlock()

		if err != nil {
			return nil, err
		}
		s.touch()
		return db, nil
	}
}

// open establishes and initializes a handle with bounded retries and
// linearly increasing backoff.
func (s *LocalStore) open(ctx context.Context) (*sql.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= openAttempts; attempt++ {
		db, err := s.openOnce()
		if err == nil {
			return db, nil
		}
		lastErr = err
		s.logger.Warn("local store open failed", "attempt", attempt, "max_attempts", openAttempts, "error", err)
		if attempt == openAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * openBackoff):
		}
	}
	return nil, domain.ErrStoreUnavailable(lastErr)
}

func (s *LocalStore) openOnce() (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := s.initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

// initSchema performs the one-time structural initialization: the two
// record collections and their secondary lookup indexes. Gated on
// user_version and written with IF NOT EXISTS so re-runs are no-ops.
func (s *LocalStore) initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= localSchemaVersion {
		return nil
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pending_scores (
			id           TEXT PRIMARY KEY,
			match_id     TEXT NOT NULL,
			home_scores  TEXT NOT NULL,
			away_scores  TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			retry_count  INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'pending',
			last_error   TEXT NOT NULL DEFAULT '',
			fixture_time       TEXT NOT NULL DEFAULT '',
			fixture_start_time TEXT NOT NULL DEFAULT '',
			home_team    TEXT NOT NULL DEFAULT '',
			away_team    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_scores_match ON pending_scores(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_scores_status ON pending_scores(status)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_scores_created ON pending_scores(created_at)`,
		`CREATE TABLE IF NOT EXISTS cached_matches (
			id            TEXT PRIMARY KEY,
			court_number  INTEGER NOT NULL,
			court         TEXT NOT NULL,
			time          TEXT NOT NULL,
			start_time    INTEGER NOT NULL,
			division      TEXT NOT NULL DEFAULT '',
			home_team_id  TEXT NOT NULL DEFAULT '',
			away_team_id  TEXT NOT NULL DEFAULT '',
			home_team     TEXT NOT NULL DEFAULT '',
			away_team     TEXT NOT NULL DEFAULT '',
			match_code    TEXT NOT NULL,
			cached_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cached_matches_court_number ON cached_matches(court_number)`,
		`CREATE INDEX IF NOT EXISTS idx_cached_matches_court ON cached_matches(court)`,
		`CREATE INDEX IF NOT EXISTS idx_cached_matches_code ON cached_matches(match_code)`,
		`CREATE INDEX IF NOT EXISTS idx_cached_matches_time ON cached_matches(start_time)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", localSchemaVersion)); err != nil {
		return err
	}
	s.logger.Info("local store initialized", "path", s.path, "schema_version", localSchemaVersion)
	return nil
}

// touch resets the idle-close countdown.
func (s *LocalStore) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.idleTimeout, s.closeIdle)
}

func (s *LocalStore) closeIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return
	}
	s.db.Close()
	s.db = nil
	s.logger.Debug("local store closed after idle timeout", "idle", s.idleTimeout)
}

// discard drops a handle that failed validation.
func (s *LocalStore) discard(db *sql.DB) {
	db.Close()
	s.mu.Lock()
	if s.db == db {
		s.db = nil
	}
	s.mu.Unlock()
}

// Close shuts the handle down immediately. Later Acquire calls reopen.
func (s *LocalStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
}
