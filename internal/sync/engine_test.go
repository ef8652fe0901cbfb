package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside/scorekeeper/internal/domain"
)

type fakeCache struct {
	mu     stdsync.Mutex
	scores map[string]domain.PendingScore
}

func newFakeCache() *fakeCache {
	return &fakeCache{scores: map[string]domain.PendingScore{}}
}

func (f *fakeCache) PutPendingScore(_ context.Context, s domain.PendingScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[s.ID] = s
	return nil
}

func (f *fakeCache) ListPendingScores(_ context.Context, status domain.ScoreStatus) []domain.PendingScore {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PendingScore
	for _, s := range f.scores {
		if status == "" || s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeCache) UpdatePendingScoreStatus(_ context.Context, id string, status domain.ScoreStatus, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scores[id]
	if !ok {
		return domain.ErrNotFound("pending score", id)
	}
	s.Status = status
	s.LastError = lastError
	f.scores[id] = s
	return nil
}

func (f *fakeCache) IncrementRetry(_ context.Context, id string, status domain.ScoreStatus, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scores[id]
	if !ok {
		return domain.ErrNotFound("pending score", id)
	}
	s.RetryCount++
	s.Status = status
	s.LastError = lastError
	f.scores[id] = s
	return nil
}

func (f *fakeCache) RemovePendingScore(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scores, id)
	return nil
}

func (f *fakeCache) PutCachedMatches(_ context.Context, _ []domain.CachedMatch) (int, error) {
	return 0, nil
}

func (f *fakeCache) GetCachedMatches(_ context.Context, _ int, _ *time.Time) []domain.CachedMatch {
	return nil
}

func (f *fakeCache) PruneStaleMatches(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

func (f *fakeCache) get(id string) (domain.PendingScore, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scores[id]
	return s, ok
}

func (f *fakeCache) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scores)
}

type fakeRemote struct {
	mu      stdsync.Mutex
	matches map[string]domain.Match // keyed by match code
	scores  map[string]domain.MatchScore
	nextID  int

	pushErr     error
	pushErrLeft int // fail this many pushes, then succeed

	inserts int
	updates int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		matches: map[string]domain.Match{},
		scores:  map[string]domain.MatchScore{},
	}
}

func (f *fakeRemote) failNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushErrLeft = n
	f.pushErr = err
}

func (f *fakeRemote) takeFailure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErrLeft == 0 {
		return nil
	}
	f.pushErrLeft--
	return f.pushErr
}

func (f *fakeRemote) FindMatch(_ context.Context, matchID, matchCode string) (*domain.Match, error) {
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.matches[matchCode]; ok {
		return &m, nil
	}
	for _, m := range f.matches {
		if m.ID == matchID {
			return &m, nil
		}
	}
	return nil, domain.ErrNotFound("match", matchID)
}

func (f *fakeRemote) InsertMatch(_ context.Context, m domain.Match) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.matches[m.MatchCode]; ok {
		return existing.ID, nil
	}
	f.nextID++
	m.ID = fmt.Sprintf("m-%d", f.nextID)
	f.matches[m.MatchCode] = m
	return m.ID, nil
}

func (f *fakeRemote) FindScore(_ context.Context, matchID string) (*domain.MatchScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.scores[matchID]; ok {
		return &s, nil
	}
	return nil, domain.ErrNotFound("score for match", matchID)
}

func (f *fakeRemote) InsertScore(_ context.Context, s domain.MatchScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[s.MatchID] = s
	f.inserts++
	return nil
}

func (f *fakeRemote) UpdateScore(_ context.Context, s domain.MatchScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[s.MatchID] = s
	f.updates++
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(cache *fakeCache, remote *fakeRemote, online bool) *Engine {
	return NewEngine(Options{
		Cache:  cache,
		Remote: remote,
		Online: func(context.Context) bool { return online },
		Court:  2,
		Logger: discardLogger(),
		Now:    func() time.Time { return time.Date(2026, 8, 28, 21, 0, 0, 0, time.Local) },
	})
}

func pendingScore(id, matchID string) domain.PendingScore {
	return domain.PendingScore{
		ID:          id,
		MatchID:     matchID,
		HomeScores:  []int{25, 25},
		AwayScores:  []int{20, 18},
		Timestamp:   time.Date(2026, 8, 28, 20, 30, 0, 0, time.Local),
		Status:      domain.ScorePending,
		FixtureTime: "28/08/2026 19:30",
		HomeTeam:    "Spike City",
		AwayTeam:    "Net Gains",
	}
}

func TestProcessPendingScores_EmptyQueue(t *testing.T) {
	e := newTestEngine(newFakeCache(), newFakeRemote(), true)
	n, err := e.ProcessPendingScores(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessPendingScores_CommitsAndRemoves(t *testing.T) {
	cache := newFakeCache()
	remote := newFakeRemote()
	require.NoError(t, cache.PutPendingScore(context.Background(), pendingScore("p1", "fx-100")))

	e := newTestEngine(cache, remote, true)
	n, err := e.ProcessPendingScores(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, cache.count(), "committed record leaves the queue")
	assert.Equal(t, 1, remote.inserts)

	code := domain.MatchCode(2, time.Date(2026, 8, 28, 19, 30, 0, 0, time.Local), "Spike City", "Net Gains")
	m, ok := remote.matches[code]
	require.True(t, ok, "match keyed by deterministic code")

	score := remote.scores[m.ID]
	assert.Equal(t, []int{25, 25}, score.HomeScores)
	assert.True(t, score.HasFinalScore)
	assert.Equal(t, 2, score.Summary.HomeSetsWon)
	assert.Equal(t, "win", score.Summary.HomeResult)
}

func TestProcessPendingScores_ResubmissionUpdatesNotDuplicates(t *testing.T) {
	cache := newFakeCache()
	remote := newFakeRemote()
	e := newTestEngine(cache, remote, true)

	require.NoError(t, cache.PutPendingScore(context.Background(), pendingScore("p1", "fx-100")))
	_, err := e.ProcessPendingScores(context.Background(), false)
	require.NoError(t, err)

	// Same match submitted again with corrected scores.
	rec := pendingScore("p2", "fx-100")
	rec.HomeScores = []int{25, 27}
	require.NoError(t, cache.PutPendingScore(context.Background(), rec))
	n, err := e.ProcessPendingScores(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, remote.matches, 1, "resubmission reuses the match row")
	assert.Equal(t, 1, remote.inserts)
	assert.Equal(t, 1, remote.updates)

	for _, s := range remote.scores {
		assert.Equal(t, []int{25, 27}, s.HomeScores)
	}
}

func TestProcessPendingScores_NewestDuplicateWins(t *testing.T) {
	cache := newFakeCache()
	remote := newFakeRemote()
	e := newTestEngine(cache, remote, true)

	older := pendingScore("p-old", "fx-100")
	newer := pendingScore("p-new", "fx-100")
	newer.Timestamp = older.Timestamp.Add(time.Minute)
	newer.HomeScores = []int{25, 25, 15}
	newer.AwayScores = []int{20, 18, 10}
	require.NoError(t, cache.PutPendingScore(context.Background(), older))
	require.NoError(t, cache.PutPendingScore(context.Background(), newer))

	n, err := e.ProcessPendingScores(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the newest record per match is pushed")
	assert.Zero(t, cache.count())
	for _, s := range remote.scores {
		assert.Equal(t, []int{25, 25, 15}, s.HomeScores)
	}
}

func TestProcessPendingScores_OfflineRevertsWithoutRetryBump(t *testing.T) {
	cache := newFakeCache()
	require.NoError(t, cache.PutPendingScore(context.Background(), pendingScore("p1", "fx-100")))

	e := newTestEngine(cache, newFakeRemote(), false)
	n, err := e.ProcessPendingScores(context.Background(), false)

	require.NoError(t, err)
	assert.Zero(t, n)
	s, ok := cache.get("p1")
	require.True(t, ok, "offline record stays queued")
	assert.Equal(t, domain.ScorePending, s.Status)
	assert.Zero(t, s.RetryCount, "offline is not a failure")
}

func TestProcessPendingScores_RetryCeilingMarksFailed(t *testing.T) {
	cache := newFakeCache()
	remote := newFakeRemote()
	e := newTestEngine(cache, remote, true)

	require.NoError(t, cache.PutPendingScore(context.Background(), pendingScore("p1", "fx-100")))
	remote.failNext(domain.MaxSyncRetries, fmt.Errorf("remote unavailable"))

	for i := 0; i < domain.MaxSyncRetries; i++ {
		n, err := e.ProcessPendingScores(context.Background(), false)
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	s, ok := cache.get("p1")
	require.True(t, ok, "failed record is retained for the operator")
	assert.Equal(t, domain.ScoreFailed, s.Status)
	assert.Equal(t, domain.MaxSyncRetries, s.RetryCount)
	assert.Contains(t, s.LastError, "remote unavailable")

	// Terminal records are skipped on subsequent passes.
	n, err := e.ProcessPendingScores(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessPendingScores_RecoversBeforeCeiling(t *testing.T) {
	cache := newFakeCache()
	remote := newFakeRemote()
	e := newTestEngine(cache, remote, true)

	require.NoError(t, cache.PutPendingScore(context.Background(), pendingScore("p1", "fx-100")))
	remote.failNext(domain.MaxSyncRetries-1, fmt.Errorf("transient"))

	for i := 0; i < domain.MaxSyncRetries-1; i++ {
		_, err := e.ProcessPendingScores(context.Background(), false)
		require.NoError(t, err)
	}
	n, err := e.ProcessPendingScores(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, cache.count())
}

func TestProcessPendingScores_OfflineIdentityFromMatchID(t *testing.T) {
	cache := newFakeCache()
	remote := newFakeRemote()
	e := newTestEngine(cache, remote, true)

	at := time.Date(2026, 8, 28, 19, 0, 0, 0, time.Local)
	rec := pendingScore("p1", domain.SynthesizeOfflineMatchID(3, "Block Party", "Dig Deep", at))
	rec.HomeTeam = ""
	rec.AwayTeam = ""
	rec.FixtureTime = "28/08/2026 19:00"
	require.NoError(t, cache.PutPendingScore(context.Background(), rec))

	n, err := e.ProcessPendingScores(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	code := domain.MatchCode(3, at, "Block Party", "Dig Deep")
	m, ok := remote.matches[code]
	require.True(t, ok, "identity recovered from the offline id")
	assert.Equal(t, "Block Party", m.HomeTeam)
	assert.Equal(t, 3, m.Court)
}

func TestProcessPendingScores_SingleFlight(t *testing.T) {
	cache := newFakeCache()
	require.NoError(t, cache.PutPendingScore(context.Background(), pendingScore("p1", "fx-100")))

	e := newTestEngine(cache, newFakeRemote(), true)
	require.True(t, e.running.CompareAndSwap(false, true))
	defer e.running.Store(false)

	n, err := e.ProcessPendingScores(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, n, "concurrent non-forced pass yields")

	// The end-of-night flush runs regardless.
	n, err = e.ProcessPendingScores(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProcessPendingScores_PublishesAfterCommit(t *testing.T) {
	cache := newFakeCache()
	remote := newFakeRemote()
	pub := &capturePublisher{}
	require.NoError(t, cache.PutPendingScore(context.Background(), pendingScore("p1", "fx-100")))

	e := NewEngine(Options{
		Cache:     cache,
		Remote:    remote,
		Online:    func(context.Context) bool { return true },
		Publisher: pub,
		Court:     2,
		Logger:    discardLogger(),
	})
	n, err := e.ProcessPendingScores(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.events, 1)
	assert.Equal(t, TopicScoreSynced, pub.events[0].topic)
	assert.Equal(t, "fx-100", string(pub.events[0].key))
}

type capturePublisher struct {
	mu     stdsync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	topic string
	key   []byte
}

func (p *capturePublisher) Publish(_ context.Context, topic string, key, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, key: key})
	return nil
}
