package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside/scorekeeper/internal/domain"
)

type stubCache struct {
	mu     sync.Mutex
	queued []domain.PendingScore
}

func (c *stubCache) PutPendingScore(_ context.Context, s domain.PendingScore) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued = append(c.queued, s)
	return nil
}

func (c *stubCache) ListPendingScores(_ context.Context, _ domain.ScoreStatus) []domain.PendingScore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.PendingScore(nil), c.queued...)
}

func (c *stubCache) UpdatePendingScoreStatus(context.Context, string, domain.ScoreStatus, string) error {
	return nil
}

func (c *stubCache) IncrementRetry(context.Context, string, domain.ScoreStatus, string) error {
	return nil
}

func (c *stubCache) RemovePendingScore(context.Context, string) error { return nil }

func (c *stubCache) PutCachedMatches(context.Context, []domain.CachedMatch) (int, error) {
	return 0, nil
}

func (c *stubCache) GetCachedMatches(context.Context, int, *time.Time) []domain.CachedMatch {
	return nil
}

func (c *stubCache) PruneStaleMatches(context.Context, time.Duration) (int, error) { return 0, nil }

type stubSyncer struct{ passes atomic.Int32 }

func (s *stubSyncer) ProcessPendingScores(context.Context, bool) (int, error) {
	s.passes.Add(1)
	return 0, nil
}

type stubProvider struct {
	mu       sync.Mutex
	fixtures []domain.Fixture
	calls    int
	err      error
}

func (p *stubProvider) FetchFixtures(context.Context, time.Time) ([]domain.Fixture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.fixtures, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func fixtureAt(id string, court string, hhmm string) domain.Fixture {
	return domain.Fixture{
		ID:       id,
		Court:    court,
		Time:     "28/08/2026 " + hhmm,
		HomeTeam: "Home " + id,
		AwayTeam: "Away " + id,
	}
}

type harness struct {
	orch     *Orchestrator
	cache    *stubCache
	syncer   *stubSyncer
	provider *stubProvider

	mu        sync.Mutex
	started   []domain.Fixture
	nightEnds int
	nextErr   error
	nextCh    chan domain.Fixture
	endCh     chan struct{}
}

func newHarness(t *testing.T, window time.Duration, opts func(*Options)) *harness {
	t.Helper()
	h := &harness{
		cache:    &stubCache{},
		syncer:   &stubSyncer{},
		provider: &stubProvider{},
		nextCh:   make(chan domain.Fixture, 4),
		endCh:    make(chan struct{}, 4),
	}
	o := Options{
		Cache:         h.cache,
		Syncer:        h.syncer,
		Provider:      h.provider,
		Court:         2,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		ResultsWindow: window,
		OnNextMatch: func(f domain.Fixture) error {
			h.mu.Lock()
			err := h.nextErr
			if err == nil {
				h.started = append(h.started, f)
			}
			h.mu.Unlock()
			if err == nil {
				h.nextCh <- f
			}
			return err
		},
		OnEndOfNight: func() {
			h.mu.Lock()
			h.nightEnds++
			h.mu.Unlock()
			h.endCh <- struct{}{}
		},
	}
	if opts != nil {
		opts(&o)
	}
	h.orch = New(o)
	t.Cleanup(h.orch.Cancel)
	return h
}

func (h *harness) complete(t *testing.T) {
	t.Helper()
	score := domain.PendingScore{
		ID:         "p1",
		MatchID:    "fx-t1",
		HomeScores: []int{25, 25},
		AwayScores: []int{20, 22},
		Timestamp:  time.Now(),
		Status:     domain.ScorePending,
	}
	require.NoError(t, h.orch.HandleMatchComplete(context.Background(), score))
}

func TestHandleMatchComplete_QueuesScoreAndStartsSyncPass(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, nil)
	h.orch.SetFixtures([]domain.Fixture{fixtureAt("fx-t1", "Court 2", "18:00")})
	h.orch.SetCurrent(fixtureAt("fx-t1", "Court 2", "18:00"))

	h.complete(t)

	assert.Len(t, h.cache.ListPendingScores(context.Background(), ""), 1)
	assert.Eventually(t, func() bool {
		return h.syncer.passes.Load() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestResultsElapsed_TransitionsToNextOnSameCourt(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, nil)
	h.orch.SetFixtures([]domain.Fixture{
		fixtureAt("fx-t1", "Court 2", "18:00"),
		fixtureAt("fx-other", "Court 3", "18:45"), // wrong court
		fixtureAt("fx-t3", "Court 2", "19:30"),
		fixtureAt("fx-t2", "Court 2", "18:45"), // earliest later on court 2
	})
	h.orch.SetCurrent(fixtureAt("fx-t1", "Court 2", "18:00"))

	h.complete(t)

	select {
	case f := <-h.nextCh:
		assert.Equal(t, "fx-t2", f.ID)
	case <-time.After(time.Second):
		t.Fatal("next match never started")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Zero(t, h.nightEnds)
}

func TestResultsElapsed_EndOfNightWhenNoFixturesRemain(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, nil)
	h.orch.SetFixtures([]domain.Fixture{fixtureAt("fx-t1", "Court 2", "18:00")})
	h.orch.SetCurrent(fixtureAt("fx-t1", "Court 2", "18:00"))
	// Re-fetch also finds nothing new.
	h.provider.fixtures = []domain.Fixture{fixtureAt("fx-t1", "Court 2", "18:00")}

	h.complete(t)

	select {
	case <-h.endCh:
	case <-time.After(time.Second):
		t.Fatal("end-of-night never surfaced")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.started)
}

func TestPreloadNext_RefetchesOnceWhenListIsSparse(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond, nil)
	// Local list has only the current fixture for this court: sparse.
	h.orch.SetFixtures([]domain.Fixture{fixtureAt("fx-t1", "Court 2", "18:00")})
	h.orch.SetCurrent(fixtureAt("fx-t1", "Court 2", "18:00"))
	h.provider.fixtures = []domain.Fixture{
		fixtureAt("fx-t1", "Court 2", "18:00"),
		fixtureAt("fx-t2", "Court 2", "18:45"),
	}

	h.complete(t)

	select {
	case f := <-h.nextCh:
		assert.Equal(t, "fx-t2", f.ID, "fixture discovered by the authoritative re-fetch")
	case <-time.After(time.Second):
		t.Fatal("next match never started")
	}
	assert.Equal(t, 1, h.provider.callCount())
}

func TestPreloadNext_RefetchFailureFallsThroughToEndOfNight(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, nil)
	h.orch.SetFixtures([]domain.Fixture{fixtureAt("fx-t1", "Court 2", "18:00")})
	h.orch.SetCurrent(fixtureAt("fx-t1", "Court 2", "18:00"))
	h.provider.err = errors.New("schedule service down")

	h.complete(t)

	select {
	case <-h.endCh:
	case <-time.After(time.Second):
		t.Fatal("end-of-night never surfaced")
	}
}

func TestResultsElapsed_ConsecutiveTransitionFailuresEscalate(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, func(o *Options) {
		o.GraceWindow = 20 * time.Millisecond
	})
	h.orch.SetFixtures([]domain.Fixture{
		fixtureAt("fx-t1", "Court 2", "18:00"),
		fixtureAt("fx-t2", "Court 2", "18:45"),
	})
	h.orch.SetCurrent(fixtureAt("fx-t1", "Court 2", "18:00"))
	h.mu.Lock()
	h.nextErr = errors.New("display wedged")
	h.mu.Unlock()

	h.complete(t)

	// First failure schedules a grace retry; the second forces the
	// summary rather than looping on a broken transition.
	select {
	case <-h.endCh:
	case <-time.After(2 * time.Second):
		t.Fatal("failures never escalated to end-of-night")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.started)
	assert.Equal(t, 1, h.nightEnds)
}

func TestPreloadNext_ShortensWindowWhenPreloadLandsLate(t *testing.T) {
	h := newHarness(t, 2*time.Second, func(o *Options) {
		// The preload always lands with less than NearThreshold left, so
		// the countdown collapses to the grace window.
		o.NearThreshold = 3 * time.Second
		o.GraceWindow = 50 * time.Millisecond
	})
	h.orch.SetFixtures([]domain.Fixture{
		fixtureAt("fx-t1", "Court 2", "18:00"),
		fixtureAt("fx-t2", "Court 2", "18:45"),
	})
	h.orch.SetCurrent(fixtureAt("fx-t1", "Court 2", "18:00"))

	start := time.Now()
	h.complete(t)

	select {
	case f := <-h.nextCh:
		assert.Equal(t, "fx-t2", f.ID)
		assert.Less(t, time.Since(start), time.Second, "shortened window fires well before the full countdown")
	case <-time.After(3 * time.Second):
		t.Fatal("next match never started")
	}
}

func TestSetCurrent_CancelsPendingCountdown(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond, nil)
	h.orch.SetFixtures([]domain.Fixture{
		fixtureAt("fx-t1", "Court 2", "18:00"),
		fixtureAt("fx-t2", "Court 2", "18:45"),
	})
	h.orch.SetCurrent(fixtureAt("fx-t1", "Court 2", "18:00"))
	h.complete(t)

	// Operator manually opened the next match before the window ended.
	h.orch.SetCurrent(fixtureAt("fx-t2", "Court 2", "18:45"))

	time.Sleep(150 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.started, "superseded countdown must not fire")
	assert.Zero(t, h.nightEnds)
}

func TestStopResults_RetractsFiredCountdown(t *testing.T) {
	// Timer.Stop cannot retract an AfterFunc that has already fired; a
	// callback blocked on the mutex while a cancellation wins the lock
	// must see the bumped generation and back out.
	h := newHarness(t, 30*time.Millisecond, nil)
	h.orch.SetFixtures([]domain.Fixture{
		fixtureAt("fx-t1", "Court 2", "18:00"),
		fixtureAt("fx-t2", "Court 2", "18:45"),
	})
	h.orch.SetCurrent(fixtureAt("fx-t1", "Court 2", "18:00"))
	h.complete(t)

	h.orch.mu.Lock()
	time.Sleep(80 * time.Millisecond) // countdown fires and blocks on the lock
	h.orch.stopResultsLocked()        // what Cancel and SetCurrent do under the lock
	h.orch.mu.Unlock()

	time.Sleep(80 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.started, "cancelled countdown must not start a match")
	assert.Zero(t, h.nightEnds)
}

func TestEndOfNightSummary_ListsQueuedScores(t *testing.T) {
	h := newHarness(t, time.Minute, nil)
	require.NoError(t, h.cache.PutPendingScore(context.Background(), domain.PendingScore{
		ID: "p1", MatchID: "fx-t1", Status: domain.ScoreFailed,
	}))

	s := h.orch.EndOfNightSummary(context.Background())

	assert.Equal(t, 2, s.Court)
	require.Len(t, s.PendingScores, 1)
	assert.Equal(t, "fx-t1", s.PendingScores[0].MatchID)
}
