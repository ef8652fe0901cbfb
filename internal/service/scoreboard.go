package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courtside/scorekeeper/internal/domain"
	"github.com/courtside/scorekeeper/internal/orchestrator"
	"github.com/courtside/scorekeeper/internal/repository"
	"github.com/courtside/scorekeeper/internal/schedule"
	"github.com/courtside/scorekeeper/internal/timer"
)

// View is what the display is currently showing.
type View string

const (
	ViewIdle    View = "idle"
	ViewMatch   View = "match"
	ViewSummary View = "summary"
)

// Side identifies a scoring side as displayed. A team switch flips
// which underlying team the displayed side is attributed to.
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// Snapshot is the full UI-boundary state.
type Snapshot struct {
	View      View            `json:"view"`
	Fixture   *domain.Fixture `json:"fixture,omitempty"`
	Timer     timer.State     `json:"timer"`
	HomeScore int             `json:"home_score"`
	AwayScore int             `json:"away_score"`
	HomeSets  []int           `json:"home_sets"`
	AwaySets  []int           `json:"away_sets"`
	Switched  bool            `json:"switched"`
}

// Scoreboard composes the timer, orchestrator, cache repository and
// sync engine into the per-court operator surface.
type Scoreboard struct {
	cache    repository.CacheRepository
	syncer   orchestrator.Syncer
	provider schedule.FixtureProvider
	court    int
	durs     timer.Durations
	logger   *slog.Logger

	orch *orchestrator.Orchestrator

	mu       sync.Mutex
	view     View
	fixture  *domain.Fixture
	matchID  string
	machine  *timer.Machine
	homeSets []int
	awaySets []int
	homeCur  int
	awayCur  int
	switched bool
}

// NewScoreboard wires the service. The orchestrator is created here so
// its transition callbacks land back on this service.
func NewScoreboard(cache repository.CacheRepository, syncer orchestrator.Syncer,
	provider schedule.FixtureProvider, court int, durs timer.Durations,
	resultsWindow time.Duration, logger *slog.Logger) *Scoreboard {

	s := &Scoreboard{
		cache:    cache,
		syncer:   syncer,
		provider: provider,
		court:    court,
		durs:     durs,
		logger:   logger,
		view:     ViewIdle,
	}
	s.orch = orchestrator.New(orchestrator.Options{
		Cache:         cache,
		Syncer:        syncer,
		Provider:      provider,
		Court:         court,
		Logger:        logger,
		ResultsWindow: resultsWindow,
		OnNextMatch: func(f domain.Fixture) error {
			return s.StartFixture(context.Background(), f)
		},
		OnEndOfNight: s.showSummary,
	})
	return s
}

// LoadSchedule fetches today's fixtures, caches them for offline
// lookup, and falls back to the cache when the fetch fails. The fetch
// error is returned alongside the fallback so callers can distinguish
// a degraded answer from a complete one; only an error with an empty
// fixture list means there is nothing to show.
func (s *Scoreboard) LoadSchedule(ctx context.Context) ([]domain.Fixture, error) {
	now := time.Now()
	fixtures, err := s.provider.FetchFixtures(ctx, now)
	if err != nil {
		s.logger.Warn("schedule fetch failed, using cached matches", "error", err)
		cached := s.cache.GetCachedMatches(ctx, s.court, &now)
		fixtures = make([]domain.Fixture, 0, len(cached))
		for _, m := range cached {
			fixtures = append(fixtures, domain.Fixture{
				ID:         m.ID,
				Court:      m.Court,
				Time:       m.Time,
				Division:   m.Division,
				HomeTeamID: m.HomeTeamID,
				AwayTeamID: m.AwayTeamID,
				HomeTeam:   m.HomeTeam,
				AwayTeam:   m.AwayTeam,
			})
		}
		s.orch.SetFixtures(fixtures)
		return fixtures, fmt.Errorf("fetch fixtures: %w", err)
	}

	records := make([]domain.CachedMatch, 0, len(fixtures))
	for _, f := range fixtures {
		records = append(records, domain.MapFixture(f, now))
	}
	if _, err := s.cache.PutCachedMatches(ctx, records); err != nil {
		s.logger.Warn("fixture caching failed", "error", err)
	}
	if _, err := s.cache.PruneStaleMatches(ctx, 0); err != nil {
		s.logger.Warn("cache prune failed", "error", err)
	}

	s.orch.SetFixtures(fixtures)
	return fixtures, nil
}

// StartFixture opens the court for a fixture: a fresh timer machine is
// built with the current configured durations, superseding (and
// cancelling) whatever was running.
func (s *Scoreboard) StartFixture(ctx context.Context, f domain.Fixture) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.machine != nil {
		s.machine.Stop()
	}

	s.fixture = &f
	s.matchID = f.ID
	if s.matchID == "" {
		s.matchID = domain.SynthesizeOfflineMatchID(s.court, f.HomeTeam, f.AwayTeam, time.Now())
	}
	s.homeSets, s.awaySets = nil, nil
	s.homeCur, s.awayCur = 0, 0
	s.switched = false
	s.view = ViewMatch

	s.machine = timer.New(s.durs, s.onPhase, s.onComplete)
	s.orch.SetCurrent(f)

	s.logger.Info("fixture started", "fixture_id", f.ID, "match_id", s.matchID,
		"home", f.HomeTeam, "away", f.AwayTeam)
	return nil
}

// onPhase closes out the set counters whenever a set ends.
func (s *Scoreboard) onPhase(p timer.Phase) {
	if !p.IsBreak() {
		return
	}
	s.mu.Lock()
	s.closeSetLocked()
	s.mu.Unlock()
}

// onComplete hands the queued score to the orchestrator. Every set is
// already closed by the transition into its following break, final
// break included, so the counters here are settled.
func (s *Scoreboard) onComplete() {
	s.mu.Lock()
	score := s.buildPendingScoreLocked()
	s.mu.Unlock()

	if err := s.orch.HandleMatchComplete(context.Background(), score); err != nil {
		s.logger.Error("match completion handling failed", "match_id", score.MatchID, "error", err)
	}
}

func (s *Scoreboard) closeSetLocked() {
	s.homeSets = append(s.homeSets, s.homeCur)
	s.awaySets = append(s.awaySets, s.awayCur)
	s.homeCur, s.awayCur = 0, 0
}

func (s *Scoreboard) buildPendingScoreLocked() domain.PendingScore {
	score := domain.PendingScore{
		ID:         uuid.New().String(),
		MatchID:    s.matchID,
		HomeScores: append([]int(nil), s.homeSets...),
		AwayScores: append([]int(nil), s.awaySets...),
		Timestamp:  time.Now(),
		Status:     domain.ScorePending,
	}
	if s.fixture != nil {
		score.FixtureTime = s.fixture.Time
		score.HomeTeam = s.fixture.HomeTeam
		score.AwayTeam = s.fixture.AwayTeam
		if t, err := time.ParseInLocation(domain.FixtureTimeLayout, s.fixture.Time, time.Local); err == nil {
			score.FixtureStartTime = t.Format(time.RFC3339)
		}
	}
	return score
}

// IncrementScore adds a point for the displayed side, honoring the
// team-switch toggle for attribution.
func (s *Scoreboard) IncrementScore(side Side) error {
	return s.adjustScore(side, +1)
}

// DecrementScore removes a point, flooring at zero.
func (s *Scoreboard) DecrementScore(side Side) error {
	return s.adjustScore(side, -1)
}

func (s *Scoreboard) adjustScore(side Side, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine == nil || s.view != ViewMatch {
		return domain.ErrValidation("no match in progress")
	}

	home := side == SideHome
	if s.switched {
		home = !home
	}
	if home {
		s.homeCur += delta
		if s.homeCur < 0 {
			s.homeCur = 0
		}
	} else {
		s.awayCur += delta
		if s.awayCur < 0 {
			s.awayCur = 0
		}
	}
	return nil
}

// SwitchTeams flips which underlying team each displayed side scores
// for (courts swap ends between sets).
func (s *Scoreboard) SwitchTeams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switched = !s.switched
}

// ToggleTimer starts or stops the match clock.
func (s *Scoreboard) ToggleTimer() error {
	m := s.currentMachine()
	if m == nil {
		return domain.ErrValidation("no match in progress")
	}
	m.Toggle()
	return nil
}

// ResetTimer returns the clock to the current phase's original duration.
func (s *Scoreboard) ResetTimer() error {
	m := s.currentMachine()
	if m == nil {
		return domain.ErrValidation("no match in progress")
	}
	m.Reset()
	return nil
}

// SkipPhase forces the next phase transition immediately.
func (s *Scoreboard) SkipPhase() error {
	m := s.currentMachine()
	if m == nil {
		return domain.ErrValidation("no match in progress")
	}
	m.SkipPhase()
	return nil
}

func (s *Scoreboard) currentMachine() *timer.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine
}

// NextMatch is the manual advance trigger: search for a following
// fixture and start it, or fall through to the summary.
func (s *Scoreboard) NextMatch(ctx context.Context) error {
	fixtures, err := s.LoadSchedule(ctx)
	if err != nil && len(fixtures) == 0 {
		return fmt.Errorf("load schedule: %w", err)
	}

	s.mu.Lock()
	current := s.fixture
	s.mu.Unlock()

	var currentStart time.Time
	if current != nil {
		if t, err := time.ParseInLocation(domain.FixtureTimeLayout, current.Time, time.Local); err == nil {
			currentStart = t
		}
	}

	var next *domain.Fixture
	for i := range fixtures {
		f := fixtures[i]
		if f.CourtNumber() != s.court {
			continue
		}
		if current != nil && f.ID == current.ID {
			continue
		}
		start, err := time.ParseInLocation(domain.FixtureTimeLayout, f.Time, time.Local)
		if err != nil || !start.After(currentStart) {
			continue
		}
		if next == nil {
			next = &f
			continue
		}
		nextStart, _ := time.ParseInLocation(domain.FixtureTimeLayout, next.Time, time.Local)
		if start.Before(nextStart) {
			next = &f
		}
	}

	if next == nil {
		s.showSummary()
		return nil
	}
	return s.StartFixture(ctx, *next)
}

// EndNight forces a full queue flush and switches to the summary view.
// Returns the number of scores committed by the flush.
func (s *Scoreboard) EndNight(ctx context.Context) (int, error) {
	s.orch.Cancel()
	count, err := s.syncer.ProcessPendingScores(ctx, true)
	s.showSummary()
	return count, err
}

// Summary returns the end-of-night reconciliation data.
func (s *Scoreboard) Summary(ctx context.Context) orchestrator.Summary {
	return s.orch.EndOfNightSummary(ctx)
}

func (s *Scoreboard) showSummary() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine != nil {
		s.machine.Stop()
	}
	s.view = ViewSummary
}

// State returns the full display snapshot.
func (s *Scoreboard) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		View:      s.view,
		Fixture:   s.fixture,
		HomeScore: s.homeCur,
		AwayScore: s.awayCur,
		HomeSets:  append([]int(nil), s.homeSets...),
		AwaySets:  append([]int(nil), s.awaySets...),
		Switched:  s.switched,
	}
	if s.machine != nil {
		snap.Timer = s.machine.Snapshot()
	}
	return snap
}

// Shutdown cancels countdowns so nothing fires after teardown.
func (s *Scoreboard) Shutdown() {
	s.orch.Cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine != nil {
		s.machine.Stop()
	}
}
