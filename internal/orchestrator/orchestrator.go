// Package orchestrator bridges match completion to either the next
// scheduled fixture on the same court or the end-of-night summary.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/courtside/scorekeeper/internal/domain"
	"github.com/courtside/scorekeeper/internal/repository"
	"github.com/courtside/scorekeeper/internal/schedule"
)

// Defaults for the results-display window handling.
const (
	DefaultResultsWindow = 50 * time.Second
	// DefaultNearThreshold: a preloaded next match with less than this
	// much display time remaining shortens the window to the grace
	// period.
	DefaultNearThreshold = 15 * time.Second
	DefaultGraceWindow   = 5 * time.Second
	// maxConsecutiveErrors: transition failures before forcing the
	// end-of-night summary. Fail-safe beats fail-retry on a public
	// display.
	maxConsecutiveErrors = 2
)

// Syncer drains the pending score queue. Satisfied by sync.Engine.
type Syncer interface {
	ProcessPendingScores(ctx context.Context, force bool) (int, error)
}

// Options configures an Orchestrator.
type Options struct {
	Cache    repository.CacheRepository
	Syncer   Syncer
	Provider schedule.FixtureProvider
	Court    int
	Logger   *slog.Logger

	ResultsWindow time.Duration
	NearThreshold time.Duration
	GraceWindow   time.Duration
	// OnNextMatch starts the preloaded fixture. An error counts toward
	// the consecutive-failure escalation.
	OnNextMatch func(domain.Fixture) error
	// OnEndOfNight surfaces the summary view.
	OnEndOfNight func()
}

// Summary is the end-of-night reconciliation view: whatever is still
// locally queued for this court, surfaced for manual action.
type Summary struct {
	Court         int                   `json:"court"`
	PendingScores []domain.PendingScore `json:"pending_scores"`
}

// Orchestrator owns the results-display countdown and next-fixture
// preloading for a single court.
type Orchestrator struct {
	cache    repository.CacheRepository
	syncer   Syncer
	provider schedule.FixtureProvider
	court    int
	logger   *slog.Logger

	resultsWindow time.Duration
	nearThreshold time.Duration
	graceWindow   time.Duration
	onNextMatch   func(domain.Fixture) error
	onEndOfNight  func()

	mu              sync.Mutex
	fixtures        []domain.Fixture
	current         *domain.Fixture
	next            *domain.Fixture
	resultsTimer    *time.Timer
	resultsDeadline time.Time
	// resultsGen advances on every schedule and cancellation. The
	// countdown callback captures the generation it was scheduled
	// under; a callback that already fired and is waiting on the mutex
	// when a cancellation wins the lock sees a stale generation and
	// backs out, since Timer.Stop cannot retract it.
	resultsGen int
	refetched  bool
	errStreak  int
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	window := opts.ResultsWindow
	if window <= 0 {
		window = DefaultResultsWindow
	}
	near := opts.NearThreshold
	if near <= 0 {
		near = DefaultNearThreshold
	}
	grace := opts.GraceWindow
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Orchestrator{
		cache:         opts.Cache,
		syncer:        opts.Syncer,
		provider:      opts.Provider,
		court:         opts.Court,
		logger:        opts.Logger,
		resultsWindow: window,
		nearThreshold: near,
		graceWindow:   grace,
		onNextMatch:   opts.OnNextMatch,
		onEndOfNight:  opts.OnEndOfNight,
	}
}

// SetFixtures replaces the known fixture list (supplied externally,
// possibly stale).
func (o *Orchestrator) SetFixtures(fixtures []domain.Fixture) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fixtures = fixtures
}

// SetCurrent records the fixture now on court and cancels any countdown
// left over from a superseded match.
func (o *Orchestrator) SetCurrent(f domain.Fixture) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = &f
	o.next = nil
	o.refetched = false
	o.errStreak = 0
	o.stopResultsLocked()
}

// HandleMatchComplete is wired to the timer's completion callback:
// persist the final scores locally (queued, not forced remote), start
// the results-display countdown, and concurrently preload the next
// fixture for this court.
func (o *Orchestrator) HandleMatchComplete(ctx context.Context, score domain.PendingScore) error {
	if err := o.cache.PutPendingScore(ctx, score); err != nil {
		return err
	}

	// Best-effort replication; offline is fine, the queue holds it.
	go func() {
		if _, err := o.syncer.ProcessPendingScores(context.Background(), false); err != nil {
			o.logger.Warn("post-match sync pass failed", "error", err)
		}
	}()

	o.mu.Lock()
	o.scheduleResultsLocked(o.resultsWindow)
	o.mu.Unlock()

	go o.preloadNext(ctx)
	return nil
}

// preloadNext searches the known fixture list for the next fixture on
// this court, re-fetching the authoritative schedule at most once when
// the local list looks sparse.
func (o *Orchestrator) preloadNext(ctx context.Context) {
	next := o.searchNext()

	if next == nil {
		o.mu.Lock()
		sparse := o.countForCourtLocked() <= 1 && !o.refetched
		o.refetched = true
		o.mu.Unlock()

		if sparse && o.provider != nil {
			fixtures, err := o.provider.FetchFixtures(ctx, time.Now())
			if err != nil {
				o.logger.Warn("schedule re-fetch failed", "error", err)
			} else {
				o.SetFixtures(fixtures)
				next = o.searchNext()
			}
		}
	}

	if next == nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.next = next
	o.logger.Info("next fixture preloaded", "fixture_id", next.ID, "time", next.Time)

	// Meaningfully little display time left: shorten to the grace
	// period instead of waiting out the full countdown.
	if o.resultsTimer != nil {
		remaining := time.Until(o.resultsDeadline)
		if remaining > 0 && remaining < o.nearThreshold && remaining > o.graceWindow {
			o.scheduleResultsLocked(o.graceWindow)
		}
	}
}

// searchNext returns the earliest fixture on this court starting after
// the current one, keyed primarily by fixture id.
func (o *Orchestrator) searchNext() *domain.Fixture {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		return nil
	}
	currentStart, err := time.ParseInLocation(domain.FixtureTimeLayout, o.current.Time, time.Local)
	if err != nil {
		currentStart = time.Now()
	}

	var candidates []domain.Fixture
	for _, f := range o.fixtures {
		if f.CourtNumber() != o.court || f.ID == o.current.ID {
			continue
		}
		start, err := time.ParseInLocation(domain.FixtureTimeLayout, f.Time, time.Local)
		if err != nil || !start.After(currentStart) {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		ti, _ := time.ParseInLocation(domain.FixtureTimeLayout, candidates[i].Time, time.Local)
		tj, _ := time.ParseInLocation(domain.FixtureTimeLayout, candidates[j].Time, time.Local)
		return ti.Before(tj)
	})
	return &candidates[0]
}

func (o *Orchestrator) countForCourtLocked() int {
	n := 0
	for _, f := range o.fixtures {
		if f.CourtNumber() == o.court {
			n++
		}
	}
	return n
}

// resultsElapsed fires when the display window ends: transition to the
// preloaded fixture, or run one last synchronous search, or surface
// the end-of-night summary. gen guards against a countdown that was
// cancelled or superseded after firing.
func (o *Orchestrator) resultsElapsed(gen int) {
	o.mu.Lock()
	if gen != o.resultsGen {
		o.mu.Unlock()
		return
	}
	next := o.next
	o.resultsTimer = nil
	o.mu.Unlock()

	if next == nil {
		next = o.searchNext()
	}

	if next == nil {
		o.endOfNight()
		return
	}

	if err := o.onNextMatch(*next); err != nil {
		o.mu.Lock()
		o.errStreak++
		streak := o.errStreak
		o.mu.Unlock()
		o.logger.Error("match transition failed", "fixture_id", next.ID, "consecutive", streak, "error", err)
		if streak >= maxConsecutiveErrors {
			o.endOfNight()
			return
		}
		// One short grace retry before giving up.
		o.mu.Lock()
		o.scheduleResultsLocked(o.graceWindow)
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	o.errStreak = 0
	o.mu.Unlock()
}

func (o *Orchestrator) endOfNight() {
	o.logger.Info("no further fixtures, showing end-of-night summary", "court", o.court)
	if o.onEndOfNight != nil {
		o.onEndOfNight()
	}
}

// EndOfNightSummary lists the locally queued, unsynced scores for this
// court so the operator can reconcile before leaving.
func (o *Orchestrator) EndOfNightSummary(ctx context.Context) Summary {
	return Summary{
		Court:         o.court,
		PendingScores: o.cache.ListPendingScores(ctx, ""),
	}
}

// Cancel clears any scheduled countdown; stale timers never fire after
// cancellation.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopResultsLocked()
}

func (o *Orchestrator) scheduleResultsLocked(window time.Duration) {
	o.stopResultsLocked()
	o.resultsDeadline = time.Now().Add(window)
	gen := o.resultsGen
	o.resultsTimer = time.AfterFunc(window, func() { o.resultsElapsed(gen) })
}

func (o *Orchestrator) stopResultsLocked() {
	o.resultsGen++
	if o.resultsTimer != nil {
		o.resultsTimer.Stop()
		o.resultsTimer = nil
	}
}
