// Package timer implements the match phase state machine: a strict
// forward-only sequence of sets and breaks driven by countdown expiry
// or explicit operator skips. It is pure in-memory sequencing with no
// recoverable error states; a restarted process starts a new machine
// at not_started for the next fixture.
package timer

import (
	"sync"
	"time"
)

// Phase is one discrete stage of match progression.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseSet1       Phase = "set1"
	PhaseBreak1     Phase = "break1"
	PhaseSet2       Phase = "set2"
	PhaseBreak2     Phase = "break2"
	PhaseSet3       Phase = "set3"
	PhaseFinalBreak Phase = "final_break"
	PhaseComplete   Phase = "complete"
)

// phaseOrder is the only legal sequence. No backward transitions, no
// skipping states.
var phaseOrder = []Phase{
	PhaseNotStarted,
	PhaseSet1,
	PhaseBreak1,
	PhaseSet2,
	PhaseBreak2,
	PhaseSet3,
	PhaseFinalBreak,
	PhaseComplete,
}

// IsBreak reports whether the phase is a between-sets break.
func (p Phase) IsBreak() bool {
	return p == PhaseBreak1 || p == PhaseBreak2 || p == PhaseFinalBreak
}

// Durations are captured at construction and never change mid-match;
// configuration updates only affect machines built afterwards.
type Durations struct {
	Set   time.Duration
	Break time.Duration
}

// State is a point-in-time snapshot for the display boundary.
type State struct {
	Phase         Phase         `json:"phase"`
	TimeLeft      time.Duration `json:"time_left"`
	Running       bool          `json:"running"`
	PhaseDuration time.Duration `json:"phase_duration"`
}

// Machine sequences a single match. All mutation goes through the
// machine; callers only read snapshots.
type Machine struct {
	mu         sync.Mutex
	phase      Phase
	phaseIdx   int
	running    bool
	deadline   time.Time     // countdown target while running
	remaining  time.Duration // time left while paused
	phaseTotal time.Duration // original duration of the current phase, for reset
	durations  Durations

	// generation advances on every phase boundary. The expiry callback
	// captures the generation it was scheduled under, so a countdown
	// racing a manual skip can never advance the same boundary twice.
	generation int
	expiry     *time.Timer

	onPhase    func(Phase)
	onComplete func()
}

// New creates a machine at not_started. onPhase (optional) fires on
// every transition; onComplete fires exactly once on reaching complete.
func New(d Durations, onPhase func(Phase), onComplete func()) *Machine {
	return &Machine{
		phase:      PhaseNotStarted,
		phaseIdx:   0,
		remaining:  d.Set,
		phaseTotal: d.Set,
		durations:  d,
		onPhase:    onPhase,
		onComplete: onComplete,
	}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Phase:         m.phase,
		TimeLeft:      m.timeLeftLocked(),
		Running:       m.running,
		PhaseDuration: m.phaseTotal,
	}
}

func (m *Machine) timeLeftLocked() time.Duration {
	if !m.running {
		return m.remaining
	}
	left := time.Until(m.deadline)
	if left < 0 {
		return 0
	}
	return left
}

// Toggle starts or stops the clock. The very first invocation also
// transitions out of not_started into set1.
func (m *Machine) Toggle() {
	m.mu.Lock()
	if m.phase == PhaseComplete {
		m.mu.Unlock()
		return
	}
	if m.phase == PhaseNotStarted {
		notify := m.advanceLocked()
		m.mu.Unlock()
		notify()
		return
	}
	if m.running {
		m.remaining = m.timeLeftLocked()
		m.running = false
		m.stopExpiryLocked()
	} else {
		m.running = true
		m.deadline = time.Now().Add(m.remaining)
		m.scheduleExpiryLocked(m.remaining)
	}
	m.mu.Unlock()
}

// Reset returns the clock to the current phase's original duration
// without changing phase. Disallowed once complete.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseComplete {
		return
	}
	m.remaining = m.phaseTotal
	if m.running {
		m.deadline = time.Now().Add(m.phaseTotal)
		m.stopExpiryLocked()
		m.scheduleExpiryLocked(m.phaseTotal)
	}
}

// SkipPhase forces the next-in-order transition immediately, including
// the next phase's duration and running state. Shares the advance path
// with countdown expiry.
func (m *Machine) SkipPhase() {
	m.mu.Lock()
	if m.phase == PhaseComplete {
		m.mu.Unlock()
		return
	}
	notify := m.advanceLocked()
	m.mu.Unlock()
	notify()
}

// Stop cancels the countdown so no stale expiry ever fires. The phase
// is left as-is; the machine is expected to be discarded.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.stopExpiryLocked()
}

// expire is the countdown-expiry trigger. gen guards the boundary: if
// a skip already advanced it, the stale callback is a no-op.
func (m *Machine) expire(gen int) {
	m.mu.Lock()
	if gen != m.generation || m.phase == PhaseComplete {
		m.mu.Unlock()
		return
	}
	notify := m.advanceLocked()
	m.mu.Unlock()
	notify()
}

// advanceLocked performs the single phase-advance path used by both
// triggers. It returns the callback bundle to invoke after unlocking.
func (m *Machine) advanceLocked() func() {
	m.generation++
	m.stopExpiryLocked()

	m.phaseIdx++
	m.phase = phaseOrder[m.phaseIdx]

	if m.phase == PhaseComplete {
		m.running = false
		m.remaining = 0
		m.phaseTotal = 0
		onPhase, onComplete := m.onPhase, m.onComplete
		phase := m.phase
		return func() {
			if onPhase != nil {
				onPhase(phase)
			}
			if onComplete != nil {
				onComplete()
			}
		}
	}

	d := m.durations.Set
	if m.phase.IsBreak() {
		d = m.durations.Break
	}
	m.phaseTotal = d
	m.remaining = d
	m.running = true
	m.deadline = time.Now().Add(d)
	m.scheduleExpiryLocked(d)

	onPhase, phase := m.onPhase, m.phase
	return func() {
		if onPhase != nil {
			onPhase(phase)
		}
	}
}

func (m *Machine) scheduleExpiryLocked(d time.Duration) {
	gen := m.generation
	m.expiry = time.AfterFunc(d, func() { m.expire(gen) })
}

func (m *Machine) stopExpiryLocked() {
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
}
