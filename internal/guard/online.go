// Package guard protects the device from hammering an unreachable
// remote store. Every queued record would otherwise trigger its own
// connectivity probe; the guard caches the determination briefly and
// backs off entirely after repeated failures.
package guard

import (
	"context"
	"sync"
	"time"
)

// Probe is the underlying connectivity check, typically a short-timeout
// database ping.
type Probe func(ctx context.Context) error

// Defaults tuned for a courtside device on venue wifi: trust a result
// for a few seconds, and after three straight failures assume offline
// for half a minute before probing again.
const (
	DefaultCacheTTL      = 5 * time.Second
	DefaultFailThreshold = 3
	DefaultResetTimeout  = 30 * time.Second
)

type probeState int

const (
	stateClosed probeState = iota // probing normally
	stateOpen                     // assumed offline, probes suppressed
)

// OnlineProbe answers "is the remote reachable right now" with cached,
// failure-aware semantics. Safe for concurrent use.
type OnlineProbe struct {
	probe         Probe
	ttl           time.Duration
	failThreshold int
	resetTimeout  time.Duration

	mu          sync.Mutex
	state       probeState
	failures    int
	lastResult  bool
	lastChecked time.Time
	lastFailure time.Time
}

// NewOnlineProbe wraps probe with caching and backoff. Zero values take
// the defaults.
func NewOnlineProbe(probe Probe, ttl time.Duration, failThreshold int, resetTimeout time.Duration) *OnlineProbe {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if failThreshold <= 0 {
		failThreshold = DefaultFailThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &OnlineProbe{
		probe:         probe,
		ttl:           ttl,
		failThreshold: failThreshold,
		resetTimeout:  resetTimeout,
	}
}

// Online reports remote reachability. A fresh cached result is returned
// without probing; while the guard is open, the device is assumed
// offline until the reset timeout elapses and a single probe is let
// through.
func (p *OnlineProbe) Online(ctx context.Context) bool {
	p.mu.Lock()

	if !p.lastChecked.IsZero() && time.Since(p.lastChecked) < p.ttl {
		result := p.lastResult
		p.mu.Unlock()
		return result
	}

	if p.state == stateOpen && time.Since(p.lastFailure) < p.resetTimeout {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	err := p.probe(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastChecked = time.Now()
	if err != nil {
		p.failures++
		p.lastFailure = time.Now()
		p.lastResult = false
		if p.failures >= p.failThreshold {
			p.state = stateOpen
		}
		return false
	}
	p.failures = 0
	p.state = stateClosed
	p.lastResult = true
	return true
}

// Reset clears cached state so the next Online call probes immediately.
// Used when the operator manually retries.
func (p *OnlineProbe) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = stateClosed
	p.failures = 0
	p.lastChecked = time.Time{}
	p.lastFailure = time.Time{}
}
