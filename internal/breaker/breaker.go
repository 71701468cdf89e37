// Package breaker implements the circuit breaker guarding the WASM
// extractor pool (and, by composition, anything else that calls an
// unreliable backend). Its defining property is a three-phase lock
// discipline: metrics are updated under one lock, state transitions under a
// second, and event emission happens with no lock held at all, so a slow
// subscriber can never stall a state transition and a state transition can
// never stall a metrics read.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/riptide-org/riptide/internal/ports"
)

type Config struct {
	FailureThreshold float64 // fraction in [0,1]; Closed -> Open when reached
	MinRequests      int     // minimum window size before FailureThreshold applies
	RecoveryTimeout  time.Duration
	HalfOpenProbes   int // consecutive half-open failures before re-opening
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 0.5,
		MinRequests:      10,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenProbes:   3,
	}
}

// metrics is guarded exclusively by metricsMu (phase 1).
type metrics struct {
	failures  int64
	successes int64
}

// circuitState is guarded exclusively by stateMu (phase 2). It never reaches
// into metrics, and metrics never reach into it: the snapshot taken at the
// end of phase 1 is the only bridge between the two.
type circuitState struct {
	state       ports.BreakerState
	openedAt    time.Time
	lastFailure time.Time
	halfOpenFails int
}

// Breaker is safe for concurrent use. Call sequence per attempt is
// TryCall -> (do the work) -> OnSuccess or OnFailure.
type Breaker struct {
	cfg Config
	clock func() time.Time

	metricsMu sync.Mutex
	m         metrics

	stateMu sync.Mutex
	cs      circuitState

	events ports.EventBus // optional; nil is valid, emission becomes a no-op
}

func New(cfg Config, events ports.EventBus) *Breaker {
	return &Breaker{cfg: cfg, clock: time.Now, events: events, cs: circuitState{state: ports.BreakerClosed}}
}

// TryCall reports whether the caller may proceed. When the breaker is Open
// and the recovery timeout has elapsed, it flips to HalfOpen and admits the
// caller as a probe. While HalfOpen every caller is admitted; the number of
// concurrent probes is not limited.
func (b *Breaker) TryCall(_ context.Context) bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	switch b.cs.state {
	case ports.BreakerClosed, ports.BreakerHalfOpen:
		return true
	case ports.BreakerOpen:
		if b.clock().Sub(b.cs.openedAt) >= b.cfg.RecoveryTimeout {
			b.cs.state = ports.BreakerHalfOpen
			b.cs.halfOpenFails = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) OnSuccess(ctx context.Context, duration time.Duration) {
	b.record(ctx, true, duration)
}

func (b *Breaker) OnFailure(ctx context.Context, duration time.Duration) {
	b.record(ctx, false, duration)
}

// record runs the mandated three phases in order, never holding more than
// one lock at a time and never holding a lock while emitting events.
func (b *Breaker) record(ctx context.Context, success bool, duration time.Duration) {
	// Phase 1: metrics lock only.
	snap := b.updateMetrics(success)

	// Phase 2: circuit-state lock only, computed purely from the snapshot.
	transition := b.advanceState(snap, success)

	// Phase 3: no locks held, emit asynchronously.
	if transition != "" && b.events != nil {
		go b.events.Publish(ctx, ports.DomainEvent{
			Category: "circuit_breaker",
			Name:     transition,
			At:       b.clock(),
			Fields: map[string]any{
				"failures":  snap.failures,
				"successes": snap.successes,
				"duration":  duration.String(),
			},
		})
	}
}

func (b *Breaker) updateMetrics(success bool) metrics {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()
	if success {
		b.m.successes++
	} else {
		b.m.failures++
	}
	return b.m
}

func (b *Breaker) advanceState(snap metrics, success bool) string {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	now := b.clock()
	switch b.cs.state {
	case ports.BreakerClosed:
		total := snap.failures + snap.successes
		if total < int64(b.cfg.MinRequests) {
			return ""
		}
		rate := float64(snap.failures) / float64(total)
		if rate >= b.cfg.FailureThreshold {
			b.cs.state = ports.BreakerOpen
			b.cs.openedAt = now
			b.cs.lastFailure = now
			return "opened"
		}
		return ""
	case ports.BreakerHalfOpen:
		if success {
			b.cs.state = ports.BreakerClosed
			b.cs.halfOpenFails = 0
			return "closed"
		}
		b.cs.halfOpenFails++
		b.cs.lastFailure = now
		if b.cs.halfOpenFails >= b.cfg.HalfOpenProbes {
			b.cs.state = ports.BreakerOpen
			b.cs.openedAt = now
			return "reopened"
		}
		return ""
	case ports.BreakerOpen:
		// Reaching here without a TryCall-driven HalfOpen transition means a
		// stray feedback call arrived after the breaker reopened; ignore.
		return ""
	default:
		return ""
	}
}

func (b *Breaker) State() ports.BreakerState {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.cs.state
}

func (b *Breaker) Stats() ports.BreakerStats {
	b.metricsMu.Lock()
	m := b.m
	b.metricsMu.Unlock()

	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return ports.BreakerStats{
		State:       b.cs.state,
		Failures:    int(m.failures),
		Successes:   int(m.successes),
		OpenedAt:    b.cs.openedAt,
		LastFailure: b.cs.lastFailure,
	}
}

func (b *Breaker) Reset() {
	b.metricsMu.Lock()
	b.m = metrics{}
	b.metricsMu.Unlock()

	b.stateMu.Lock()
	b.cs = circuitState{state: ports.BreakerClosed}
	b.stateMu.Unlock()
}

var _ ports.CircuitBreaker = (*Breaker)(nil)
