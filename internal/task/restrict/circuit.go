package restrict

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"jobsched/internal/clock"
	"jobsched/internal/task/history"
)

// CircuitConfig controls CircuitBreaker. Zero values pick the defaults.
type CircuitConfig struct {
	TripFailures int           // default 5
	BaseDelay    time.Duration // default 5s
	MaxDelay     time.Duration // default 2m
	ResetAfter   time.Duration // default 5m
}

func (c CircuitConfig) withDefaults() CircuitConfig {
	if c.TripFailures <= 0 {
		c.TripFailures = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = 5 * time.Minute
	}
	return c
}

// circuitState tracks consecutive failures for one job key.
//
//   - On success: failures reset and the circuit closes.
//   - On failure: failures increment and, once failures >= trip,
//     the circuit opens for an exponentially increasing cooldown.
type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

// CircuitBreaker blocks jobs that keep failing. It learns outcomes through
// Observe, so it must be registered as a history observer as well as a
// restriction. Cancelled executions do not change its state.
type CircuitBreaker struct {
	cfg   CircuitConfig
	clock clock.Clock

	mu sync.Mutex
	m  map[string]*circuitState
}

func NewCircuitBreaker(cfg CircuitConfig, c clock.Clock) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), clock: clock.OrSystem(c), m: make(map[string]*circuitState)}
}

func (b *CircuitBreaker) stateLocked(key string) *circuitState {
	st := b.m[key]
	if st == nil {
		st = &circuitState{}
		b.m[key] = st
	}
	return st
}

// resetIfStaleLocked clears a circuit whose last failure is long past.
func (b *CircuitBreaker) resetIfStaleLocked(st *circuitState, now time.Time) {
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > b.cfg.ResetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}

func (b *CircuitBreaker) Restrict(candidate string, _ []string) bool {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.m[candidate]
	if st == nil {
		return false
	}
	b.resetIfStaleLocked(st, now)
	return !st.openUntil.IsZero() && now.Before(st.openUntil)
}

// Observe records an execution outcome.
func (b *CircuitBreaker) Observe(e history.Entry) {
	key := strings.TrimSpace(e.Key)
	if key == "" || e.Kind == history.Cancelled {
		return
	}
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stateLocked(key)
	b.resetIfStaleLocked(st, now)

	if e.Kind == history.Success {
		st.fails = 0
		st.openUntil = time.Time{}
		st.lastFailure = time.Time{}
		return
	}

	st.fails++
	st.lastFailure = now
	if st.fails < b.cfg.TripFailures {
		return
	}

	// Exponential cooldown after tripping.
	d := b.cfg.BaseDelay
	for i := 0; i < st.fails-b.cfg.TripFailures; i++ {
		d *= 2
		if d >= b.cfg.MaxDelay {
			d = b.cfg.MaxDelay
			break
		}
	}
	st.openUntil = now.Add(d)
}

// OpenUntil reports when the circuit of key closes again (zero if closed).
func (b *CircuitBreaker) OpenUntil(key string) time.Time {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.m[key]
	if st == nil || st.openUntil.IsZero() || !now.Before(st.openUntil) {
		return time.Time{}
	}
	return st.openUntil
}

// Counts returns the number of tracked keys and how many are open.
func (b *CircuitBreaker) Counts() (total, open int) {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	total = len(b.m)
	for _, st := range b.m {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}

func (b *CircuitBreaker) Name() string {
	return fmt.Sprintf("circuit(trip=%d)", b.cfg.TripFailures)
}
