package restrict

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"jobsched/internal/clock"
)

func sortStrings(s []string) { sort.Strings(s) }

// Concurrent caps the number of jobs running at once. Jobs listed as
// exceptions are never blocked and do not count toward the cap.
type Concurrent struct {
	max        int
	exceptions keySet
}

func NewConcurrent(max int, exceptions ...string) *Concurrent {
	if max < 0 {
		max = 0
	}
	return &Concurrent{max: max, exceptions: newKeySet(exceptions)}
}

func (c *Concurrent) Restrict(candidate string, running []string) bool {
	if c.exceptions.has(candidate) {
		return false
	}
	n := 0
	for _, k := range running {
		if !c.exceptions.has(k) {
			n++
		}
	}
	return n >= c.max
}

func (c *Concurrent) Name() string {
	if len(c.exceptions) == 0 {
		return fmt.Sprintf("concurrent(max=%d)", c.max)
	}
	return fmt.Sprintf("concurrent(max=%d, except=%s)", c.max, strings.Join(c.exceptions.sorted(), ","))
}

// Mutex lets at most one member of a group run at a time. Jobs outside the
// group are never blocked by it.
type Mutex struct {
	group keySet
}

func NewMutex(group ...string) *Mutex {
	return &Mutex{group: newKeySet(group)}
}

func (m *Mutex) Restrict(candidate string, running []string) bool {
	if !m.group.has(candidate) {
		return false
	}
	for _, k := range running {
		if k != candidate && m.group.has(k) {
			return true
		}
	}
	return false
}

func (m *Mutex) Name() string {
	return "mutex(" + strings.Join(m.group.sorted(), ",") + ")"
}

// Default SlowStart settings.
const (
	DefaultSlowStartDelay  = 10 * time.Second
	DefaultSlowStartWindow = 2 * time.Minute
)

// SlowStart throttles the ramp-up right after the scheduler becomes active.
// The first call records the reference time. Inside the startup window a start
// is only allowed once delay*len(running) has elapsed since that reference.
type SlowStart struct {
	delay  time.Duration
	window time.Duration
	clock  clock.Clock

	mu    sync.Mutex
	first time.Time
}

func NewSlowStart(delay, window time.Duration, c clock.Clock) *SlowStart {
	if delay <= 0 {
		delay = DefaultSlowStartDelay
	}
	if window <= 0 {
		window = DefaultSlowStartWindow
	}
	return &SlowStart{delay: delay, window: window, clock: clock.OrSystem(c)}
}

func (s *SlowStart) Restrict(_ string, running []string) bool {
	now := s.clock.Now()
	s.mu.Lock()
	if s.first.IsZero() {
		s.first = now
	}
	first := s.first
	s.mu.Unlock()

	elapsed := now.Sub(first)
	if elapsed >= s.window {
		return false
	}
	return elapsed < s.delay*time.Duration(len(running))
}

// Reset forgets the reference time so the next call starts a new window.
func (s *SlowStart) Reset() {
	s.mu.Lock()
	s.first = time.Time{}
	s.mu.Unlock()
}

func (s *SlowStart) Name() string {
	return fmt.Sprintf("slow_start(delay=%s, window=%s)", s.delay, s.window)
}
