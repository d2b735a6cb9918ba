package restrict

import (
	"fmt"
	"testing"
	"time"

	"jobsched/internal/clock"
	"jobsched/internal/task/history"
)

func TestConcurrent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		max        int
		exceptions []string
		candidate  string
		running    []string
		want       bool
	}{
		{name: "below cap", max: 2, candidate: "a", running: []string{"b"}, want: false},
		{name: "at cap", max: 2, candidate: "a", running: []string{"b", "c"}, want: true},
		{name: "nothing running", max: 1, candidate: "a", want: false},
		{name: "zero cap blocks", max: 0, candidate: "a", want: true},
		{name: "exempt candidate", max: 1, exceptions: []string{"a"}, candidate: "a", running: []string{"b", "c"}, want: false},
		{name: "exempt running not counted", max: 1, exceptions: []string{"x"}, candidate: "a", running: []string{"x"}, want: false},
		{name: "exempt and counted mix", max: 1, exceptions: []string{"x"}, candidate: "a", running: []string{"x", "b"}, want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewConcurrent(tt.max, tt.exceptions...)
			if got := r.Restrict(tt.candidate, tt.running); got != tt.want {
				t.Fatalf("Restrict(%q, %v) = %v, want %v", tt.candidate, tt.running, got, tt.want)
			}
		})
	}
}

func TestConcurrentProperty(t *testing.T) {
	t.Parallel()
	r := NewConcurrent(3, "e1", "e2")
	keys := []string{"a", "b", "c", "d", "e1", "e2"}
	// Every subset of keys as the running set.
	for mask := 0; mask < 1<<len(keys); mask++ {
		var running []string
		counted := 0
		for i, k := range keys {
			if mask&(1<<i) != 0 {
				running = append(running, k)
				if k != "e1" && k != "e2" {
					counted++
				}
			}
		}
		if r.Restrict("e1", running) {
			t.Fatalf("exempt candidate blocked with running=%v", running)
		}
		if got, want := r.Restrict("z", running), counted >= 3; got != want {
			t.Fatalf("Restrict(z, %v) = %v, want %v", running, got, want)
		}
	}
}

func TestMutex(t *testing.T) {
	t.Parallel()
	m := NewMutex("A", "B")
	if !m.Restrict("B", []string{"A"}) {
		t.Fatal("B should be blocked while A runs")
	}
	if !m.Restrict("A", []string{"x", "B"}) {
		t.Fatal("A should be blocked while B runs")
	}
	if m.Restrict("A", []string{"x", "y"}) || m.Restrict("B", nil) {
		t.Fatal("group members blocked with a disjoint running set")
	}
	if m.Restrict("x", []string{"A", "B"}) {
		t.Fatal("non-member must never be blocked")
	}
	if got := m.Name(); got != "mutex(A,B)" {
		t.Fatalf("Name() = %q", got)
	}
}

func TestSlowStart(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewManual(start)
	s := NewSlowStart(10*time.Second, 2*time.Minute, c)

	// First call anchors the window; nothing running is always allowed.
	if s.Restrict("a", nil) {
		t.Fatal("first start with nothing running should be allowed")
	}
	if !s.Restrict("b", []string{"a"}) {
		t.Fatal("second start at t=0 should be blocked")
	}
	c.Advance(10 * time.Second)
	if s.Restrict("b", []string{"a"}) {
		t.Fatal("second start at t=10s should be allowed")
	}
	if !s.Restrict("c", []string{"a", "b"}) {
		t.Fatal("third start at t=10s should be blocked")
	}
	c.Advance(10 * time.Second)
	if s.Restrict("c", []string{"a", "b"}) {
		t.Fatal("third start at t=20s should be allowed")
	}
	c.Set(start.Add(2 * time.Minute))
	running := make([]string, 50)
	for i := range running {
		running[i] = fmt.Sprintf("j%d", i)
	}
	if s.Restrict("z", running) {
		t.Fatal("outside the window nothing is blocked")
	}

	s.Reset()
	if s.Restrict("a", nil) {
		t.Fatal("after Reset the first call should pass")
	}
	if !s.Restrict("b", []string{"a"}) {
		t.Fatal("after Reset a new window should apply")
	}
}

func TestGroupLimit(t *testing.T) {
	t.Parallel()
	g := NewGroupLimit().Add("io", 2, "a", "b", "c").Add("db", 1, "c", "d")
	if g.Restrict("a", []string{"b"}) {
		t.Fatal("io has room for a second job")
	}
	if !g.Restrict("c", []string{"a", "b"}) {
		t.Fatal("io is full")
	}
	if !g.Restrict("c", []string{"d"}) {
		t.Fatal("db is full")
	}
	if g.Restrict("x", []string{"a", "b", "c", "d"}) {
		t.Fatal("non-member blocked")
	}
	if got := g.Name(); got != "groups(db=1,io=2)" {
		t.Fatalf("Name() = %q", got)
	}
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewManual(start)
	b := NewCircuitBreaker(CircuitConfig{TripFailures: 2, BaseDelay: time.Minute, MaxDelay: 3 * time.Minute, ResetAfter: time.Hour}, c)

	fail := history.Entry{Key: "k", Kind: history.Failure}
	b.Observe(fail)
	if b.Restrict("k", nil) {
		t.Fatal("one failure should not trip")
	}
	b.Observe(fail)
	if !b.Restrict("k", nil) {
		t.Fatal("second failure should trip")
	}
	if got := b.OpenUntil("k"); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("OpenUntil = %v, want %v", got, start.Add(time.Minute))
	}
	if b.Restrict("other", nil) {
		t.Fatal("unrelated key blocked")
	}

	b.Observe(history.Entry{Key: "k", Kind: history.Cancelled})
	c.Advance(time.Minute)
	if b.Restrict("k", nil) {
		t.Fatal("cooldown elapsed, circuit should allow a probe")
	}
	b.Observe(fail)
	if got := b.OpenUntil("k"); !got.Equal(c.Now().Add(2 * time.Minute)) {
		t.Fatalf("OpenUntil = %v, want doubled cooldown", got)
	}
	b.Observe(fail)
	if got := b.OpenUntil("k"); !got.Equal(c.Now().Add(3 * time.Minute)) {
		t.Fatalf("OpenUntil = %v, want capped cooldown", got)
	}
	total, open := b.Counts()
	if total != 1 || open != 1 {
		t.Fatalf("Counts = %d/%d, want 1/1", total, open)
	}

	b.Observe(history.Entry{Key: "k", Kind: history.Success})
	if b.Restrict("k", nil) {
		t.Fatal("success should close the circuit")
	}
}

func TestFuncAndNameOf(t *testing.T) {
	t.Parallel()
	f := Func(func(candidate string, running []string) bool { return candidate == "x" })
	if !f.Restrict("x", nil) || f.Restrict("y", nil) {
		t.Fatal("Func adapter misbehaves")
	}
	if got := NameOf(NewConcurrent(2)); got != "concurrent(max=2)" {
		t.Fatalf("NameOf = %q", got)
	}
	if got := NameOf(f); got != "restrict.Func" {
		t.Fatalf("NameOf(Func) = %q", got)
	}
}
