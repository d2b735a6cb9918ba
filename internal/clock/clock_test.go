package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	m := NewManual(start)
	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}
	got := m.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if !got.Equal(want) || !m.Now().Equal(want) {
		t.Fatalf("Advance = %v, want %v", got, want)
	}
	m.Set(start)
	if !m.Now().Equal(start) {
		t.Fatalf("Set did not rewind clock: %v", m.Now())
	}
}

func TestOrSystem(t *testing.T) {
	t.Parallel()
	if OrSystem(nil) == nil {
		t.Fatal("OrSystem(nil) returned nil")
	}
	fixed := time.Unix(42, 0)
	c := OrSystem(Func(func() time.Time { return fixed }))
	if !c.Now().Equal(fixed) {
		t.Fatalf("Now() = %v, want %v", c.Now(), fixed)
	}
}
