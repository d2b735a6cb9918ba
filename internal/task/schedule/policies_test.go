package schedule

import (
	"testing"
	"time"

	"jobsched/internal/task/history"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func entry(at time.Time, kind history.Kind) *history.Entry {
	return &history.Entry{Key: "job", At: at, Kind: kind}
}

func TestOnce(t *testing.T) {
	t.Parallel()
	s := Once{}
	if got := s.Priority("job", nil, nil, base); got != 1 {
		t.Fatalf("never run: Priority = %d, want 1", got)
	}
	ok := entry(base, history.Success)
	for _, d := range []time.Duration{0, time.Minute, 24 * time.Hour, 365 * 24 * time.Hour} {
		if got := s.Priority("job", ok, ok, base.Add(d)); got != 0 {
			t.Fatalf("after success (+%s): Priority = %d, want 0", d, got)
		}
	}
	failed := entry(base, history.Failure)
	if got := s.Priority("job", failed, nil, base.Add(time.Hour)); got != 0 {
		t.Fatalf("after failure: Priority = %d, want 0", got)
	}
	if got := (Once{Weight: 4}).Priority("job", nil, nil, base); got != 4 {
		t.Fatalf("weighted: Priority = %d, want 4", got)
	}
}

func TestNeverAndEndless(t *testing.T) {
	t.Parallel()
	last := entry(base, history.Success)
	if got := (Never{}).Priority("job", nil, nil, base); got != 0 {
		t.Fatalf("Never = %d, want 0", got)
	}
	if got := (Endless{}).Priority("job", last, last, base); got != 1 {
		t.Fatalf("Endless = %d, want 1", got)
	}
	if got := (Endless{Weight: 3}).Priority("job", nil, nil, base); got != 3 {
		t.Fatalf("Endless weighted = %d, want 3", got)
	}
}

func TestInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		period  time.Duration
		weight  int
		elapsed time.Duration
		kind    history.Kind
		want    int
	}{
		{name: "not due", period: 2 * time.Minute, elapsed: time.Minute, want: 0},
		{name: "exactly due", period: 2 * time.Minute, elapsed: 2 * time.Minute, want: 1},
		{name: "overdue escalates", period: 2 * time.Minute, elapsed: 8*time.Minute + 30*time.Second, want: 6},
		{name: "overdue weighted", period: 2 * time.Minute, weight: 2, elapsed: 8*time.Minute + 30*time.Second, want: 12},
		{name: "barely due keeps weight", period: 2 * time.Minute, weight: 5, elapsed: 2*time.Minute + 6*time.Second, want: 5},
		{name: "after failure same rule", period: 2 * time.Minute, elapsed: 3 * time.Minute, kind: history.Failure, want: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewInterval(tt.period, tt.weight)
			last := entry(base, tt.kind)
			if got := s.Priority("job", last, nil, base.Add(tt.elapsed)); got != tt.want {
				t.Fatalf("Priority = %d, want %d", got, tt.want)
			}
		})
	}

	if got := NewInterval(time.Hour, 7).Priority("job", nil, nil, base); got != 7 {
		t.Fatalf("never run: Priority = %d, want 7", got)
	}
}

func TestIntervalMonotonicWhenOverdue(t *testing.T) {
	t.Parallel()
	s := NewInterval(5*time.Minute, 3)
	last := entry(base, history.Success)
	prev := 0
	for d := 5*time.Minute + time.Second; d < 3*time.Hour; d += 37 * time.Second {
		got := s.Priority("job", last, last, base.Add(d))
		if got < 3 {
			t.Fatalf("d=%s: Priority = %d, want >= weight", d, got)
		}
		if got < prev {
			t.Fatalf("d=%s: Priority decreased %d -> %d", d, prev, got)
		}
		prev = got
	}
}

func TestIntervalWithRetryDelay(t *testing.T) {
	t.Parallel()
	s := NewIntervalWithRetryDelay(time.Hour, time.Minute, 2)

	failed := entry(base, history.Failure)
	if got := s.Priority("job", failed, nil, base.Add(30*time.Second)); got != 0 {
		t.Fatalf("inside retry delay: Priority = %d, want 0", got)
	}
	if got := s.Priority("job", failed, nil, base.Add(time.Minute)); got != 2 {
		t.Fatalf("retry delay elapsed: Priority = %d, want 2", got)
	}

	ok := entry(base, history.Success)
	if got := s.Priority("job", ok, ok, base.Add(10*time.Minute)); got != 0 {
		t.Fatalf("success, not due: Priority = %d, want 0", got)
	}
	if got := s.Priority("job", ok, ok, base.Add(63*time.Minute)); got != 6 {
		t.Fatalf("success, overdue: Priority = %d, want 6", got)
	}

	cancelled := entry(base, history.Cancelled)
	if got := s.Priority("job", cancelled, nil, base.Add(10*time.Minute)); got != 0 {
		t.Fatalf("cancelled, not due: Priority = %d, want 0", got)
	}

	if got := s.Priority("job", nil, nil, base); got != 2 {
		t.Fatalf("never run: Priority = %d, want 2", got)
	}
	if d := (IntervalWithRetryDelay{Interval: NewInterval(time.Hour, 0)}).retryDelay(); d != DefaultRetryDelay {
		t.Fatalf("default retry delay = %s, want %s", d, DefaultRetryDelay)
	}
}

func TestOnceWithRetryDelay(t *testing.T) {
	t.Parallel()
	s := OnceWithRetryDelay{RetryDelay: 10 * time.Second}
	if got := s.Priority("job", nil, nil, base); got != 1 {
		t.Fatalf("never run: Priority = %d, want 1", got)
	}
	failed := entry(base, history.Failure)
	if got := s.Priority("job", failed, nil, base.Add(5*time.Second)); got != 0 {
		t.Fatalf("inside retry delay: Priority = %d, want 0", got)
	}
	if got := s.Priority("job", failed, nil, base.Add(10*time.Second)); got != 1 {
		t.Fatalf("retry delay elapsed: Priority = %d, want 1", got)
	}
	ok := entry(base, history.Success)
	if got := s.Priority("job", failed, ok, base.Add(time.Hour)); got != 0 {
		t.Fatalf("after success: Priority = %d, want 0", got)
	}
}

func TestTimeSlot(t *testing.T) {
	t.Parallel()
	start := base
	s := TimeSlot{Start: start, Slot: 10 * time.Minute}

	tests := []struct {
		name   string
		now    time.Time
		lastOK *history.Entry
		want   int
	}{
		{name: "before slot", now: start.Add(-time.Second), want: 0},
		{name: "slot start inclusive", now: start, want: 1},
		{name: "inside slot", now: start.Add(5 * time.Minute), want: 1},
		{name: "slot end exclusive", now: start.Add(10 * time.Minute), want: 0},
		{name: "success before slot", now: start.Add(time.Minute), lastOK: entry(start.Add(-time.Hour), history.Success), want: 1},
		{name: "success inside slot", now: start.Add(2 * time.Minute), lastOK: entry(start.Add(time.Minute), history.Success), want: 0},
		{name: "success at slot start", now: start.Add(2 * time.Minute), lastOK: entry(start, history.Success), want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := s.Priority("job", nil, tt.lastOK, tt.now); got != tt.want {
				t.Fatalf("Priority = %d, want %d", got, tt.want)
			}
		})
	}

	// A failure inside the slot leaves the job eligible immediately.
	failed := entry(start.Add(time.Minute), history.Failure)
	if got := s.Priority("job", failed, nil, start.Add(time.Minute+time.Second)); got != 1 {
		t.Fatalf("after failure in slot: Priority = %d, want 1", got)
	}
	if got := (TimeSlot{Start: start}).slot(); got != DefaultSlot {
		t.Fatalf("default slot = %s, want %s", got, DefaultSlot)
	}
}

func TestCron(t *testing.T) {
	t.Parallel()
	since := time.Date(2024, 6, 1, 11, 58, 0, 0, time.UTC)
	s, err := NewCron("0 12 * * *", 2, since, time.UTC)
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}
	if got := s.Priority("job", nil, nil, since.Add(time.Minute)); got != 0 {
		t.Fatalf("before first activation: Priority = %d, want 0", got)
	}
	if got := s.Priority("job", nil, nil, base); got != 2 {
		t.Fatalf("at activation: Priority = %d, want 2", got)
	}
	last := entry(base.Add(time.Second), history.Success)
	if got := s.Priority("job", last, last, base.Add(time.Hour)); got != 0 {
		t.Fatalf("already ran today: Priority = %d, want 0", got)
	}
	if got := s.Priority("job", last, last, base.Add(24*time.Hour)); got != 2 {
		t.Fatalf("next day: Priority = %d, want 2", got)
	}
	if _, err := NewCron("not a cron", 1, since, nil); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}
