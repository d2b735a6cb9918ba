package schedule

import (
	"fmt"
	"time"

	"jobsched/internal/task/history"
)

// Once runs a job a single time. A failed run is not retried.
type Once struct {
	Weight int
}

func (s Once) Priority(_ string, last, _ *history.Entry, _ time.Time) int {
	if last != nil {
		return 0
	}
	return weightOr(s.Weight)
}

func (s Once) String() string { return "once" }

// Never only runs through quick-start.
type Never struct{}

func (Never) Priority(string, *history.Entry, *history.Entry, time.Time) int { return 0 }

func (Never) String() string { return "never" }

// Endless asks to run every cycle. The loop never starts a job that is already
// running, so a finished run becomes eligible again on the next cycle.
type Endless struct {
	Weight int
}

func (s Endless) Priority(string, *history.Entry, *history.Entry, time.Time) int {
	return weightOr(s.Weight)
}

func (s Endless) String() string { return "endless" }

// Interval runs a job every Period after the previous execution settled,
// regardless of its outcome. An overdue job gains one weight per
// whole minute past due.
type Interval struct {
	Period time.Duration
	Weight int
}

func NewInterval(period time.Duration, weight int) Interval {
	return Interval{Period: period, Weight: weight}
}

func (s Interval) Priority(_ string, last, _ *history.Entry, now time.Time) int {
	w := weightOr(s.Weight)
	if last == nil {
		return w
	}
	due := last.At.Add(s.Period)
	if now.Before(due) {
		return 0
	}
	overdue := int(now.Sub(due) / time.Minute)
	if p := overdue * w; p > w {
		return p
	}
	return w
}

func (s Interval) String() string { return fmt.Sprintf("interval(%s)", s.Period) }

// IntervalWithRetryDelay behaves like Interval, but a failed execution is
// retried after RetryDelay instead of the full period.
type IntervalWithRetryDelay struct {
	Interval
	RetryDelay time.Duration
}

func NewIntervalWithRetryDelay(period, retryDelay time.Duration, weight int) IntervalWithRetryDelay {
	return IntervalWithRetryDelay{Interval: NewInterval(period, weight), RetryDelay: retryDelay}
}

func (s IntervalWithRetryDelay) retryDelay() time.Duration {
	if s.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return s.RetryDelay
}

func (s IntervalWithRetryDelay) Priority(key string, last, lastSuccess *history.Entry, now time.Time) int {
	if p := s.Interval.Priority(key, last, lastSuccess, now); p > 0 {
		return p
	}
	if last == nil || last.Kind != history.Failure {
		return 0
	}
	if now.Before(last.At.Add(s.retryDelay())) {
		return 0
	}
	return weightOr(s.Weight)
}

func (s IntervalWithRetryDelay) String() string {
	return fmt.Sprintf("interval(%s, retry %s)", s.Period, s.retryDelay())
}

// OnceWithRetryDelay runs a job until it succeeds once, waiting RetryDelay
// between attempts.
type OnceWithRetryDelay struct {
	RetryDelay time.Duration
	Weight     int
}

func (s OnceWithRetryDelay) retryDelay() time.Duration {
	if s.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return s.RetryDelay
}

func (s OnceWithRetryDelay) Priority(_ string, last, lastSuccess *history.Entry, now time.Time) int {
	if lastSuccess != nil {
		return 0
	}
	if last != nil && now.Before(last.At.Add(s.retryDelay())) {
		return 0
	}
	return weightOr(s.Weight)
}

func (s OnceWithRetryDelay) String() string {
	return fmt.Sprintf("once(retry %s)", s.retryDelay())
}

// TimeSlot runs a job once inside [Start, Start+Slot). A failure inside the
// slot makes the job eligible again right away.
type TimeSlot struct {
	Start  time.Time
	Slot   time.Duration
	Weight int
}

func (s TimeSlot) slot() time.Duration {
	if s.Slot <= 0 {
		return DefaultSlot
	}
	return s.Slot
}

func (s TimeSlot) Priority(_ string, _, lastSuccess *history.Entry, now time.Time) int {
	if now.Before(s.Start) || !now.Before(s.Start.Add(s.slot())) {
		return 0
	}
	if lastSuccess != nil && !lastSuccess.At.Before(s.Start) {
		return 0
	}
	return weightOr(s.Weight)
}

func (s TimeSlot) String() string {
	return fmt.Sprintf("slot(%s/%s)", s.Start.Format(time.RFC3339), s.slot())
}
