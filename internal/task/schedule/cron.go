package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"jobsched/internal/task/history"
)

// cronParser accepts both 5-field and 6-field (with seconds) specs and descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron wants to run whenever a cron activation has passed since the previous
// execution. A job that never ran is due at the first activation after Since.
type Cron struct {
	Spec   string
	Weight int
	Since  time.Time
	Loc    *time.Location

	sched cron.Schedule
}

// NewCron parses spec. since anchors the first activation of a job that never
// ran; pass the time the schedule becomes active.
func NewCron(spec string, weight int, since time.Time, loc *time.Location) (*Cron, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("cron spec required")
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Cron{Spec: spec, Weight: weight, Since: since, Loc: loc, sched: sched}, nil
}

// ValidateCron reports whether spec parses.
func ValidateCron(spec string) error {
	_, err := cronParser.Parse(strings.TrimSpace(spec))
	return err
}

func (s *Cron) Priority(_ string, last, _ *history.Entry, now time.Time) int {
	if s == nil || s.sched == nil {
		return 0
	}
	ref := s.Since
	if last != nil {
		ref = last.At
	}
	next := s.sched.Next(ref.In(s.Loc))
	if next.IsZero() || now.Before(next) {
		return 0
	}
	return weightOr(s.Weight)
}

// Next returns the next activation after t.
func (s *Cron) Next(t time.Time) time.Time {
	if s == nil || s.sched == nil {
		return time.Time{}
	}
	return s.sched.Next(t.In(s.Loc))
}

func (s *Cron) String() string { return fmt.Sprintf("cron(%s)", s.Spec) }
