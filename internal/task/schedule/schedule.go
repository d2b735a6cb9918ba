// Package schedule contains the policies that decide when, and how urgently,
// a job wants to run.
//
// A policy returns an execution priority: 0 means "do not run this cycle",
// larger values only matter relative to other candidates in the same cycle.
// Policies must be cheap and free of scheduling side effects; the loop calls
// them every cycle for every idle job.
package schedule

import (
	"fmt"
	"time"

	"jobsched/internal/task/history"
)

// DefaultWeight is used when a policy is built with a weight <= 0.
const DefaultWeight = 1

// DefaultRetryDelay is the retry delay used by the *WithRetryDelay policies.
const DefaultRetryDelay = 30 * time.Second

// DefaultSlot is the slot length of a TimeSlot without an explicit duration.
const DefaultSlot = 10 * time.Minute

// Schedule computes the execution priority of a job.
//
// last and lastSuccess are nil when the job never ran (or never succeeded).
type Schedule interface {
	Priority(key string, last, lastSuccess *history.Entry, now time.Time) int
}

// Func adapts a plain function to Schedule.
type Func func(key string, last, lastSuccess *history.Entry, now time.Time) int

func (f Func) Priority(key string, last, lastSuccess *history.Entry, now time.Time) int {
	return f(key, last, lastSuccess, now)
}

func (f Func) String() string { return "func" }

func weightOr(w int) int {
	if w <= 0 {
		return DefaultWeight
	}
	return w
}

// Describe returns a short human readable description of s.
func Describe(s Schedule) string {
	if s == nil {
		return "<nil>"
	}
	if st, ok := s.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%T", s)
}
