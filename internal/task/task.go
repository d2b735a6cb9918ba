// Package task defines the capabilities a schedulable job can expose.
//
// A job only has to implement Job. Shutdowner and Preparer are optional and
// discovered with a type assertion.
package task

import (
	"context"
	"fmt"
)

// Job is a unit of background work.
//
// Run must observe ctx and return promptly once it is done. The returned value
// is opaque to the scheduler: it is kept in history and rendered with
// fmt.Sprint for display.
type Job interface {
	Run(ctx context.Context) (any, error)
}

// Shutdowner is implemented by jobs that need cleanup when the scheduler
// stops. Shutdown is called once per stop, whether or not the job ever ran.
type Shutdowner interface {
	Shutdown(ctx context.Context) (string, error)
}

// Preparer is implemented by jobs that do synchronous setup before the run is
// handed off to its own goroutine. A Prepare error counts as a start failure.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Func adapts a function to Job.
type Func func(ctx context.Context) (any, error)

func (f Func) Run(ctx context.Context) (any, error) { return f(ctx) }

// ErrFunc adapts a function that has no result value.
type ErrFunc func(ctx context.Context) error

func (f ErrFunc) Run(ctx context.Context) (any, error) { return nil, f(ctx) }

// Factory builds a job instance for one execution (or one shutdown call).
type Factory func() (Job, error)

// Instance returns a Factory that always yields j.
func Instance(j Job) Factory {
	return func() (Job, error) {
		if j == nil {
			return nil, fmt.Errorf("nil job instance")
		}
		return j, nil
	}
}

// Render formats a job result for display.
func Render(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}
