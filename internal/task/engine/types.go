package engine

import (
	"context"
	"time"

	"jobsched/internal/task"
	"jobsched/internal/task/history"
)

// Request describes one execution to start.
type Request struct {
	Key string
	Job task.Job

	// Timeout bounds the run context. 0 means no deadline.
	Timeout time.Duration
}

// RunInfo identifies an in-flight execution.
type RunInfo struct {
	ID      string        `json:"id"`
	Key     string        `json:"key"`
	Started time.Time     `json:"started"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// RunEvent is the event bus payload for job lifecycle events.
type RunEvent struct {
	ID      string        `json:"id"`
	Key     string        `json:"key"`
	Started time.Time     `json:"started"`
	At      time.Time     `json:"at,omitempty"`
	Took    time.Duration `json:"took,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Summary string        `json:"summary,omitempty"`
}

// Stats are cumulative counters since the service was created.
type Stats struct {
	Started     uint64 `json:"started"`
	Succeeded   uint64 `json:"succeeded"`
	Failed      uint64 `json:"failed"`
	StartFailed uint64 `json:"start_failed"`
	Cancelled   uint64 `json:"cancelled"`
	Running     int    `json:"running"`
}

type run struct {
	info   RunInfo
	cancel context.CancelFunc
	done   chan struct{}
}

func eventOf(e history.Entry) RunEvent {
	return RunEvent{
		ID:      e.RunID,
		Key:     e.Key,
		Started: e.Start,
		At:      e.At,
		Took:    e.Took,
		Kind:    e.Kind.String(),
		Summary: e.Summary,
	}
}
