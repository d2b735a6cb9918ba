package scheduler

import (
	"errors"
	"time"

	"jobsched/internal/task/engine"
	"jobsched/internal/task/history"
)

var (
	ErrRunning     = errors.New("scheduler already running")
	ErrUnavailable = errors.New("job could not be constructed")
)

const DefaultLoopDelay = 5 * time.Second

// Config controls the scheduler loop.
type Config struct {
	// LoopDelay is the pause between cycles. 0 means DefaultLoopDelay.
	LoopDelay time.Duration
}

func (c Config) loopDelay() time.Duration {
	if c.LoopDelay <= 0 {
		return DefaultLoopDelay
	}
	return c.LoopDelay
}

// State of the loop. The only cycle is Stopped, Running, Draining,
// ShuttingDown and back to Stopped.
type State int32

const (
	Stopped State = iota
	Running
	Draining
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome is the resolution of a quick-start request.
type Outcome int

const (
	Started Outcome = iota + 1
	AlreadyRunning
	Restricted
	NotFound
	Unavailable
	StartFailed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case AlreadyRunning:
		return "already_running"
	case Restricted:
		return "restricted"
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	case StartFailed:
		return "start_failed"
	case Cancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// StateEvent is published as scheduler.state on every transition.
type StateEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// QuickStartEvent is published as scheduler.quick_start when a request resolves.
type QuickStartEvent struct {
	Key     string  `json:"key"`
	Outcome Outcome `json:"outcome"`
	RunID   string  `json:"run_id,omitempty"`
}

// JobInfo describes one registered job.
type JobInfo struct {
	Key         string         `json:"key"`
	Schedule    string         `json:"schedule"`
	Source      string         `json:"source,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
	Running     bool           `json:"running"`
	Last        *history.Entry `json:"last,omitempty"`
	LastSuccess *history.Entry `json:"last_success,omitempty"`
}

type Snapshot struct {
	State        State            `json:"state"`
	LoopDelay    time.Duration    `json:"loop_delay"`
	Cycles       uint64           `json:"cycles"`
	Pending      int              `json:"pending_quick_starts"`
	Restrictions []string         `json:"restrictions"`
	Jobs         []JobInfo        `json:"jobs"`
	Running      []engine.RunInfo `json:"running"`
	Engine       engine.Stats     `json:"engine"`
}
