package config

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Config is the whole jobsched configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Restrictions RestrictionsConfig `json:"restrictions,omitempty"`

	// Schedules are named schedule definitions. Jobs referencing one by name
	// (schedule_ref) pick up a changed definition on their next evaluation.
	Schedules map[string]ScheduleConfig `json:"schedules,omitempty"`

	Jobs    []JobConfig    `json:"jobs"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Admin   *AdminConfig   `json:"admin,omitempty"`
}

// SchedulerConfig controls the scheduler loop.
//
// Defaults (when fields are omitted/zero):
//   - loop_delay: "5s"
//   - timezone: local
type SchedulerConfig struct {
	LoopDelay string `json:"loop_delay,omitempty"`

	// Timezone applies to cron schedules (IANA name, e.g. "Asia/Jakarta").
	Timezone string `json:"timezone,omitempty"`

	// ShutdownTimeout bounds shutdown hooks when the process stops.
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// RestrictionsConfig lists the restriction policies consulted before every
// start. Changes need a restart.
type RestrictionsConfig struct {
	Concurrent *ConcurrentConfig `json:"concurrent,omitempty"`
	Mutex      []MutexConfig     `json:"mutex,omitempty"`
	SlowStart  *SlowStartConfig  `json:"slow_start,omitempty"`
	Groups     []GroupConfig     `json:"groups,omitempty"`
	Circuit    *CircuitConfig    `json:"circuit,omitempty"`
}

type ConcurrentConfig struct {
	Max    int      `json:"max"`
	Except []string `json:"except,omitempty"`
}

// MutexConfig makes a set of jobs mutually exclusive.
type MutexConfig struct {
	Jobs []string `json:"jobs"`
}

type SlowStartConfig struct {
	Delay  string `json:"delay"`
	Window string `json:"window,omitempty"`
}

// GroupConfig caps how many members of a named group run at once.
type GroupConfig struct {
	Name  string   `json:"name"`
	Limit int      `json:"limit"`
	Jobs  []string `json:"jobs"`
}

// CircuitConfig enables the circuit breaker. Zero values pick the defaults
// (trip after 5 failures, 5s base cooldown, 2m max, reset after 5m).
type CircuitConfig struct {
	TripFailures int    `json:"trip_failures,omitempty"`
	BaseDelay    string `json:"base_delay,omitempty"`
	MaxDelay     string `json:"max_delay,omitempty"`
	ResetAfter   string `json:"reset_after,omitempty"`
}

// ScheduleConfig is a named schedule definition.
//
// Example:
//
//	"schedules": { "nightly": { "spec": "0 3 * * *", "weight": 10 } }
type ScheduleConfig struct {
	Spec       string `json:"spec"`
	Weight     int    `json:"weight,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`
}

// JobConfig registers one job. Exactly one of Schedule (inline spec) and
// ScheduleRef (a name under schedules) must be set.
type JobConfig struct {
	Key      string `json:"key"`
	Type     string `json:"type"`
	Params   Params `json:"params,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`

	Schedule    string `json:"schedule,omitempty"`
	ScheduleRef string `json:"schedule_ref,omitempty"`

	// Weight and RetryDelay apply to the inline schedule only.
	Weight     int    `json:"weight,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`

	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	JSON    bool          `json:"json,omitempty"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts republishes warn+ log lines on the event bus.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional execution/audit sink.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/jobsched.db", "retention": "168h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Retention   string `json:"retention,omitempty"`    // sqlite; "0s" keeps everything
	Buffer      int    `json:"buffer,omitempty"`
}

// AdminConfig controls the optional operator HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8089").
//   - If you bind to a non-loopback address, set a token.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8089"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)

	// QuickStartRate limits POST /jobs/{key}/start per second. 0 disables the limit.
	QuickStartRate  float64 `json:"quick_start_rate,omitempty"`
	QuickStartBurst int     `json:"quick_start_burst,omitempty"`

	// Pprof mounts the runtime profiler under /debug (behind the token).
	Pprof bool `json:"pprof,omitempty"`
}

// Params are job type settings. Scalar values of any JSON type are accepted
// and kept as strings, so YAML "count: 3" works like "count: \"3\"".
type Params map[string]string

func (p *Params) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Params, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = x
		case bool:
			out[k] = strconv.FormatBool(x)
		case float64:
			out[k] = strconv.FormatFloat(x, 'f', -1, 64)
		default:
			return fmt.Errorf("params.%s: must be a scalar", k)
		}
	}
	*p = out
	return nil
}
