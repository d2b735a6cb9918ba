package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retention prunes sqlite execution rows older than this. 0 keeps everything.
	Retention time.Duration
}

// ExecutionEntry is one settled execution.
type ExecutionEntry struct {
	At      time.Time `json:"at"`
	Start   time.Time `json:"start"`
	Key     string    `json:"key"`
	RunID   string    `json:"run_id,omitempty"`
	Kind    string    `json:"kind"`
	TookMS  int64     `json:"took_ms"`
	Summary string    `json:"summary,omitempty"`
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Actor    string    `json:"actor,omitempty"`
	Remote   string    `json:"remote,omitempty"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	Outcome  string    `json:"outcome,omitempty"`
	Error    string    `json:"error,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}
