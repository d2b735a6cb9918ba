// Package history keeps the execution feedback that schedule policies read.
//
// Only two entries are retained per job key: the last execution and the last
// successful execution. It is not an execution log.
package history

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind is the outcome of one execution.
type Kind int

const (
	Success Kind = iota
	Failure
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind as its lowercase name in JSON output.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Entry is the recorded outcome of one execution.
type Entry struct {
	Key    string        `json:"key"`
	RunID  string        `json:"run_id,omitempty"`
	Start  time.Time     `json:"start"`
	At     time.Time     `json:"at"` // when the execution settled
	Kind   Kind          `json:"kind"`
	Took   time.Duration `json:"took"`
	Result any           `json:"-"`

	// Summary is the rendered result on success, or the prefixed error message otherwise.
	Summary string `json:"summary,omitempty"`
}

func (e *Entry) Succeeded() bool { return e != nil && e.Kind == Success }

// Reader is the read side consumed by the scheduler loop.
type Reader interface {
	Last(key string) *Entry
	LastSuccess(key string) *Entry
}

// Store is safe for concurrent writers and readers.
type Store struct {
	mu     sync.RWMutex
	last   map[string]Entry
	lastOK map[string]Entry
}

func NewStore() *Store {
	return &Store{
		last:   make(map[string]Entry),
		lastOK: make(map[string]Entry),
	}
}

// Record overwrites the last-execution slot for e.Key, and the last-success
// slot too when e is a Success. Ordering is the caller's responsibility.
func (s *Store) Record(e Entry) {
	key := strings.TrimSpace(e.Key)
	if key == "" {
		return
	}
	e.Key = key
	s.mu.Lock()
	s.last[key] = e
	if e.Kind == Success {
		s.lastOK[key] = e
	}
	s.mu.Unlock()
}

// Last returns a copy of the last execution, or nil.
func (s *Store) Last(key string) *Entry {
	s.mu.RLock()
	e, ok := s.last[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return &e
}

// LastSuccess returns a copy of the last successful execution, or nil.
func (s *Store) LastSuccess(key string) *Entry {
	s.mu.RLock()
	e, ok := s.lastOK[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return &e
}

// Forget drops both slots for key.
func (s *Store) Forget(key string) {
	s.mu.Lock()
	delete(s.last, key)
	delete(s.lastOK, key)
	s.mu.Unlock()
}

// Pair is the view of one key used for diagnostics.
type Pair struct {
	Key         string `json:"key"`
	Last        *Entry `json:"last,omitempty"`
	LastSuccess *Entry `json:"last_success,omitempty"`
}

// Snapshot returns all known keys sorted by key.
func (s *Store) Snapshot() []Pair {
	s.mu.RLock()
	out := make([]Pair, 0, len(s.last))
	for k, e := range s.last {
		e := e
		p := Pair{Key: k, Last: &e}
		if ok, found := s.lastOK[k]; found {
			ok := ok
			p.LastSuccess = &ok
		}
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Observer is notified after an execution outcome has been recorded.
type Observer interface {
	Observe(e Entry)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Entry)

func (f ObserverFunc) Observe(e Entry) { f(e) }
