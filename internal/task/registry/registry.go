// Package registry holds the set of jobs known to the scheduler.
//
// Each registration couples a job factory with its schedule provider. Both are
// replaced together under one lock, so a reader never sees a key with a job
// from one registration and a schedule from another.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"jobsched/internal/task"
	"jobsched/internal/task/schedule"
)

var (
	ErrAlreadyExists = errors.New("job already registered")
	ErrNotFound      = errors.New("job not registered")
	ErrInvalid       = errors.New("invalid job registration")
)

// Registration is one registered job.
type Registration struct {
	Key      string
	Job      task.Factory
	Schedule schedule.Provider

	// Timeout bounds a single run. 0 disables it.
	Timeout time.Duration

	// Source tells where the registration came from ("config", "code", ...).
	Source string
}

func (r Registration) validate() (Registration, error) {
	r.Key = strings.TrimSpace(r.Key)
	if r.Key == "" {
		return r, fmt.Errorf("%w: key required", ErrInvalid)
	}
	if r.Job == nil {
		return r, fmt.Errorf("%w: %s: job factory required", ErrInvalid, r.Key)
	}
	if !r.Schedule.Valid() {
		return r, fmt.Errorf("%w: %s: schedule provider required", ErrInvalid, r.Key)
	}
	if r.Timeout < 0 {
		return r, fmt.Errorf("%w: %s: timeout must be >= 0", ErrInvalid, r.Key)
	}
	return r, nil
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Registration
	order []string // insertion order; used as the deterministic tie-break
}

func New() *Registry {
	return &Registry{byKey: make(map[string]Registration)}
}

// Add registers a new job. It fails with ErrAlreadyExists if the key is taken.
func (r *Registry) Add(reg Registration) error {
	reg, err := reg.validate()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[reg.Key]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, reg.Key)
	}
	r.byKey[reg.Key] = reg
	r.order = append(r.order, reg.Key)
	return nil
}

// Update replaces an existing registration. It fails with ErrNotFound if the
// key is unknown. The key keeps its original position in the order.
func (r *Registry) Update(reg Registration) error {
	reg, err := reg.validate()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[reg.Key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, reg.Key)
	}
	r.byKey[reg.Key] = reg
	return nil
}

// AddOrUpdate upserts reg. It reports whether the key was newly added.
func (r *Registry) AddOrUpdate(reg Registration) (added bool, err error) {
	reg, err = reg.validate()
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[reg.Key]; !ok {
		r.order = append(r.order, reg.Key)
		added = true
	}
	r.byKey[reg.Key] = reg
	return added, nil
}

// Remove unregisters key. It returns true if something was removed.
func (r *Registry) Remove(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[key]; !ok {
		return false
	}
	delete(r.byKey, key)
	n := 0
	for _, k := range r.order {
		if k == key {
			continue
		}
		r.order[n] = k
		n++
	}
	r.order = r.order[:n]
	return true
}

func (r *Registry) Get(key string) (Registration, bool) {
	r.mu.RLock()
	reg, ok := r.byKey[strings.TrimSpace(key)]
	r.mu.RUnlock()
	return reg, ok
}

func (r *Registry) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// List returns a consistent copy of all registrations in insertion order.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKey[k])
	}
	return out
}

// Keys returns the registered keys in insertion order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
