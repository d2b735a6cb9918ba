package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"jobsched/internal/task"
	"jobsched/internal/task/schedule"
)

var ErrUnknownType = errors.New("unknown component type")

// Params are the free-form settings a job type receives from configuration.
type Params map[string]string

func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	raw, ok := p[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("param %s: invalid duration %q: %w", key, raw, err)
	}
	return d, nil
}

func (p Params) Int(key string, def int) (int, error) {
	raw, ok := p[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("param %s: invalid integer %q", key, raw)
	}
	return n, nil
}

// JobType builds a job from its configured params.
type JobType func(p Params) (task.Job, error)

// ScheduleFactory builds a schedule instance on demand.
type ScheduleFactory func() (schedule.Schedule, error)

// Components is the explicit, string-keyed component resolver: job types for
// configuration-driven registration and named schedules for Resolved
// providers. It is safe for concurrent use.
type Components struct {
	mu        sync.RWMutex
	jobs      map[string]JobType
	schedules map[string]ScheduleFactory
}

func NewComponents() *Components {
	return &Components{
		jobs:      make(map[string]JobType),
		schedules: make(map[string]ScheduleFactory),
	}
}

func normName(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// RegisterJobType makes a job type available under name (case-insensitive).
func (c *Components) RegisterJobType(name string, fn JobType) {
	if fn == nil || normName(name) == "" {
		return
	}
	c.mu.Lock()
	c.jobs[normName(name)] = fn
	c.mu.Unlock()
}

// JobTypes lists the registered job type names.
func (c *Components) JobTypes() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.jobs))
	for k := range c.jobs {
		out = append(out, k)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// JobFactory returns a factory that constructs a fresh job of the given type
// for every call. Unknown types fail immediately.
func (c *Components) JobFactory(typeName string, p Params) (task.Factory, error) {
	c.mu.RLock()
	fn, ok := c.jobs[normName(typeName)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: job type %q", ErrUnknownType, typeName)
	}
	params := make(Params, len(p))
	for k, v := range p {
		params[k] = v
	}
	return func() (task.Job, error) {
		j, err := fn(params)
		if err != nil {
			return nil, err
		}
		if j == nil {
			return nil, fmt.Errorf("job type %q returned nil", typeName)
		}
		return j, nil
	}, nil
}

// SetSchedule binds name to a fixed instance. Re-binding replaces it; jobs
// with a Resolved provider pick up the new instance on their next evaluation.
func (c *Components) SetSchedule(name string, s schedule.Schedule) {
	if s == nil {
		return
	}
	c.SetScheduleFactory(name, func() (schedule.Schedule, error) { return s, nil })
}

// SetScheduleFactory binds name to a factory called on every resolution.
func (c *Components) SetScheduleFactory(name string, fn ScheduleFactory) {
	if fn == nil || normName(name) == "" {
		return
	}
	c.mu.Lock()
	c.schedules[normName(name)] = fn
	c.mu.Unlock()
}

// RemoveSchedule unbinds name.
func (c *Components) RemoveSchedule(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.schedules[normName(name)]; !ok {
		return false
	}
	delete(c.schedules, normName(name))
	return true
}

// ScheduleNames lists the bound schedule names.
func (c *Components) ScheduleNames() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.schedules))
	for k := range c.schedules {
		out = append(out, k)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ResolveSchedule implements schedule.Resolver.
func (c *Components) ResolveSchedule(name string) (schedule.Schedule, error) {
	c.mu.RLock()
	fn, ok := c.schedules[normName(name)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", schedule.ErrUnresolved, name)
	}
	return fn()
}
