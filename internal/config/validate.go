package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"jobsched/internal/task/schedule"
)

const (
	DefaultLoopDelay       = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultAdminAddr       = "127.0.0.1:8089"
)

// Validate checks everything that can be checked without the component
// resolver: durations, schedule strings, references and duplicate keys.
// Unknown job types are reported by the caller that owns the resolver.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("scheduler.loop_delay", cfg.Scheduler.LoopDelay)
	add(err)
	_, err = ParseDurationField("scheduler.shutdown_timeout", cfg.Scheduler.ShutdownTimeout)
	add(err)
	_, err = cfg.Location()
	add(err)

	add(validateRestrictions(cfg.Restrictions))

	for name, sc := range cfg.Schedules {
		path := "schedules." + name
		if strings.TrimSpace(name) == "" {
			add(errors.New("schedules: empty name"))
			continue
		}
		if _, err := schedule.ParseSchedule(sc.Spec); err != nil {
			add(fmt.Errorf("%s.spec: %w", path, err))
		}
		_, err := ParseDurationField(path+".retry_delay", sc.RetryDelay)
		add(err)
	}

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		key := strings.TrimSpace(j.Key)
		if key == "" {
			add(fmt.Errorf("%s.key: required", path))
		} else {
			path = "jobs." + key
			if _, dup := seen[key]; dup {
				add(fmt.Errorf("%s: duplicate key", path))
			}
			seen[key] = struct{}{}
		}
		if strings.TrimSpace(j.Type) == "" {
			add(fmt.Errorf("%s.type: required", path))
		}
		inline := strings.TrimSpace(j.Schedule) != ""
		ref := strings.TrimSpace(j.ScheduleRef) != ""
		switch {
		case inline && ref:
			add(fmt.Errorf("%s: schedule and schedule_ref are mutually exclusive", path))
		case !inline && !ref:
			add(fmt.Errorf("%s: schedule or schedule_ref required", path))
		case inline:
			if _, err := schedule.ParseSchedule(j.Schedule); err != nil {
				add(fmt.Errorf("%s.schedule: %w", path, err))
			}
		case ref:
			if _, ok := cfg.Schedules[strings.TrimSpace(j.ScheduleRef)]; !ok {
				add(fmt.Errorf("%s.schedule_ref: unknown schedule %q", path, j.ScheduleRef))
			}
		}
		_, err := ParseDurationField(path+".retry_delay", j.RetryDelay)
		add(err)
		_, err = ParseDurationField(path+".timeout", j.Timeout)
		add(err)
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				add(errors.New("storage.path: required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
		_, err = ParseDurationField("storage.retention", s.Retention)
		add(err)
	}

	if a := cfg.Admin; a != nil && a.Enabled {
		if _, _, err := net.SplitHostPort(a.AdminAddr()); err != nil {
			add(fmt.Errorf("admin.addr: %w", err))
		}
		if a.QuickStartRate < 0 {
			add(errors.New("admin.quick_start_rate: must be >= 0"))
		}
	}

	return errors.Join(errs...)
}

func validateRestrictions(r RestrictionsConfig) error {
	var errs []error
	if r.Concurrent != nil && r.Concurrent.Max < 1 {
		errs = append(errs, errors.New("restrictions.concurrent.max: must be >= 1"))
	}
	for i, m := range r.Mutex {
		if len(m.Jobs) < 2 {
			errs = append(errs, fmt.Errorf("restrictions.mutex[%d].jobs: need at least two jobs", i))
		}
	}
	if s := r.SlowStart; s != nil {
		d, err := ParseDurationField("restrictions.slow_start.delay", s.Delay)
		if err != nil {
			errs = append(errs, err)
		} else if d <= 0 {
			errs = append(errs, errors.New("restrictions.slow_start.delay: must be > 0"))
		}
		if _, err := ParseDurationField("restrictions.slow_start.window", s.Window); err != nil {
			errs = append(errs, err)
		}
	}
	names := map[string]struct{}{}
	for i, g := range r.Groups {
		path := fmt.Sprintf("restrictions.groups[%d]", i)
		if strings.TrimSpace(g.Name) == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if _, dup := names[g.Name]; dup {
			errs = append(errs, fmt.Errorf("%s.name: duplicate group %q", path, g.Name))
		}
		names[g.Name] = struct{}{}
		if g.Limit < 1 {
			errs = append(errs, fmt.Errorf("%s.limit: must be >= 1", path))
		}
	}
	if c := r.Circuit; c != nil {
		for _, f := range []struct{ path, raw string }{
			{"restrictions.circuit.base_delay", c.BaseDelay},
			{"restrictions.circuit.max_delay", c.MaxDelay},
			{"restrictions.circuit.reset_after", c.ResetAfter},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				errs = append(errs, err)
			}
		}
		if c.TripFailures < 0 {
			errs = append(errs, errors.New("restrictions.circuit.trip_failures: must be >= 0"))
		}
	}
	return errors.Join(errs...)
}

// Location returns the cron timezone, time.Local when unset.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// LoopDelay returns scheduler.loop_delay or DefaultLoopDelay.
func (c *Config) LoopDelay() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.loop_delay", c.Scheduler.LoopDelay, DefaultLoopDelay)
	if err != nil {
		return DefaultLoopDelay
	}
	return d
}

// ShutdownTimeout returns scheduler.shutdown_timeout or DefaultShutdownTimeout.
func (c *Config) ShutdownTimeout() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.shutdown_timeout", c.Scheduler.ShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return DefaultShutdownTimeout
	}
	return d
}

// AdminAddr returns the listen address, DefaultAdminAddr when unset.
func (a *AdminConfig) AdminAddr() string {
	if a == nil || strings.TrimSpace(a.Addr) == "" {
		return DefaultAdminAddr
	}
	return strings.TrimSpace(a.Addr)
}
