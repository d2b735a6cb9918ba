package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobsched/internal/adminhttp"
	"jobsched/internal/clock"
	"jobsched/internal/config"
	"jobsched/internal/storage"
	"jobsched/internal/task/registry"
	"jobsched/internal/task/restrict"
	"jobsched/internal/task/schedule"
	logx "jobsched/pkg/logx"
)

// SourceConfig marks registrations that came from the config file. Hot reload
// only adds, updates and removes these.
const SourceConfig = "config"

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		JSON:    l.JSON,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Retention:   retention,
	}, true, nil
}

func mapAdminConfig(cfg *config.Config) (adminhttp.Config, bool) {
	a := cfg.Admin
	if a == nil || !a.Enabled {
		return adminhttp.Config{}, false
	}
	return adminhttp.Config{
		Addr:            a.AdminAddr(),
		Token:           strings.TrimSpace(a.Token),
		QuickStartRate:  a.QuickStartRate,
		QuickStartBurst: a.QuickStartBurst,
		Pprof:           a.Pprof,
	}, true
}

// buildRestrictions maps the restrictions section. The circuit breaker, if
// configured, is returned separately so it can also observe completions.
func buildRestrictions(cfg *config.Config, c clock.Clock) ([]restrict.Restriction, *restrict.CircuitBreaker, error) {
	rc := cfg.Restrictions
	var out []restrict.Restriction

	if rc.Concurrent != nil {
		out = append(out, restrict.NewConcurrent(rc.Concurrent.Max, rc.Concurrent.Except...))
	}
	for _, m := range rc.Mutex {
		out = append(out, restrict.NewMutex(m.Jobs...))
	}
	if ss := rc.SlowStart; ss != nil {
		delay, err := config.ParseDurationField("restrictions.slow_start.delay", ss.Delay)
		if err != nil {
			return nil, nil, err
		}
		window, err := config.ParseDurationField("restrictions.slow_start.window", ss.Window)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, restrict.NewSlowStart(delay, window, c))
	}
	if len(rc.Groups) > 0 {
		gl := restrict.NewGroupLimit()
		for _, g := range rc.Groups {
			gl.Add(g.Name, g.Limit, g.Jobs...)
		}
		out = append(out, gl)
	}

	var cb *restrict.CircuitBreaker
	if cc := rc.Circuit; cc != nil {
		var errs []error
		parse := func(path, raw string) time.Duration {
			d, err := config.ParseDurationField(path, raw)
			errs = append(errs, err)
			return d
		}
		ccfg := restrict.CircuitConfig{
			TripFailures: cc.TripFailures,
			BaseDelay:    parse("restrictions.circuit.base_delay", cc.BaseDelay),
			MaxDelay:     parse("restrictions.circuit.max_delay", cc.MaxDelay),
			ResetAfter:   parse("restrictions.circuit.reset_after", cc.ResetAfter),
		}
		if err := errors.Join(errs...); err != nil {
			return nil, nil, err
		}
		cb = restrict.NewCircuitBreaker(ccfg, c)
		out = append(out, cb)
	}
	return out, cb, nil
}

// buildSchedule parses a schedule string with its weight and retry delay.
// Cron schedules that never ran are anchored at since.
func buildSchedule(spec string, weight int, retryDelay string, path string, since time.Time, loc *time.Location) (schedule.Schedule, error) {
	rd, err := config.ParseDurationField(path+".retry_delay", retryDelay)
	if err != nil {
		return nil, err
	}
	s, err := schedule.Parse(spec, schedule.BuildOptions{
		Weight:     weight,
		RetryDelay: rd,
		Since:      since,
		Loc:        loc,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func buildNamedSchedule(name string, sc config.ScheduleConfig, since time.Time, loc *time.Location) (schedule.Schedule, error) {
	return buildSchedule(sc.Spec, sc.Weight, sc.RetryDelay, "schedules."+name, since, loc)
}

// buildRegistration maps one job entry. Job types are resolved through comps.
func buildRegistration(comps *registry.Components, jc config.JobConfig, since time.Time, loc *time.Location) (registry.Registration, error) {
	key := strings.TrimSpace(jc.Key)
	path := "jobs." + key

	factory, err := comps.JobFactory(jc.Type, registry.Params(jc.Params))
	if err != nil {
		return registry.Registration{}, fmt.Errorf("%s.type: %w", path, err)
	}

	var provider schedule.Provider
	if ref := strings.TrimSpace(jc.ScheduleRef); ref != "" {
		provider = schedule.Resolved(ref)
	} else {
		s, err := buildSchedule(jc.Schedule, jc.Weight, jc.RetryDelay, path+".schedule", since, loc)
		if err != nil {
			return registry.Registration{}, err
		}
		provider = schedule.Fixed(s)
	}

	timeout, err := config.ParseDurationField(path+".timeout", jc.Timeout)
	if err != nil {
		return registry.Registration{}, err
	}
	return registry.Registration{
		Key:      key,
		Job:      factory,
		Schedule: provider,
		Timeout:  timeout,
		Source:   SourceConfig,
	}, nil
}

// checkConfig is the config manager's validator: everything Validate cannot
// see without the component resolver.
func checkConfig(comps *registry.Components, cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	now := time.Now()
	var errs []error
	for name, sc := range cfg.Schedules {
		if _, err := buildNamedSchedule(name, sc, now, loc); err != nil {
			errs = append(errs, err)
		}
	}
	for _, jc := range cfg.Jobs {
		if _, err := buildRegistration(comps, jc, now, loc); err != nil {
			errs = append(errs, err)
		}
	}
	if _, _, err := buildRestrictions(cfg, clock.System()); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if ac, ok := mapAdminConfig(cfg); ok {
		if err := adminhttp.CheckBind(ac.Addr, ac.Token); err != nil {
			errs = append(errs, fmt.Errorf("admin: %w", err))
		}
	}
	return errors.Join(errs...)
}

// CheckConfigFile loads and fully validates the file at path without starting
// anything. extra registers additional job types, as WithJobTypes does.
func CheckConfigFile(ctx context.Context, path string, extra ...func(*registry.Components)) (*config.Config, error) {
	comps := registry.NewComponents()
	registerJobTypes(comps, logx.Nop(), extra)
	m := config.NewConfigManager(path)
	m.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return checkConfig(comps, cfg)
	})
	return m.Load(ctx)
}
