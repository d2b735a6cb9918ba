package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"jobsched/internal/config"
	"jobsched/internal/task/scheduler"
	logx "jobsched/pkg/logx"
)

// reloadCoalesceWindow batches bursts of published configs (editors often
// write a file several times) into one apply.
const reloadCoalesceWindow = 100 * time.Millisecond

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-sub:
			cfg = latest(ctx, sub, cfg)
			if cfg == nil {
				continue
			}
			a.applyConfig(cfg)
		}
	}
}

// latest drains sub for a short window and returns the newest config seen.
func latest(ctx context.Context, sub <-chan *config.Config, cur *config.Config) *config.Config {
	t := time.NewTimer(reloadCoalesceWindow)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return cur
		case <-t.C:
			return cur
		case next := <-sub:
			if next != nil {
				cur = next
			}
		}
	}
}

// applyConfig moves the running components from a.applied to cfg. Sections
// that need a restart are reported and otherwise left alone.
func (a *App) applyConfig(cfg *config.Config) {
	ch := config.SummarizeConfigChange(a.applied, cfg)
	if ch.Empty() {
		a.log.Debug("config reload: no effective change")
		a.applied = cfg
		return
	}

	for _, sec := range ch.Sections {
		switch sec {
		case "logging":
			a.logs.Apply(mapLoggingConfig(cfg))
		case "scheduler":
			a.sched.Apply(scheduler.Config{LoopDelay: cfg.LoopDelay()})
		}
	}

	var errs []error
	if len(ch.Schedules) > 0 {
		errs = append(errs, a.applySchedules(cfg, ch.Schedules))
	}
	if len(ch.Jobs) > 0 {
		errs = append(errs, a.applyJobs(cfg, ch.Jobs))
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error("config reload partially applied", logx.Err(err))
	}

	if len(ch.Restart) > 0 {
		a.log.Warn("config sections changed that need a restart",
			logx.String("sections", strings.Join(ch.Restart, ",")),
		)
	}

	fields := append([]logx.Field{
		logx.String("sections", strings.Join(ch.Sections, ",")),
		logx.String("jobs", joinKeys(ch.Jobs)),
		logx.String("schedules", joinKeys(ch.Schedules)),
	}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
	a.applied = cfg
}

// applySchedules binds or unbinds the given named schedules so they match cfg.
func (a *App) applySchedules(cfg *config.Config, names []string) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	now := a.clock.Now()
	var errs []error
	for _, name := range names {
		sc, ok := cfg.Schedules[name]
		if !ok {
			a.comps.RemoveSchedule(name)
			continue
		}
		s, err := buildNamedSchedule(name, sc, now, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a.comps.SetSchedule(name, s)
	}
	return errors.Join(errs...)
}

// applyJobs registers, replaces or removes the given jobs so they match cfg.
// Jobs registered from code are never removed here.
func (a *App) applyJobs(cfg *config.Config, keys []string) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	byKey := make(map[string]config.JobConfig, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		byKey[strings.TrimSpace(jc.Key)] = jc
	}

	now := a.clock.Now()
	var errs []error
	for _, key := range keys {
		jc, ok := byKey[key]
		if !ok || jc.Disabled {
			if reg, found := a.sched.Registry().Get(key); found && reg.Source == SourceConfig {
				a.sched.Unregister(key)
				a.log.Info("job removed", logx.String("job", key), logx.Bool("disabled", ok))
			}
			continue
		}
		reg, err := buildRegistration(a.comps, jc, now, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, found := a.sched.Registry().Get(key); found && prev.Source != SourceConfig {
			errs = append(errs, fmt.Errorf("jobs.%s: key already registered by %q", key, prev.Source))
			continue
		}
		added, err := a.sched.Register(reg)
		if err != nil {
			errs = append(errs, fmt.Errorf("jobs.%s: %w", key, err))
			continue
		}
		a.log.Debug("job registered",
			logx.String("job", key),
			logx.String("schedule", reg.Schedule.String()),
			logx.Bool("new", added),
		)
	}
	return errors.Join(errs...)
}

func scheduleNames(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Schedules))
	for name := range cfg.Schedules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func jobKeys(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		out = append(out, strings.TrimSpace(jc.Key))
	}
	return out
}

// joinKeys is a short log rendering of a key list.
func joinKeys(keys []string) string {
	const maxShown = 10
	if len(keys) > maxShown {
		return strings.Join(keys[:maxShown], ",") + fmt.Sprintf(",+%d", len(keys)-maxShown)
	}
	return strings.Join(keys, ",")
}
