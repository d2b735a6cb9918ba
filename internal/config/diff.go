package config

import (
	"reflect"
	"sort"
	"strings"

	logx "jobsched/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections that changed, sorted.
	Sections []string
	// Attrs are safe to log; tokens are never included.
	Attrs []logx.Field
	// Jobs whose definition was added, changed or removed, sorted.
	Jobs []string
	// Schedules whose named definition was added, changed or removed, sorted.
	Schedules []string
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares oldCfg to newCfg. A nil side is treated as
// an empty config.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if restart {
			ch.Restart = append(ch.Restart, section)
		}
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		// Only the loop delay applies live; the timezone is read when schedules are built.
		restart := oldCfg.Scheduler.Timezone != newCfg.Scheduler.Timezone
		mark("scheduler", restart,
			logx.String("scheduler.loop_delay", strings.TrimSpace(newCfg.Scheduler.LoopDelay)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Restrictions, newCfg.Restrictions) {
		mark("restrictions", true,
			logx.Bool("restrictions.concurrent", newCfg.Restrictions.Concurrent != nil),
			logx.Int("restrictions.mutex_count", len(newCfg.Restrictions.Mutex)),
			logx.Int("restrictions.group_count", len(newCfg.Restrictions.Groups)),
			logx.Bool("restrictions.circuit", newCfg.Restrictions.Circuit != nil),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		var driver string
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		mark("storage", true, logx.String("storage.driver", driver))
	}

	if !reflect.DeepEqual(adminView(oldCfg.Admin), adminView(newCfg.Admin)) {
		a := adminView(newCfg.Admin)
		mark("admin", true,
			logx.Bool("admin.enabled", a.Enabled),
			logx.String("admin.addr", a.Addr),
			logx.Bool("admin.token_set", a.Token != ""),
		)
	}

	ch.Schedules = diffSchedules(oldCfg.Schedules, newCfg.Schedules)
	if len(ch.Schedules) > 0 {
		mark("schedules", false, logx.Int("schedules.changed_count", len(ch.Schedules)))
	}

	ch.Jobs = diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(ch.Jobs) > 0 {
		mark("jobs", false,
			logx.Int("jobs.changed_count", len(ch.Jobs)),
			logx.Int("jobs.count", len(newCfg.Jobs)),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.Restart)
	return ch
}

// adminView compares the token by presence only.
func adminView(a *AdminConfig) AdminConfig {
	if a == nil {
		return AdminConfig{}
	}
	v := *a
	v.Addr = strings.TrimSpace(v.Addr)
	if strings.TrimSpace(v.Token) != "" {
		v.Token = "set"
	}
	return v
}

func diffSchedules(oldM, newM map[string]ScheduleConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		o, okOld := oldM[name]
		n, okNew := newM[name]
		if okOld != okNew || o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func diffJobs(oldJobs, newJobs []JobConfig) []string {
	index := func(js []JobConfig) map[string]uint64 {
		m := make(map[string]uint64, len(js))
		for _, j := range js {
			m[strings.TrimSpace(j.Key)] = hashJSON(j)
		}
		return m
	}
	oldM, newM := index(oldJobs), index(newJobs)
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for key := range set {
		o, okOld := oldM[key]
		n, okNew := newM[key]
		if okOld != okNew || o != n {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
