package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"jobsched/internal/config"
	"jobsched/internal/task"
	"jobsched/internal/task/registry"
	"jobsched/internal/task/schedule"
	logx "jobsched/pkg/logx"
)

const appYAML = `
scheduler:
  loop_delay: 5ms
  timezone: UTC
  shutdown_timeout: 2s
schedules:
  fast: { spec: 10ms }
jobs:
  - key: tick
    type: noop
    schedule_ref: fast
  - key: idle
    type: log
    schedule: never
    params: { message: hello }
logging:
  level: error
  console: false
  file: { enabled: false, path: "" }
storage:
  driver: file
  path: %STORE%
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "jobsched.yaml")
	body = strings.ReplaceAll(body, "%STORE%", filepath.Join(dir, "state.jsonl"))
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestBuildRegistration(t *testing.T) {
	t.Parallel()
	comps := registry.NewComponents()
	registerJobTypes(comps, logx.Nop(), nil)
	now := time.Now()

	reg, err := buildRegistration(comps, config.JobConfig{Key: " a ", Type: "noop", Schedule: "30s", Timeout: "5s"}, now, time.UTC)
	if err != nil {
		t.Fatalf("inline: %v", err)
	}
	if reg.Key != "a" || reg.Source != SourceConfig || reg.Timeout != 5*time.Second {
		t.Fatalf("reg = %+v", reg)
	}
	if reg.Schedule.Kind() != schedule.ProviderFixed {
		t.Fatalf("inline schedule kind = %v", reg.Schedule.Kind())
	}

	reg, err = buildRegistration(comps, config.JobConfig{Key: "b", Type: "noop", ScheduleRef: "nightly"}, now, time.UTC)
	if err != nil {
		t.Fatalf("ref: %v", err)
	}
	if reg.Schedule.Kind() != schedule.ProviderResolved || reg.Schedule.Name() != "nightly" {
		t.Fatalf("ref schedule = %v", reg.Schedule)
	}

	if _, err := buildRegistration(comps, config.JobConfig{Key: "c", Type: "teleport", Schedule: "once"}, now, time.UTC); !errors.Is(err, registry.ErrUnknownType) {
		t.Fatalf("unknown type err = %v", err)
	}
	if _, err := buildRegistration(comps, config.JobConfig{Key: "d", Type: "noop", Schedule: "once", Timeout: "soon"}, now, time.UTC); err == nil {
		t.Fatal("bad timeout should fail")
	}
}

func TestCheckConfig(t *testing.T) {
	t.Parallel()
	comps := registry.NewComponents()
	registerJobTypes(comps, logx.Nop(), []func(*registry.Components){
		func(c *registry.Components) {
			c.RegisterJobType("custom", func(registry.Params) (task.Job, error) {
				return task.Func(func(context.Context) (any, error) { return nil, nil }), nil
			})
		},
	})

	ok := &config.Config{Jobs: []config.JobConfig{{Key: "x", Type: "custom", Schedule: "1m"}}}
	if err := checkConfig(comps, ok); err != nil {
		t.Fatalf("checkConfig(ok) = %v", err)
	}

	bad := &config.Config{
		Jobs:  []config.JobConfig{{Key: "x", Type: "nope", Schedule: "1m"}},
		Admin: &config.AdminConfig{Enabled: true, Addr: "0.0.0.0:9000"},
	}
	err := checkConfig(comps, bad)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"jobs.x.type", "admin:"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestCheckConfigFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg, err := CheckConfigFile(context.Background(), writeConfig(t, dir, appYAML))
	if err != nil {
		t.Fatalf("CheckConfigFile: %v", err)
	}
	if len(cfg.Jobs) != 2 {
		t.Fatalf("jobs = %d", len(cfg.Jobs))
	}
	if _, err := os.Stat(filepath.Join(dir, "state.executions.jsonl")); !os.IsNotExist(err) {
		t.Fatal("checking a config must not open storage")
	}

	broken := strings.Replace(appYAML, "type: noop", "type: missing", 1)
	if _, err := CheckConfigFile(context.Background(), writeConfig(t, t.TempDir(), broken)); err == nil {
		t.Fatal("unknown job type should be rejected")
	}
}

func TestAppRunReloadStop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, err := NewApp(writeConfig(t, dir, appYAML), WithWatch(false))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if a.Scheduler().Registry().Len() != 2 {
		t.Fatalf("registered = %v", a.Scheduler().Registry().Keys())
	}

	// A job registered from code survives reloads that do not mention it.
	if _, err := a.Scheduler().Register(registry.Registration{
		Key:      "code",
		Job:      task.Instance(task.Func(func(context.Context) (any, error) { return nil, nil })),
		Schedule: schedule.Fixed(schedule.Never{}),
		Source:   "code",
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "tick to succeed", func() bool {
		info, ok := a.Scheduler().Job("tick")
		return ok && info.LastSuccess != nil
	})

	next := *a.applied
	next.Jobs = []config.JobConfig{
		{Key: "idle", Type: "log", Schedule: "never", Disabled: true},
		{Key: "fresh", Type: "noop", Schedule: "once"},
	}
	next.Scheduler.LoopDelay = "20ms"
	a.applyConfig(&next)

	reg := a.Scheduler().Registry()
	if reg.Has("tick") || reg.Has("idle") {
		t.Fatalf("removed jobs still registered: %v", reg.Keys())
	}
	if !reg.Has("fresh") || !reg.Has("code") {
		t.Fatalf("registry = %v", reg.Keys())
	}
	if a.applied != &next {
		t.Fatal("applied config not updated")
	}
	waitFor(t, "fresh to run once", func() bool {
		info, _ := a.Scheduler().Job("fresh")
		return info.LastSuccess != nil
	})

	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "state.executions.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"tick"`) {
		t.Fatalf("executions file missing tick: %s", b)
	}
}

func TestApplySchedulesRebindsNamedSchedule(t *testing.T) {
	t.Parallel()
	a, err := NewApp(writeConfig(t, t.TempDir(), appYAML), WithWatch(false))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.Stop(context.Background(), StopAppStop)

	s, err := a.Components().ResolveSchedule("fast")
	if err != nil || schedule.Describe(s) != "interval(10ms)" {
		t.Fatalf("fast = %v, %v", s, err)
	}

	next := *a.applied
	next.Schedules = map[string]config.ScheduleConfig{"fast": {Spec: "1h"}}
	if err := a.applySchedules(&next, []string{"fast"}); err != nil {
		t.Fatal(err)
	}
	if s, _ := a.Components().ResolveSchedule("fast"); schedule.Describe(s) != "interval(1h0m0s)" {
		t.Fatalf("fast after rebind = %v", s)
	}

	next.Schedules = nil
	if err := a.applySchedules(&next, []string{"fast"}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Components().ResolveSchedule("fast"); err == nil {
		t.Fatal("removed schedule still resolves")
	}
}

func TestStopReasonForSignal(t *testing.T) {
	t.Parallel()
	cases := map[os.Signal]StopReason{
		os.Interrupt:    StopSIGINT,
		syscall.SIGTERM: StopSIGTERM,
		syscall.SIGHUP:  StopUnknown,
	}
	for sig, want := range cases {
		if got := StopReasonForSignal(sig); got != want {
			t.Errorf("StopReasonForSignal(%v) = %q, want %q", sig, got, want)
		}
	}
}
