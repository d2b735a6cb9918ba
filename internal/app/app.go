// Package app wires configuration into the scheduler, its policies and the
// optional outer surfaces, and owns startup, hot reload and shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"jobsched/internal/adminhttp"
	"jobsched/internal/clock"
	"jobsched/internal/config"
	"jobsched/internal/eventbus"
	"jobsched/internal/jobs/builtin"
	"jobsched/internal/runtime/supervisor"
	"jobsched/internal/storage"
	"jobsched/internal/task/engine"
	"jobsched/internal/task/history"
	"jobsched/internal/task/registry"
	"jobsched/internal/task/scheduler"
	logx "jobsched/pkg/logx"
)

type App struct {
	cfgm  *config.ConfigManager
	watch bool
	clock clock.Clock

	// applied is the config the running components reflect. Only the
	// reload loop touches it after Start.
	applied *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	comps    *registry.Components
	engine   *engine.Service
	sched    *scheduler.Service
	store    storage.Store
	recorder *storage.Recorder
	admin    *adminhttp.Server

	sup *supervisor.Supervisor
}

type Option func(*appOptions)

type appOptions struct {
	jobTypes []func(*registry.Components)
	watch    bool
	clock    clock.Clock
}

// WithJobTypes lets the embedding program register its own job types next
// to the built-in ones.
func WithJobTypes(fn func(c *registry.Components)) Option {
	return func(o *appOptions) { o.jobTypes = append(o.jobTypes, fn) }
}

// WithWatch enables config hot reload. Default true.
func WithWatch(enabled bool) Option { return func(o *appOptions) { o.watch = enabled } }

func WithClock(c clock.Clock) Option { return func(o *appOptions) { o.clock = c } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	o := appOptions{watch: true}
	for _, fn := range opts {
		fn(&o)
	}
	clk := clock.OrSystem(o.clock)

	// Job types are registered once with a console logger so the config can
	// be validated, then again below with the configured one.
	comps := registry.NewComponents()
	registerJobTypes(comps, logx.NewConsole("INFO").With(logx.String("comp", "job")), o.jobTypes)

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return checkConfig(comps, cfg)
	})
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	bus := eventbus.New()
	logSvc, log := logx.New(mapLoggingConfig(cfg), bus)
	registerJobTypes(comps, log.With(logx.String("comp", "job")), o.jobTypes)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		watch:   o.watch,
		clock:   clk,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		comps:   comps,
		applied: cfg,
	}

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return a.abort(err)
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return a.abort(fmt.Errorf("open storage: %w", err))
		}
		a.store = st
		buffer := 0
		if cfg.Storage != nil {
			buffer = cfg.Storage.Buffer
		}
		a.recorder = storage.NewRecorder(st, buffer, log.With(logx.String("comp", "recorder")))
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	restrictions, breaker, err := buildRestrictions(cfg, clk)
	if err != nil {
		return a.abort(err)
	}

	engOpts := []engine.Option{
		engine.WithLogger(log.With(logx.String("comp", "engine"))),
		engine.WithBus(bus),
		engine.WithClock(clk),
	}
	if breaker != nil {
		engOpts = append(engOpts, engine.WithObserver(breaker))
	}
	if a.recorder != nil {
		engOpts = append(engOpts, engine.WithObserver(a.recorder))
	}
	a.engine = engine.New(history.NewStore(), engOpts...)

	a.sched = scheduler.New(
		scheduler.Config{LoopDelay: cfg.LoopDelay()},
		registry.New(),
		a.engine,
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(bus),
		scheduler.WithClock(clk),
		scheduler.WithResolver(comps),
		scheduler.WithRestrictions(restrictions...),
	)

	if err := a.applySchedules(cfg, scheduleNames(cfg)); err != nil {
		return a.abort(err)
	}
	if err := a.applyJobs(cfg, jobKeys(cfg)); err != nil {
		return a.abort(err)
	}

	if ac, ok := mapAdminConfig(cfg); ok {
		adminOpts := []adminhttp.Option{
			adminhttp.WithLogger(log.With(logx.String("comp", "admin"))),
			adminhttp.WithRuntime(func() any {
				if a.sup == nil {
					return nil
				}
				return a.sup.Snapshot()
			}),
		}
		if a.store != nil {
			adminOpts = append(adminOpts, adminhttp.WithAudit(a.store))
		}
		a.admin = adminhttp.New(ac, a.sched, adminOpts...)
	}

	return a, nil
}

func registerJobTypes(c *registry.Components, log logx.Logger, extra []func(*registry.Components)) {
	builtin.Register(c, log)
	for _, fn := range extra {
		fn(c)
	}
}

func (a *App) Scheduler() *scheduler.Service     { return a.sched }
func (a *App) Components() *registry.Components { return a.comps }
func (a *App) Bus() eventbus.Bus                { return a.bus }
func (a *App) Logger() logx.Logger              { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	if a.recorder != nil {
		a.sup.Go("storage.recorder", a.recorder.Run)
	}
	a.sup.Go("eventbus.log", a.logEvents)
	a.sup.Go("scheduler.loop", a.sched.Run)
	if a.admin != nil {
		// Optional surface: keep retrying, never take the app down.
		a.sup.GoRestart("admin.http", a.admin.Serve, supervisor.RestartPolicy{
			MinBackoff: 500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		})
	}
	if a.watch {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
			return nil
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started",
		logx.Int("jobs", a.sched.Registry().Len()),
		logx.String("config", a.cfgm.Path()),
	)
	return nil
}

// logEvents mirrors job lifecycle events at debug level.
func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Type == eventbus.LogAlert {
				continue
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		_ = a.closeStore()
		_ = a.logs.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancelling the supervisor stops the loop; Run then drains running jobs
	// and calls shutdown hooks before returning.
	a.sup.Cancel()

	timeout := config.DefaultShutdownTimeout
	if cfg := a.cfgm.Get(); cfg != nil {
		timeout = cfg.ShutdownTimeout()
	}
	a.step(ctx, "supervisor", timeout, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
			logx.Any("running", a.engine.Running()),
		)
	}
}

// abort releases what NewApp opened so far.
func (a *App) abort(err error) (*App, error) {
	_ = a.closeStore()
	_ = a.logs.Close()
	return nil, err
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
