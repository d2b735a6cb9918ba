package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"jobsched/internal/clock"
	"jobsched/internal/eventbus"
	"jobsched/internal/task"
	"jobsched/internal/task/engine"
	"jobsched/internal/task/history"
	"jobsched/internal/task/registry"
	"jobsched/internal/task/restrict"
	"jobsched/internal/task/schedule"
	logx "jobsched/pkg/logx"
)

type Service struct {
	cfgMu sync.RWMutex
	cfg   Config

	log      logx.Logger
	bus      eventbus.Bus
	clock    clock.Clock
	reg      *registry.Registry
	eng      *engine.Service
	hist     history.Reader
	resolver schedule.Resolver

	rmu          sync.RWMutex
	restrictions []restrict.Restriction

	state  atomic.Int32
	cycles atomic.Uint64

	qmu   sync.Mutex
	queue []*Ticket
	wake  chan struct{}

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

type Option func(*Service)

func WithLogger(l logx.Logger) Option { return func(s *Service) { s.log = l } }
func WithBus(b eventbus.Bus) Option   { return func(s *Service) { s.bus = b } }
func WithClock(c clock.Clock) Option  { return func(s *Service) { s.clock = clock.OrSystem(c) } }

// WithResolver sets the resolver used by Resolved schedule providers.
func WithResolver(r schedule.Resolver) Option { return func(s *Service) { s.resolver = r } }

func WithRestrictions(rs ...restrict.Restriction) Option {
	return func(s *Service) {
		for _, r := range rs {
			if r != nil {
				s.restrictions = append(s.restrictions, r)
			}
		}
	}
}

func New(cfg Config, reg *registry.Registry, eng *engine.Service, opts ...Option) *Service {
	if reg == nil {
		reg = registry.New()
	}
	if eng == nil {
		eng = engine.New(nil)
	}
	s := &Service{
		cfg:      cfg,
		clock:    clock.System(),
		reg:      reg,
		eng:      eng,
		hist:     eng.History(),
		wake:     make(chan struct{}, 1),
		lastWarn: make(map[string]time.Time),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Service) Registry() *registry.Registry { return s.reg }
func (s *Service) Engine() *engine.Service      { return s.eng }

func (s *Service) State() State { return State(s.state.Load()) }

// Apply swaps the loop configuration. A running loop picks it up after the
// current sleep, which is cut short.
func (s *Service) Apply(cfg Config) {
	s.cfgMu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.cfgMu.Unlock()
	if prev.loopDelay() != cfg.loopDelay() {
		s.log.Info("loop delay changed", logx.Duration("from", prev.loopDelay()), logx.Duration("to", cfg.loopDelay()))
		s.wakeLoop()
	}
}

func (s *Service) loopDelay() time.Duration {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.loopDelay()
}

// SetRestrictions replaces the restriction list. It is meant for use between
// runs; a running loop sees the new list from its next start decision.
func (s *Service) SetRestrictions(rs ...restrict.Restriction) {
	cp := make([]restrict.Restriction, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			cp = append(cp, r)
		}
	}
	s.rmu.Lock()
	s.restrictions = cp
	s.rmu.Unlock()
}

func (s *Service) restrictionList() []restrict.Restriction {
	s.rmu.RLock()
	defer s.rmu.RUnlock()
	return append([]restrict.Restriction(nil), s.restrictions...)
}

// Cancel signals the running execution of key, if any.
func (s *Service) Cancel(key string) bool {
	ok := s.eng.Cancel(key)
	if ok {
		s.log.Info("job cancel requested", logx.String("job", key))
	}
	return ok
}

func (s *Service) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.log.Debug("state changed", logx.String("from", from.String()), logx.String("to", to.String()))
	eventbus.Publish(s.bus, eventbus.SchedulerState, StateEvent{From: from, To: to})
}

// Run drives the loop until ctx is cancelled, then drains in-flight
// executions, calls every shutdown hook and returns in the Stopped state.
// It returns ErrRunning if another Run is active. Run may be called again
// after it returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return ErrRunning
	}
	eventbus.Publish(s.bus, eventbus.SchedulerState, StateEvent{From: Stopped, To: Running})

	start := time.Now()
	for _, r := range s.restrictionList() {
		if rs, ok := r.(restrict.Resetter); ok {
			rs.Reset()
		}
	}
	s.log.Info("scheduler started", logx.Int("jobs", s.reg.Len()), logx.Duration("loop_delay", s.loopDelay()))

	s.loop(ctx)

	s.setState(Draining)
	s.log.Info("scheduler draining", logx.Int("running", len(s.eng.Running())))
	if err := s.eng.Wait(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn("drain interrupted", logx.Err(err))
	}

	s.setState(ShuttingDown)
	s.shutdownHooks(context.WithoutCancel(ctx))

	s.cancelPending()
	s.setState(Stopped)
	s.log.Info("scheduler stopped", logx.Duration("uptime", time.Since(start)), logx.Uint64("cycles", s.cycles.Load()))
	return nil
}

func (s *Service) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.cycle(ctx)

		t := time.NewTimer(s.loopDelay())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-s.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

type candidate struct {
	reg      registry.Registration
	priority int
	lastAt   time.Time // zero when never executed
}

// less orders candidates by priority, then least recently settled, then
// registration order (the caller sorts stably).
func (c candidate) less(o candidate) bool {
	if c.priority != o.priority {
		return c.priority > o.priority
	}
	return c.lastAt.Before(o.lastAt)
}

func (s *Service) cycle(ctx context.Context) {
	s.cycles.Add(1)
	s.drainQuickStarts(ctx)

	now := s.clock.Now()
	regs := s.reg.List()
	cands := make([]candidate, 0, len(regs))
	for _, reg := range regs {
		if s.eng.IsRunning(reg.Key) {
			continue
		}
		last := s.hist.Last(reg.Key)
		if p := s.evaluate(reg, last, now); p > 0 {
			c := candidate{reg: reg, priority: p}
			if last != nil {
				c.lastAt = last.At
			}
			cands = append(cands, c)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].less(cands[j]) })

	for _, c := range cands {
		if ctx.Err() != nil {
			return
		}
		if name, blocked := s.restricted(c.reg.Key); blocked {
			s.log.Trace("start restricted", logx.String("job", c.reg.Key), logx.String("restriction", name))
			continue
		}
		if _, err := s.start(ctx, c.reg); err != nil && !isAlreadyRunning(err) {
			s.log.Debug("scheduled start failed", logx.String("job", c.reg.Key), logx.Err(err))
		}
	}
}

// evaluate returns the priority of reg at now. A schedule that cannot be
// resolved, or that panics, yields 0 for this cycle.
func (s *Service) evaluate(reg registry.Registration, last *history.Entry, now time.Time) (p int) {
	defer func() {
		if rec := recover(); rec != nil {
			p = 0
			s.warnThrottled("schedule", reg.Key, "schedule evaluation panicked",
				logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	sched, err := reg.Schedule.Schedule(s.resolver)
	if err != nil {
		s.warnThrottled("schedule", reg.Key, "schedule unavailable", logx.Err(err))
		return 0
	}
	return sched.Priority(reg.Key, last, s.hist.LastSuccess(reg.Key), now)
}

// restricted checks key against every restriction using the live running
// set. A panicking restriction blocks.
func (s *Service) restricted(key string) (string, bool) {
	running := s.eng.Running()
	for _, r := range s.restrictionList() {
		if s.restrictOne(r, key, running) {
			return restrict.NameOf(r), true
		}
	}
	return "", false
}

func (s *Service) restrictOne(r restrict.Restriction, key string, running []string) (blocked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			blocked = true
			s.warnThrottled("restriction", key, "restriction panicked",
				logx.String("restriction", restrict.NameOf(r)), logx.Any("panic", rec))
		}
	}()
	return r.Restrict(key, running)
}

// start constructs a fresh job for reg and hands it to the engine.
func (s *Service) start(ctx context.Context, reg registry.Registration) (engine.RunInfo, error) {
	job, err := s.construct(reg)
	if err != nil {
		s.warnThrottled("construct", reg.Key, "job construction failed", logx.Err(err))
		return engine.RunInfo{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, reg.Key, err)
	}
	return s.eng.Start(ctx, engine.Request{Key: reg.Key, Job: job, Timeout: reg.Timeout})
}

func (s *Service) construct(reg registry.Registration) (job task.Job, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			job, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	job, err = reg.Job()
	if err == nil && job == nil {
		err = errors.New("factory returned nil job")
	}
	return job, err
}

func (s *Service) settleTicket(t *Ticket, o Outcome, info engine.RunInfo) {
	if !t.resolve(o, info) {
		return
	}
	s.log.Debug("quick start resolved", logx.String("job", t.Key), logx.String("outcome", o.String()))
	eventbus.Publish(s.bus, eventbus.QuickStart, QuickStartEvent{Key: t.Key, Outcome: o, RunID: info.ID})
}

func isAlreadyRunning(err error) bool { return errors.Is(err, engine.ErrAlreadyRunning) }
func isStartFailed(err error) bool    { return errors.Is(err, engine.ErrStartFailed) }
