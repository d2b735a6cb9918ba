// Package engine runs jobs and owns the running-job table.
//
// A key is present in the table from the moment Start accepts it until the
// execution has settled and its history entry is written. Completion always
// writes history and notifies observers before the key is released, so a
// schedule never sees a job as idle without also seeing its latest outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"jobsched/internal/clock"
	"jobsched/internal/eventbus"
	"jobsched/internal/task"
	"jobsched/internal/task/history"
	logx "jobsched/pkg/logx"
)

// Completed runs at or above this duration are logged at info level.
const slowRun = 750 * time.Millisecond

type Service struct {
	clock clock.Clock
	hist  *history.Store
	log   logx.Logger
	bus   eventbus.Bus

	obsMu     sync.RWMutex
	observers []history.Observer

	mu      sync.Mutex
	running map[string]*run

	started     atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	startFailed atomic.Uint64
	cancelled   atomic.Uint64
}

type Option func(*Service)

func WithLogger(l logx.Logger) Option  { return func(s *Service) { s.log = l } }
func WithBus(b eventbus.Bus) Option    { return func(s *Service) { s.bus = b } }
func WithClock(c clock.Clock) Option   { return func(s *Service) { s.clock = clock.OrSystem(c) } }
func WithObserver(o history.Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// New returns an engine writing outcomes to hist. A nil hist gets a private store.
func New(hist *history.Store, opts ...Option) *Service {
	if hist == nil {
		hist = history.NewStore()
	}
	s := &Service{
		clock:   clock.System(),
		hist:    hist,
		running: make(map[string]*run),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func (s *Service) History() *history.Store { return s.hist }

// AddObserver registers o to be told about every settled execution.
func (s *Service) AddObserver(o history.Observer) {
	if o == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

// Start reserves req.Key, runs the optional Prepare step synchronously and
// hands the run to its own goroutine. The run context derives from ctx.
//
// A Prepare failure is recorded as a Failure and returned wrapped in
// ErrStartFailed; the key is free again when Start returns.
func (s *Service) Start(ctx context.Context, req Request) (RunInfo, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" || req.Job == nil {
		return RunInfo{}, fmt.Errorf("%w: key and job are required", ErrInvalid)
	}
	if req.Timeout < 0 {
		return RunInfo{}, fmt.Errorf("%w: negative timeout", ErrInvalid)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := context.WithCancel(ctx)
	if req.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, req.Timeout)
		cancelParent := cancel
		cancel = func() {
			cancelTimeout()
			cancelParent()
		}
	}

	r := &run{
		info: RunInfo{
			ID:      uuid.NewString(),
			Key:     key,
			Started: s.clock.Now(),
			Timeout: req.Timeout,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if _, busy := s.running[key]; busy {
		s.mu.Unlock()
		cancel()
		return RunInfo{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
	}
	s.running[key] = r
	s.mu.Unlock()

	if p, ok := req.Job.(task.Preparer); ok {
		if err := s.prepare(runCtx, r, p); err != nil {
			s.startFailed.Add(1)
			s.settle(r, nil, err, history.Failure, PrefixStartFailed)
			return r.info, fmt.Errorf("%w: %s: %w", ErrStartFailed, key, err)
		}
	}

	s.started.Add(1)
	s.log.Debug("job.started", logx.String("job", key), logx.String("run_id", r.info.ID))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.JobStarted, Time: r.info.Started, Data: RunEvent{ID: r.info.ID, Key: key, Started: r.info.Started}})
	}

	go s.execute(runCtx, r, req.Job)
	return r.info, nil
}

func (s *Service) prepare(ctx context.Context, r *run, p task.Preparer) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			s.log.Error("job.panic", logx.String("job", r.info.Key), logx.String("stage", "prepare"), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	return p.Prepare(ctx)
}

func (s *Service) execute(ctx context.Context, r *run, job task.Job) {
	var (
		val any
		err error
	)
	// A panicking job must not take the process down or leave its key reserved.
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
				s.log.Error("job.panic", logx.String("job", r.info.Key), logx.String("run_id", r.info.ID), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
			}
		}()
		val, err = job.Run(ctx)
	}()

	kind := history.Success
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.Canceled):
		kind = history.Cancelled
	default:
		kind = history.Failure
	}
	s.settle(r, val, err, kind, PrefixFailed)
}

// settle writes history, notifies observers and publishes the outcome, then
// releases the key. failPrefix is used when kind is Failure.
func (s *Service) settle(r *run, val any, err error, kind history.Kind, failPrefix string) {
	defer close(r.done)
	defer r.cancel()

	at := s.clock.Now()
	took := at.Sub(r.info.Started)
	if took < 0 {
		took = 0
	}
	e := history.Entry{
		Key:    r.info.Key,
		RunID:  r.info.ID,
		Start:  r.info.Started,
		At:     at,
		Kind:   kind,
		Took:   took,
		Result: val,
	}
	switch kind {
	case history.Success:
		e.Summary = task.Render(val)
	case history.Cancelled:
		e.Summary = PrefixCancelled + errText(err)
	default:
		e.Summary = failPrefix + errText(err)
	}

	s.hist.Record(e)
	s.notify(e)
	s.report(e)

	s.mu.Lock()
	if cur, ok := s.running[r.info.Key]; ok && cur == r {
		delete(s.running, r.info.Key)
	}
	s.mu.Unlock()
}

func (s *Service) notify(e history.Entry) {
	s.obsMu.RLock()
	obs := append([]history.Observer(nil), s.observers...)
	s.obsMu.RUnlock()
	for _, o := range obs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					s.log.Error("observer.panic", logx.String("job", e.Key), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
				}
			}()
			o.Observe(e)
		}()
	}
}

func (s *Service) report(e history.Entry) {
	fields := []logx.Field{
		logx.String("job", e.Key),
		logx.String("run_id", e.RunID),
		logx.Duration("took", e.Took),
	}
	typ := eventbus.JobSucceeded
	switch e.Kind {
	case history.Success:
		s.succeeded.Add(1)
		if e.Took >= slowRun {
			s.log.Info("job.completed", fields...)
		} else {
			s.log.Debug("job.completed", fields...)
		}
	case history.Cancelled:
		s.cancelled.Add(1)
		typ = eventbus.JobCancelled
		s.log.Info("job.cancelled", append(fields, logx.String("summary", e.Summary))...)
	default:
		s.failed.Add(1)
		typ = eventbus.JobFailed
		s.log.Warn("job.failed", append(fields, logx.String("summary", e.Summary))...)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: e.At, Data: eventOf(e)})
	}
}

// Cancel signals the run context of key. It reports whether key was running.
func (s *Service) Cancel(key string) bool {
	s.mu.Lock()
	r, ok := s.running[strings.TrimSpace(key)]
	s.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	return true
}

// CancelAll signals every in-flight run and returns how many were signalled.
func (s *Service) CancelAll() int {
	s.mu.Lock()
	runs := make([]*run, 0, len(s.running))
	for _, r := range s.running {
		runs = append(runs, r)
	}
	s.mu.Unlock()
	for _, r := range runs {
		r.cancel()
	}
	return len(runs)
}

func (s *Service) IsRunning(key string) bool {
	s.mu.Lock()
	_, ok := s.running[strings.TrimSpace(key)]
	s.mu.Unlock()
	return ok
}

// Running returns the keys currently in the running-job table, sorted.
func (s *Service) Running() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.running))
	for k := range s.running {
		out = append(out, k)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// RunningInfo returns the in-flight runs ordered by start time.
func (s *Service) RunningInfo() []RunInfo {
	s.mu.Lock()
	out := make([]RunInfo, 0, len(s.running))
	for _, r := range s.running {
		out = append(out, r.info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].Key < out[j].Key
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// Done returns a channel closed when the current run of key has settled, or
// nil when key is idle.
func (s *Service) Done(key string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.running[strings.TrimSpace(key)]; ok {
		return r.done
	}
	return nil
}

// Wait blocks until the running-job table is empty or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		pending := make([]chan struct{}, 0, len(s.running))
		for _, r := range s.running {
			pending = append(pending, r.done)
		}
		s.mu.Unlock()
		if len(pending) == 0 {
			return nil
		}
		for _, done := range pending {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	n := len(s.running)
	s.mu.Unlock()
	return Stats{
		Started:     s.started.Load(),
		Succeeded:   s.succeeded.Load(),
		Failed:      s.failed.Load(),
		StartFailed: s.startFailed.Load(),
		Cancelled:   s.cancelled.Load(),
		Running:     n,
	}
}
