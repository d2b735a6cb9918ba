package scheduler

import (
	"context"
	"strings"
	"sync"

	"jobsched/internal/task/engine"
)

// Ticket is the handle of one quick-start request. It resolves exactly once.
//
// A request whose context is cancelled before the loop dequeues it resolves
// Cancelled, as does a request still queued when the loop stops. Requests
// made while the loop is stopped wait for the next Run.
type Ticket struct {
	Key string

	ctx       context.Context
	stopWatch func() bool

	once    sync.Once
	done    chan struct{}
	outcome Outcome
	run     engine.RunInfo
}

func (t *Ticket) Done() <-chan struct{} { return t.done }

// Outcome returns the resolution, or 0 while the request is pending.
func (t *Ticket) Outcome() Outcome {
	select {
	case <-t.done:
		return t.outcome
	default:
		return 0
	}
}

// Run returns the started execution when the outcome is Started.
func (t *Ticket) Run() engine.RunInfo {
	select {
	case <-t.done:
		return t.run
	default:
		return engine.RunInfo{}
	}
}

// Wait blocks until the request resolves or ctx is done. Giving up on the
// wait does not withdraw the request.
func (t *Ticket) Wait(ctx context.Context) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (t *Ticket) resolve(o Outcome, info engine.RunInfo) bool {
	resolved := false
	t.once.Do(func() {
		t.outcome = o
		t.run = info
		close(t.done)
		resolved = true
	})
	return resolved
}

// QuickStart asks the loop to start key as soon as possible, ahead of the
// scheduled candidates. The returned ticket resolves Started, AlreadyRunning,
// Restricted, NotFound, Unavailable, StartFailed or Cancelled.
func (s *Service) QuickStart(ctx context.Context, key string) *Ticket {
	if ctx == nil {
		ctx = context.Background()
	}
	t := &Ticket{Key: strings.TrimSpace(key), ctx: ctx, done: make(chan struct{})}
	t.stopWatch = context.AfterFunc(ctx, func() { s.withdraw(t) })

	s.qmu.Lock()
	s.queue = append(s.queue, t)
	s.qmu.Unlock()

	// The watcher may have fired before the append.
	if ctx.Err() != nil {
		s.withdraw(t)
		return t
	}
	s.wakeLoop()
	return t
}

// withdraw drops t from the queue if the loop has not taken it yet.
func (s *Service) withdraw(t *Ticket) {
	s.qmu.Lock()
	found := false
	for i, q := range s.queue {
		if q == t {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			found = true
			break
		}
	}
	s.qmu.Unlock()
	if found {
		s.settleTicket(t, Cancelled, engine.RunInfo{})
	}
}

func (s *Service) takeQueue() []*Ticket {
	s.qmu.Lock()
	q := s.queue
	s.queue = nil
	s.qmu.Unlock()
	return q
}

func (s *Service) pendingQuickStarts() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.queue)
}

func (s *Service) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drainQuickStarts serves every queued request through the gated start path.
func (s *Service) drainQuickStarts(ctx context.Context) {
	for _, t := range s.takeQueue() {
		if t.stopWatch != nil {
			t.stopWatch()
		}
		if t.ctx.Err() != nil {
			s.settleTicket(t, Cancelled, engine.RunInfo{})
			continue
		}
		o, info := s.quickStartOne(ctx, t.Key)
		s.settleTicket(t, o, info)
	}
}

func (s *Service) quickStartOne(ctx context.Context, key string) (Outcome, engine.RunInfo) {
	reg, ok := s.reg.Get(key)
	if !ok {
		return NotFound, engine.RunInfo{}
	}
	if s.eng.IsRunning(reg.Key) {
		return AlreadyRunning, engine.RunInfo{}
	}
	if _, blocked := s.restricted(reg.Key); blocked {
		return Restricted, engine.RunInfo{}
	}
	info, err := s.start(ctx, reg)
	switch {
	case err == nil:
		return Started, info
	case isAlreadyRunning(err):
		return AlreadyRunning, engine.RunInfo{}
	case isStartFailed(err):
		return StartFailed, info
	default:
		return Unavailable, engine.RunInfo{}
	}
}

// cancelPending resolves every queued request Cancelled.
func (s *Service) cancelPending() {
	for _, t := range s.takeQueue() {
		if t.stopWatch != nil {
			t.stopWatch()
		}
		s.settleTicket(t, Cancelled, engine.RunInfo{})
	}
}
