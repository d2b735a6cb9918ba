package storage

import (
	"context"
	"sync/atomic"
	"time"

	"jobsched/internal/task/history"
	logx "jobsched/pkg/logx"
)

// Recorder forwards settled executions to a Store from its own goroutine, so
// a slow disk never holds up the engine. It implements history.Observer.
//
// Observe never blocks: when the buffer is full the entry is dropped and
// counted.
type Recorder struct {
	store Store
	log   logx.Logger
	ch    chan ExecutionEntry

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewRecorder(store Store, buffer int, log logx.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log, ch: make(chan ExecutionEntry, buffer)}
}

func (r *Recorder) Observe(e history.Entry) {
	ee := ExecutionEntry{
		At:      e.At,
		Start:   e.Start,
		Key:     e.Key,
		RunID:   e.RunID,
		Kind:    e.Kind.String(),
		TookMS:  e.Took.Milliseconds(),
		Summary: e.Summary,
	}
	select {
	case r.ch <- ee:
	default:
		r.dropped.Add(1)
	}
}

// Run writes queued entries until ctx is done, then flushes what is left
// with a short deadline.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.ch:
			r.write(ctx, e)
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			for {
				select {
				case e := <-r.ch:
					r.write(fctx, e)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Recorder) write(ctx context.Context, e ExecutionEntry) {
	if r.store == nil {
		return
	}
	if err := r.store.AppendExecution(ctx, e); err != nil {
		r.failed.Add(1)
		r.log.Warn("execution append failed", logx.String("job", e.Key), logx.Err(err))
		return
	}
	r.written.Add(1)
}

// Stats returns written, dropped and failed counts.
func (r *Recorder) Stats() (written, dropped, failed uint64) {
	return r.written.Load(), r.dropped.Load(), r.failed.Load()
}
