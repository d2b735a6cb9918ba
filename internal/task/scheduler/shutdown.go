package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"jobsched/internal/task"
	"jobsched/internal/task/registry"
	logx "jobsched/pkg/logx"
)

// shutdownHooks calls Shutdown on every registered job that implements
// task.Shutdowner, all at once. A failing or panicking hook is logged and
// does not affect the others.
func (s *Service) shutdownHooks(ctx context.Context) {
	start := time.Now()
	var g errgroup.Group
	for _, reg := range s.reg.List() {
		g.Go(func() error { return s.shutdownOne(ctx, reg) })
	}
	if err := g.Wait(); err != nil {
		s.log.Warn("shutdown hooks finished with errors", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Debug("shutdown hooks finished", logx.Duration("took", time.Since(start)))
}

func (s *Service) shutdownOne(ctx context.Context, reg registry.Registration) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s: shutdown panic: %v", reg.Key, rec)
			s.log.Error("shutdown hook panicked", logx.String("job", reg.Key), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()

	job, err := s.construct(reg)
	if err != nil {
		s.log.Warn("shutdown skipped: job construction failed", logx.String("job", reg.Key), logx.Err(err))
		return fmt.Errorf("%s: %w", reg.Key, err)
	}
	sd, ok := job.(task.Shutdowner)
	if !ok {
		return nil
	}
	msg, err := sd.Shutdown(ctx)
	if err != nil {
		s.log.Warn("shutdown hook failed", logx.String("job", reg.Key), logx.Err(err))
		return fmt.Errorf("%s: %w", reg.Key, err)
	}
	s.log.Debug("shutdown hook done", logx.String("job", reg.Key), logx.String("result", msg))
	return nil
}
