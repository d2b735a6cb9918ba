// Package builtin provides small job types that can be registered from
// configuration without writing Go code. They are meant for demos, smoke
// tests and keep-alive probes.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"jobsched/internal/task"
	"jobsched/internal/task/registry"
	logx "jobsched/pkg/logx"
)

// Register adds every built-in type to c.
func Register(c *registry.Components, log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	c.RegisterJobType("noop", func(registry.Params) (task.Job, error) {
		return task.Func(func(context.Context) (any, error) { return "ok", nil }), nil
	})
	c.RegisterJobType("log", func(p registry.Params) (task.Job, error) {
		return &Log{Message: p.String("message", "tick"), log: log}, nil
	})
	c.RegisterJobType("sleep", func(p registry.Params) (task.Job, error) {
		d, err := p.Duration("duration", time.Second)
		if err != nil {
			return nil, err
		}
		return &Sleep{Duration: d, log: log}, nil
	})
	c.RegisterJobType("fail", func(p registry.Params) (task.Job, error) {
		return Fail{Message: p.String("message", "failure requested")}, nil
	})
	c.RegisterJobType("loop", func(p registry.Params) (task.Job, error) {
		tick, err := p.Duration("tick", 10*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return &Loop{Tick: tick, log: log}, nil
	})
	c.RegisterJobType("http", func(p registry.Params) (task.Job, error) {
		expect, err := p.Int("expect_status", 0)
		if err != nil {
			return nil, err
		}
		return &HTTPProbe{URL: p.String("url", ""), Method: p.String("method", http.MethodGet), ExpectStatus: expect}, nil
	})
}

// Log writes Message to the log and returns it.
type Log struct {
	Message string
	log     logx.Logger
}

func (j *Log) Run(context.Context) (any, error) {
	j.log.Info("builtin log job", logx.String("message", j.Message))
	return j.Message, nil
}

// Sleep waits for Duration or until cancelled.
type Sleep struct {
	Duration time.Duration
	log      logx.Logger
}

func (j *Sleep) Prepare(context.Context) error {
	if j.Duration <= 0 {
		return fmt.Errorf("sleep: duration must be > 0, got %s", j.Duration)
	}
	return nil
}

func (j *Sleep) Run(ctx context.Context) (any, error) {
	t := time.NewTimer(j.Duration)
	defer t.Stop()
	select {
	case <-t.C:
		return fmt.Sprintf("slept %s", j.Duration), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Sleep) Shutdown(context.Context) (string, error) {
	j.log.Debug("builtin sleep job shut down")
	return "sleep: nothing to release", nil
}

// Fail always returns an error.
type Fail struct {
	Message string
}

func (j Fail) Run(context.Context) (any, error) {
	return nil, errors.New(j.Message)
}

// Loop spins until cancelled and reports how many ticks it saw.
type Loop struct {
	Tick time.Duration
	log  logx.Logger
}

func (j *Loop) Run(ctx context.Context) (any, error) {
	tick := j.Tick
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	var n int64
	for {
		select {
		case <-ctx.Done():
			j.log.Info("builtin loop job stopping", logx.Int64("ticks", n))
			return n, ctx.Err()
		case <-t.C:
			n++
		}
	}
}

func (j *Loop) Shutdown(context.Context) (string, error) { return "loop: stopped", nil }

// HTTPProbe issues one request and fails on transport errors or on an
// unexpected status. ExpectStatus 0 accepts any 2xx.
type HTTPProbe struct {
	URL          string
	Method       string
	ExpectStatus int
	Client       *http.Client
}

func (j *HTTPProbe) Prepare(context.Context) error {
	if strings.TrimSpace(j.URL) == "" {
		return errors.New("http: url required")
	}
	return nil
}

func (j *HTTPProbe) Run(ctx context.Context) (any, error) {
	req, err := http.NewRequestWithContext(ctx, j.Method, j.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("http: build request: %w", err)
	}
	c := j.Client
	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if j.ExpectStatus != 0 {
		ok = resp.StatusCode == j.ExpectStatus
	}
	if !ok {
		return resp.StatusCode, fmt.Errorf("http: unexpected status %d from %s", resp.StatusCode, j.URL)
	}
	return resp.StatusCode, nil
}
