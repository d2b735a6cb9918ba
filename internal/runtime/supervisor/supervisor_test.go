package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstErrorAndPanics(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("ok", func(ctx context.Context) error { return nil })
	s.Go("boom", func(ctx context.Context) error { panic("bad") })
	s.Go("waits", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Stop(ctx)
	if err == nil || !strings.Contains(err.Error(), "boom: panic: bad") {
		t.Fatalf("Stop err = %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != 3 || snap[0].Name != "boom" || snap[0].Panics != 1 || snap[0].Active {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap[2].Name != "waits" || snap[2].LastErr != "" {
		t.Fatalf("cancelled goroutine should stop cleanly: %+v", snap[2])
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(ctx context.Context) error { return errors.New("nope") })
	select {
	case <-s.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled after error")
	}
	if err := s.Wait(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestGoRestart(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, RestartPolicy{MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}

	s2 := New(context.Background())
	s2.GoRestart("hopeless", func(ctx context.Context) error { return errors.New("down") },
		RestartPolicy{MinBackoff: time.Millisecond, MaxRestarts: 2})
	if err := s2.Wait(ctx); err == nil || !strings.Contains(err.Error(), "hopeless: down") {
		t.Fatalf("Wait err = %v", err)
	}
	if st := s2.Snapshot(); len(st) != 1 || st[0].Starts != 3 {
		t.Fatalf("snapshot = %+v", st)
	}
}
