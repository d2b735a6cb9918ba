package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"jobsched/internal/task"
	"jobsched/internal/task/schedule"
)

func noop() task.Factory {
	return task.Instance(task.ErrFunc(func(context.Context) error { return nil }))
}

func reg(key string, s schedule.Schedule) Registration {
	return Registration{Key: key, Job: noop(), Schedule: schedule.Fixed(s)}
}

func TestAddUpdateRemove(t *testing.T) {
	t.Parallel()
	r := New()
	if err := r.Add(reg("a", schedule.Once{})); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(reg("a", schedule.Never{})); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Add duplicate err = %v, want ErrAlreadyExists", err)
	}
	if err := r.Update(reg("b", schedule.Never{})); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update missing err = %v, want ErrNotFound", err)
	}
	if err := r.Update(reg("a", schedule.Never{})); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, ok := r.Get("a")
	if !ok || got.Schedule.String() != "never" {
		t.Fatalf("Get(a) = %+v, %v; want never schedule", got, ok)
	}

	added, err := r.AddOrUpdate(reg("b", schedule.Endless{}))
	if err != nil || !added {
		t.Fatalf("AddOrUpdate(new) = %v, %v", added, err)
	}
	added, err = r.AddOrUpdate(reg("b", schedule.Once{}))
	if err != nil || added {
		t.Fatalf("AddOrUpdate(existing) = %v, %v", added, err)
	}

	if !r.Remove("a") {
		t.Fatal("Remove(a) = false, want true")
	}
	if r.Remove("a") {
		t.Fatal("second Remove(a) = true, want false")
	}
	if r.Has("a") || r.Len() != 1 {
		t.Fatalf("after remove: Has(a)=%v Len=%d", r.Has("a"), r.Len())
	}
}

func TestInsertionOrderIsStable(t *testing.T) {
	t.Parallel()
	r := New()
	for _, k := range []string{"c", "a", "b"} {
		if err := r.Add(reg(k, schedule.Once{})); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Update(reg("a", schedule.Never{})); err != nil {
		t.Fatal(err)
	}
	if want := []string{"c", "a", "b"}; !reflect.DeepEqual(r.Keys(), want) {
		t.Fatalf("Keys() = %v, want %v", r.Keys(), want)
	}
	r.Remove("a")
	_, _ = r.AddOrUpdate(reg("a", schedule.Once{}))
	if want := []string{"c", "b", "a"}; !reflect.DeepEqual(r.Keys(), want) {
		t.Fatalf("Keys() = %v, want %v", r.Keys(), want)
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	r := New()
	bad := []Registration{
		{Key: " ", Job: noop(), Schedule: schedule.Fixed(schedule.Once{})},
		{Key: "k", Schedule: schedule.Fixed(schedule.Once{})},
		{Key: "k", Job: noop()},
		{Key: "k", Job: noop(), Schedule: schedule.Fixed(schedule.Once{}), Timeout: -time.Second},
	}
	for i, b := range bad {
		if err := r.Add(b); !errors.Is(err, ErrInvalid) {
			t.Fatalf("case %d: err = %v, want ErrInvalid", i, err)
		}
	}
}

// Concurrent updates must never expose a job from one registration paired
// with the schedule of another.
func TestUpdatesAreAtomic(t *testing.T) {
	t.Parallel()
	r := New()
	type tagged struct {
		task.Job
		tag int
	}
	mk := func(tag int) Registration {
		job := tagged{Job: task.ErrFunc(func(context.Context) error { return nil }), tag: tag}
		return Registration{
			Key:      "k",
			Job:      func() (task.Job, error) { return job, nil },
			Schedule: schedule.Fixed(schedule.Endless{Weight: tag}),
		}
	}
	_, _ = r.AddOrUpdate(mk(1))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_, _ = r.AddOrUpdate(mk(i%50 + 1))
		}
	}()
	for i := 0; i < 2000; i++ {
		for _, g := range r.List() {
			j, _ := g.Job()
			s, _ := g.Schedule.Schedule(nil)
			if w := s.Priority("k", nil, nil, time.Time{}); w != j.(tagged).tag {
				t.Fatalf("torn registration: job tag %d, schedule weight %d", j.(tagged).tag, w)
			}
		}
	}
	close(stop)
	wg.Wait()
}

func TestComponents(t *testing.T) {
	t.Parallel()
	c := NewComponents()
	built := 0
	c.RegisterJobType("Echo", func(p Params) (task.Job, error) {
		built++
		msg := p.String("msg", "hi")
		return task.Func(func(context.Context) (any, error) { return msg, nil }), nil
	})
	if got := c.JobTypes(); !reflect.DeepEqual(got, []string{"echo"}) {
		t.Fatalf("JobTypes() = %v", got)
	}

	f, err := c.JobFactory("echo", Params{"msg": "hello"})
	if err != nil {
		t.Fatalf("JobFactory: %v", err)
	}
	for i := 0; i < 2; i++ {
		j, err := f()
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		v, _ := j.Run(context.Background())
		if v != "hello" {
			t.Fatalf("Run() = %v, want hello", v)
		}
	}
	if built != 2 {
		t.Fatalf("job type built %d times, want 2", built)
	}
	if _, err := c.JobFactory("missing", nil); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}

	c.SetSchedule("nightly", schedule.Once{Weight: 3})
	p := schedule.Resolved("Nightly")
	s, err := p.Schedule(c)
	if err != nil || s.Priority("k", nil, nil, time.Time{}) != 3 {
		t.Fatalf("resolve nightly = %v, %v", s, err)
	}
	c.SetSchedule("nightly", schedule.Once{Weight: 9})
	s, _ = p.Schedule(c)
	if got := s.Priority("k", nil, nil, time.Time{}); got != 9 {
		t.Fatalf("rebound schedule priority = %d, want 9", got)
	}
	if !c.RemoveSchedule("nightly") || c.RemoveSchedule("nightly") {
		t.Fatal("RemoveSchedule should report true then false")
	}
	if _, err := p.Schedule(c); !errors.Is(err, schedule.ErrUnresolved) {
		t.Fatalf("err = %v, want ErrUnresolved", err)
	}
}

func TestParams(t *testing.T) {
	t.Parallel()
	p := Params{"d": "2s", "n": "7", "bad": "x"}
	if d, err := p.Duration("d", 0); err != nil || d != 2*time.Second {
		t.Fatalf("Duration = %v, %v", d, err)
	}
	if d, err := p.Duration("missing", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("Duration default = %v, %v", d, err)
	}
	if n, err := p.Int("n", 0); err != nil || n != 7 {
		t.Fatalf("Int = %v, %v", n, err)
	}
	if _, err := p.Int("bad", 0); err == nil {
		t.Fatal("expected Int error")
	}
	if _, err := p.Duration("bad", 0); err == nil {
		t.Fatal("expected Duration error")
	}
	if got := fmt.Sprint(p.String("missing", "def")); got != "def" {
		t.Fatalf("String default = %q", got)
	}
}
