package eventbus

import (
	"testing"
	"time"
)

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	jobs, unsubJobs := b.Subscribe(4, JobStarted, JobFailed)
	defer unsubJobs()

	Publish(b, JobStarted, "a")
	Publish(b, LogAlert, "b")
	Publish(b, JobFailed, "c")

	if n := len(all); n != 3 {
		t.Fatalf("unfiltered subscriber got %d events, want 3", n)
	}
	if n := len(jobs); n != 2 {
		t.Fatalf("filtered subscriber got %d events, want 2", n)
	}
	e := <-jobs
	if e.Type != JobStarted || e.Data != "a" || e.Time.IsZero() {
		t.Fatalf("first event = %+v", e)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: JobStarted})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(ch) != 1 {
		t.Fatalf("buffered events = %d, want 1", len(ch))
	}
	st := b.(Stats)
	if st.Published() != 10 || st.Dropped() != 9 {
		t.Fatalf("published=%d dropped=%d, want 10/9", st.Published(), st.Dropped())
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: JobStarted})
	Publish(nil, JobStarted, nil)
}
