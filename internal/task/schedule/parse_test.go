package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every", raw: "every:01:00", kind: SpecInterval, source: "hhmm", duration: time.Hour},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "once", raw: "Once", kind: SpecOnce, source: "keyword"},
		{name: "never", raw: "never", kind: SpecNever, source: "keyword"},
		{name: "endless", raw: " endless ", kind: SpecEndless, source: "keyword"},
		{name: "slot", raw: "slot:2024-06-01T12:00:00Z/15m", kind: SpecSlot, source: "slot", duration: 15 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if tt.kind == SpecSlot && got.Slot != tt.duration {
				t.Fatalf("Slot = %v, want %v", got.Slot, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0s", "interval:", "slot:yesterday", "slot:2024-06-01T12:00:00Z/-1m", "61 * * * *", "00:75"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		opt  BuildOptions
		want string
	}{
		{raw: "once", want: "once"},
		{raw: "once", opt: BuildOptions{RetryDelay: time.Minute}, want: "once(retry 1m0s)"},
		{raw: "never", want: "never"},
		{raw: "endless", want: "endless"},
		{raw: "5m", want: "interval(5m0s)"},
		{raw: "5m", opt: BuildOptions{RetryDelay: 10 * time.Second}, want: "interval(5m0s, retry 10s)"},
		{raw: "@daily", want: "cron(@daily)"},
		{raw: "slot:2024-06-01T12:00:00Z", want: "slot(2024-06-01T12:00:00Z/10m0s)"},
	}
	for _, tt := range tests {
		s, err := Parse(tt.raw, tt.opt)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.raw, err)
		}
		if got := Describe(s); got != tt.want {
			t.Fatalf("Describe(Parse(%q)) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestProvider(t *testing.T) {
	t.Parallel()
	fixed := Fixed(Endless{Weight: 2})
	s, err := fixed.Schedule(nil)
	if err != nil || s == nil {
		t.Fatalf("Fixed.Schedule = %v, %v", s, err)
	}

	calls := 0
	r := ResolverFunc(func(name string) (Schedule, error) {
		calls++
		if name == "nightly" {
			return Once{}, nil
		}
		return nil, nil
	})
	p := Resolved(" nightly ")
	if p.Name() != "nightly" || p.Kind() != ProviderResolved || !p.Valid() {
		t.Fatalf("Resolved provider = %+v", p)
	}
	for i := 0; i < 3; i++ {
		if _, err := p.Schedule(r); err != nil {
			t.Fatalf("Resolved.Schedule: %v", err)
		}
	}
	if calls != 3 {
		t.Fatalf("resolver calls = %d, want 3", calls)
	}
	if _, err := Resolved("missing").Schedule(r); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("err = %v, want ErrUnresolved", err)
	}
	if _, err := (Provider{}).Schedule(r); err == nil {
		t.Fatal("zero Provider should fail")
	}
	if (Provider{}).Valid() || Fixed(nil).Valid() || Resolved("").Valid() {
		t.Fatal("invalid providers reported valid")
	}
}
