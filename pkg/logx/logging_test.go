package logx

import (
	"bytes"
	"strings"
	"testing"

	"jobsched/internal/eventbus"
)

func TestAlertSinkForwardsAboveMinLevel(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16, eventbus.LogAlert)
	defer unsub()

	var out bytes.Buffer
	svc, log := newService(Config{
		Level:   "debug",
		Console: true,
		JSON:    true,
		Alerts:  AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, bus, &out)
	defer svc.Close()

	log.Info("quiet", String("job", "a"))
	log.Warn("loud", String("job", "b"), Int("n", 2))

	if len(ch) != 1 {
		t.Fatalf("alerts = %d, want 1", len(ch))
	}
	e := <-ch
	a, ok := e.Data.(Alert)
	if !ok {
		t.Fatalf("alert payload %T", e.Data)
	}
	if a.Level != "warn" || a.Message != "loud" || a.Fields["job"] != "b" {
		t.Fatalf("alert = %+v", a)
	}
	if !strings.HasPrefix(a.Text, "[WARN] loud") {
		t.Fatalf("alert text = %q", a.Text)
	}
	if !strings.Contains(out.String(), `"message":"quiet"`) {
		t.Fatalf("console output missing info record: %s", out.String())
	}
}

func TestAlertSinkRateLimited(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64, eventbus.LogAlert)
	defer unsub()

	var out bytes.Buffer
	svc, log := newService(Config{
		Level:   "info",
		Console: true,
		JSON:    true,
		Alerts:  AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 1},
	}, bus, &out)
	defer svc.Close()

	for i := 0; i < 20; i++ {
		log.Error("boom")
	}
	sent, dropped := svc.AlertStats()
	if sent+dropped != 20 || sent < 1 || sent > 2 {
		t.Fatalf("sent=%d dropped=%d", sent, dropped)
	}
	if uint64(len(ch)) != sent {
		t.Fatalf("bus received %d, sent %d", len(ch), sent)
	}
}

func TestApplyChangesLevel(t *testing.T) {
	var out bytes.Buffer
	svc, log := newService(Config{Level: "warn", Console: true, JSON: true}, nil, &out)
	defer svc.Close()

	log.Info("hidden")
	if out.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", out.String())
	}
	svc.Apply(Config{Level: "debug", Console: true, JSON: true})
	log.With(String("comp", "test")).Debug("shown")
	if !strings.Contains(out.String(), `"comp":"test"`) {
		t.Fatalf("derived logger fields missing: %s", out.String())
	}
	if !log.Enabled(LevelDebug) {
		t.Fatal("debug should be enabled after Apply")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	l.Error("ignored", Err(nil))
	Nop().Warn("ignored")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace":   LevelTrace,
		" DEBUG ": LevelDebug,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
