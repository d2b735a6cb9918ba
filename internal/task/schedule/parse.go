package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SpecKind is the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
	SpecOnce
	SpecNever
	SpecEndless
	SpecSlot
)

func (k SpecKind) String() string {
	switch k {
	case SpecCron:
		return "cron"
	case SpecInterval:
		return "interval"
	case SpecOnce:
		return "once"
	case SpecNever:
		return "never"
	case SpecEndless:
		return "endless"
	case SpecSlot:
		return "slot"
	default:
		return "unknown"
	}
}

// ParsedSpec is a parsed schedule string.
//
// Supported forms:
//   - Keywords: "once", "never", "endless"
//   - Cron: "*/5 * * * *", "@hourly", "cron:0 3 * * *"
//   - Interval: "55m", "2h30m", "00:50" (HH:MM), "interval:45s", "every:10m"
//   - Time slot: "slot:2024-05-01T03:00:00Z" or "slot:2024-05-01T03:00:00Z/15m"
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Start  time.Time
	Slot   time.Duration
	Source string // "keyword" | "cron" | "duration" | "hhmm" | "slot"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses a schedule string from configuration.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)

	switch low {
	case "once":
		return ParsedSpec{Kind: SpecOnce, Source: "keyword"}, nil
	case "never":
		return ParsedSpec{Kind: SpecNever, Source: "keyword"}, nil
	case "endless", "always":
		return ParsedSpec{Kind: SpecEndless, Source: "keyword"}, nil
	}

	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		if err := ValidateCron(expr); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	}
	for _, prefix := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, prefix) {
			d, src, err := parseInterval(s[len(prefix):])
			if err != nil {
				return ParsedSpec{}, err
			}
			return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
		}
	}
	if strings.HasPrefix(low, "slot:") {
		return parseSlot(strings.TrimSpace(s[len("slot:"):]))
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		if err := ValidateCron(s); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", s, err)
		}
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}

	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use once/never/endless, cron like '*/5 * * * *', HH:MM like '02:30', duration like '55m', or slot:<RFC3339>[/<duration>])",
		raw,
	)
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		return d, "hhmm", err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func parseSlot(v string) (ParsedSpec, error) {
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("slot start required after 'slot:'")
	}
	startRaw, slotRaw, hasSlot := strings.Cut(v, "/")
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(startRaw))
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid slot start %q: %w", startRaw, err)
	}
	ps := ParsedSpec{Kind: SpecSlot, Start: start, Slot: DefaultSlot, Source: "slot"}
	if hasSlot {
		d, err := time.ParseDuration(strings.TrimSpace(slotRaw))
		if err != nil || d <= 0 {
			return ParsedSpec{}, fmt.Errorf("invalid slot duration %q", slotRaw)
		}
		ps.Slot = d
	}
	return ps, nil
}

// BuildOptions carries the knobs that do not fit in the schedule string.
type BuildOptions struct {
	Weight     int
	RetryDelay time.Duration // > 0 selects the retry-delay variant of once/interval
	Since      time.Time     // cron anchor for jobs that never ran
	Loc        *time.Location
}

// Build turns a parsed spec into a Schedule.
func Build(ps ParsedSpec, opt BuildOptions) (Schedule, error) {
	switch ps.Kind {
	case SpecOnce:
		if opt.RetryDelay > 0 {
			return OnceWithRetryDelay{RetryDelay: opt.RetryDelay, Weight: opt.Weight}, nil
		}
		return Once{Weight: opt.Weight}, nil
	case SpecNever:
		return Never{}, nil
	case SpecEndless:
		return Endless{Weight: opt.Weight}, nil
	case SpecInterval:
		if ps.Every <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		if opt.RetryDelay > 0 {
			return NewIntervalWithRetryDelay(ps.Every, opt.RetryDelay, opt.Weight), nil
		}
		return NewInterval(ps.Every, opt.Weight), nil
	case SpecSlot:
		return TimeSlot{Start: ps.Start, Slot: ps.Slot, Weight: opt.Weight}, nil
	case SpecCron:
		return NewCron(ps.Cron, opt.Weight, opt.Since, opt.Loc)
	default:
		return nil, fmt.Errorf("unsupported schedule kind %v", ps.Kind)
	}
}

// Parse is ParseSchedule followed by Build.
func Parse(raw string, opt BuildOptions) (Schedule, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	return Build(ps, opt)
}
