package scheduler

import (
	"time"

	logx "jobsched/pkg/logx"
)

// warnThrottle bounds repeated warnings for the same job and failure kind.
const warnThrottle = 5 * time.Minute

// warnThrottled logs at warn level at most once per warnThrottle for a given
// (kind, key). Suppressed repeats go to debug so they stay visible when needed.
func (s *Service) warnThrottled(kind, key, msg string, fields ...logx.Field) {
	fields = append([]logx.Field{logx.String("job", key)}, fields...)

	now := s.clock.Now()
	id := kind + "\x00" + key
	s.warnMu.Lock()
	last, seen := s.lastWarn[id]
	if seen && now.Sub(last) < warnThrottle && !now.Before(last) {
		s.warnMu.Unlock()
		s.log.Debug(msg, fields...)
		return
	}
	s.lastWarn[id] = now
	s.warnMu.Unlock()

	s.log.Warn(msg, fields...)
}

// forgetWarnings drops throttle state for key, e.g. after it was re-registered.
func (s *Service) forgetWarnings(key string) {
	s.warnMu.Lock()
	for _, kind := range []string{"schedule", "restriction", "construct"} {
		delete(s.lastWarn, kind+"\x00"+key)
	}
	s.warnMu.Unlock()
}
