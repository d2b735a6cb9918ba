package scheduler

import (
	"strings"

	"jobsched/internal/task/registry"
	"jobsched/internal/task/restrict"
)

// Register adds or replaces a job. It reports whether the key was new.
func (s *Service) Register(reg registry.Registration) (bool, error) {
	added, err := s.reg.AddOrUpdate(reg)
	if err != nil {
		return false, err
	}
	s.forgetWarnings(strings.TrimSpace(reg.Key))
	return added, nil
}

// Unregister removes a job. A running execution of it is left to finish.
func (s *Service) Unregister(key string) bool {
	return s.reg.Remove(key)
}

func (s *Service) jobInfo(reg registry.Registration) JobInfo {
	return JobInfo{
		Key:         reg.Key,
		Schedule:    reg.Schedule.String(),
		Source:      reg.Source,
		Timeout:     reg.Timeout,
		Running:     s.eng.IsRunning(reg.Key),
		Last:        s.hist.Last(reg.Key),
		LastSuccess: s.hist.LastSuccess(reg.Key),
	}
}

// Job describes one registered job.
func (s *Service) Job(key string) (JobInfo, bool) {
	reg, ok := s.reg.Get(key)
	if !ok {
		return JobInfo{}, false
	}
	return s.jobInfo(reg), true
}

// Jobs describes every registered job in registration order.
func (s *Service) Jobs() []JobInfo {
	regs := s.reg.List()
	out := make([]JobInfo, 0, len(regs))
	for _, reg := range regs {
		out = append(out, s.jobInfo(reg))
	}
	return out
}

func (s *Service) Snapshot() Snapshot {
	rs := s.restrictionList()
	names := make([]string, 0, len(rs))
	for _, r := range rs {
		names = append(names, restrict.NameOf(r))
	}
	return Snapshot{
		State:        s.State(),
		LoopDelay:    s.loopDelay(),
		Cycles:       s.cycles.Load(),
		Pending:      s.pendingQuickStarts(),
		Restrictions: names,
		Jobs:         s.Jobs(),
		Running:      s.eng.RunningInfo(),
		Engine:       s.eng.Stats(),
	}
}
