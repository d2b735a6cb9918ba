package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"jobsched/internal/storage"
	"jobsched/internal/task/engine"
	"jobsched/internal/task/scheduler"
	logx "jobsched/pkg/logx"
)

type response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any, errMsg string) {
	resp := response{
		Status:    "ok",
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     errMsg,
	}
	if errMsg != "" {
		resp.Status = "error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	respondJSON(w, r, http.StatusOK, data, "")
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	respondJSON(w, r, status, nil, msg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.sched.State()
	status := http.StatusOK
	if st != scheduler.Running {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, r, status, map[string]any{"state": st}, "")
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, s.sched.Jobs())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	info, ok := s.sched.Job(key)
	if !ok {
		respondError(w, r, http.StatusNotFound, "job not registered: "+key)
		return
	}
	respondOK(w, r, info)
}

type startResult struct {
	Key     string          `json:"key"`
	Outcome string          `json:"outcome"`
	Run     *engine.RunInfo `json:"run,omitempty"`
}

// outcomeStatus maps a quick-start outcome to an HTTP status.
func outcomeStatus(o scheduler.Outcome) int {
	switch o {
	case scheduler.Started:
		return http.StatusOK
	case scheduler.AlreadyRunning, scheduler.Restricted:
		return http.StatusConflict
	case scheduler.NotFound:
		return http.StatusNotFound
	case scheduler.Unavailable, scheduler.Cancelled:
		return http.StatusServiceUnavailable
	case scheduler.StartFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusAccepted
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		respondError(w, r, http.StatusTooManyRequests, "quick-start rate limit exceeded")
		s.recordAudit(r, "quick_start", key, "rate_limited", nil)
		return
	}

	// The request stays queued when the client stops waiting.
	t := s.sched.QuickStart(context.WithoutCancel(r.Context()), key)
	wctx, cancel := context.WithTimeout(r.Context(), s.cfg.QuickStartWait)
	defer cancel()
	o, _ := t.Wait(wctx)

	res := startResult{Key: key, Outcome: o.String()}
	var meta map[string]any
	if o == scheduler.Started {
		run := t.Run()
		res.Run = &run
		meta = map[string]any{"run_id": run.ID}
	}
	s.recordAudit(r, "quick_start", key, res.Outcome, meta)

	status := outcomeStatus(o)
	if status >= 400 {
		respondJSON(w, r, status, res, "quick-start "+res.Outcome)
		return
	}
	respondJSON(w, r, status, res, "")
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, ok := s.sched.Job(key); !ok {
		respondError(w, r, http.StatusNotFound, "job not registered: "+key)
		return
	}
	if !s.sched.Cancel(key) {
		s.recordAudit(r, "cancel", key, "not_running", nil)
		respondError(w, r, http.StatusConflict, "job not running: "+key)
		return
	}
	s.recordAudit(r, "cancel", key, "cancelled", nil)
	respondOK(w, r, map[string]any{"key": key, "cancelled": true})
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out := map[string]any{
		"scheduler": s.sched.Snapshot(),
		"go": map[string]any{
			"version":    runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
			"heap_alloc": ms.HeapAlloc,
			"num_gc":     ms.NumGC,
		},
	}
	if s.runtime != nil {
		out["supervisor"] = s.runtime()
	}
	respondOK(w, r, out)
}

func (s *Server) recordAudit(r *http.Request, action, target, outcome string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	e := storage.AuditEntry{
		Actor:   "admin",
		Remote:  r.RemoteAddr,
		Action:  action,
		Target:  target,
		Outcome: outcome,
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			e.MetaJSON = string(b)
		}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	if err := s.audit.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.String("target", target), logx.Err(err))
	}
}
