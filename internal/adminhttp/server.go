// Package adminhttp is the optional operator HTTP surface: health, job
// listing, quick-start, cancellation and a runtime snapshot.
package adminhttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"jobsched/internal/storage"
	"jobsched/internal/task/scheduler"
	logx "jobsched/pkg/logx"
)

// Config controls the admin server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - Binding to a non-loopback address requires Token.
type Config struct {
	Addr  string
	Token string

	// QuickStartRate limits POST /jobs/{key}/start per second. 0 disables the limit.
	QuickStartRate  float64
	QuickStartBurst int

	// QuickStartWait bounds how long a start request waits for its outcome
	// before answering 202 with the request still queued. Default 10s.
	QuickStartWait time.Duration

	// Pprof mounts net/http/pprof under /debug.
	Pprof bool
}

// Scheduler is what the admin surface needs from the scheduler service.
type Scheduler interface {
	State() scheduler.State
	Snapshot() scheduler.Snapshot
	Jobs() []scheduler.JobInfo
	Job(key string) (scheduler.JobInfo, bool)
	QuickStart(ctx context.Context, key string) *scheduler.Ticket
	Cancel(key string) bool
}

// AuditSink receives one entry per mutating request.
type AuditSink interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Server struct {
	cfg     Config
	sched   Scheduler
	log     logx.Logger
	audit   AuditSink
	runtime func() any
	limiter *rate.Limiter
	router  chi.Router
}

type Option func(*Server)

func WithLogger(l logx.Logger) Option { return func(s *Server) { s.log = l } }

// WithAudit records quick-starts and cancellations. A nil sink disables auditing.
func WithAudit(a AuditSink) Option { return func(s *Server) { s.audit = a } }

// WithRuntime adds fn's result to GET /runtime under "supervisor".
func WithRuntime(fn func() any) Option { return func(s *Server) { s.runtime = fn } }

func New(cfg Config, sched Scheduler, opts ...Option) *Server {
	if cfg.QuickStartWait <= 0 {
		cfg.QuickStartWait = 10 * time.Second
	}
	s := &Server{cfg: cfg, sched: sched, router: chi.NewRouter()}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if cfg.QuickStartRate > 0 {
		burst := cfg.QuickStartBurst
		if burst <= 0 {
			burst = max(1, int(cfg.QuickStartRate))
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.QuickStartRate), burst)
	}
	s.routes()
	return s
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	// Liveness stays reachable without a token.
	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.withAuth)
		r.Get("/runtime", s.handleRuntime)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Post("/start", s.handleStart)
				r.Post("/cancel", s.handleCancel)
			})
		})
		if s.cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("admin request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// withAuth accepts either "Authorization: Bearer <token>" or ?token=<token>.
func (s *Server) withAuth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w, r)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			next.ServeHTTP(w, r)
			return
		}
		unauthorized(w, r)
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	respondError(w, r, http.StatusUnauthorized, "unauthorized")
}

// Serve listens on cfg.Addr and serves until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8089"
	}
	if err := CheckBind(addr, s.cfg.Token); err != nil {
		s.log.Error("admin refused to start", logx.String("addr", addr), logx.Err(err))
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.serveListener(ctx, ln)
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()

	s.log.Info("admin started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err := srv.Serve(ln)
	if ctx.Err() != nil {
		s.log.Info("admin stopped")
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("admin server exited unexpectedly")
	}
	return err
}

// CheckBind rejects a non-loopback listen address without a token.
func CheckBind(addr, token string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" && !isLoopbackAddr(addr) {
		return errors.New("non-loopback addr requires a token")
	}
	return nil
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
