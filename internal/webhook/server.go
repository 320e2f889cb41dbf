// Package webhook receives push notifications (Sonarr, Radarr, Watchtower)
// and hands them to the pipeline.
//
// A request is parsed synchronously so the sender learns about malformed
// payloads, then processed in the background: the handler answers 202 before
// the notification is delivered.
package webhook

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"serverbot/internal/pipeline"
	"serverbot/internal/runtime/supervisor"
	"serverbot/internal/sources/arr"
	logx "serverbot/pkg/logx"
)

type Config struct {
	Addr           string
	MaxBodyBytes   int64
	ProcessTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 2 * time.Minute
	}
	return c
}

// Processor is the pipeline entry point for pushed events.
type Processor interface {
	Process(ctx context.Context, t pipeline.SourceType, events []pipeline.Event) (pipeline.Result, error)
}

// Parser turns one request body into an event.
type Parser func(raw []byte, receivedAt time.Time) (pipeline.Event, error)

type Server struct {
	cfg  Config
	log  logx.Logger
	proc Processor
	sup  *supervisor.Supervisor
	now  func() time.Time

	parsers  map[string]route
	metrics  http.Handler
	profiler bool
}

type route struct {
	source pipeline.SourceType
	parse  Parser
}

func New(cfg Config, proc Processor, sup *supervisor.Supervisor, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:     cfg.withDefaults(),
		log:     log.Component("webhook"),
		proc:    proc,
		sup:     sup,
		now:     time.Now,
		parsers: map[string]route{},
	}
}

// Handle serves POST /webhook/{name} for source t. Call before Handler.
func (s *Server) Handle(name string, t pipeline.SourceType, p Parser) {
	s.parsers[name] = route{source: t, parse: p}
}

// SetSupervisor sets the supervisor that runs background processing. Call
// before serving.
func (s *Server) SetSupervisor(sup *supervisor.Supervisor) { s.sup = sup }

// MountMetrics serves h on GET /metrics. Call before Handler.
func (s *Server) MountMetrics(h http.Handler) { s.metrics = h }

// MountProfiler serves net/http/pprof under /debug. Call before Handler.
func (s *Server) MountProfiler() { s.profiler = true }

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	r.Post("/webhook/{source}", s.receive)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if s.profiler {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Server) receive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "source")
	rt, ok := s.parsers[name]
	if !ok {
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}
	log := s.log.With(logx.String("source", string(rt.source)), logx.String("req_id", middleware.GetReqID(r.Context())))

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	ev, err := rt.parse(raw, s.now())
	switch {
	case errors.Is(err, arr.ErrTestEvent):
		log.Info("test event received")
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		log.Warn("payload rejected", logx.Err(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.sup.Go("webhook:"+name, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
		defer cancel()
		res, err := s.proc.Process(ctx, rt.source, []pipeline.Event{ev})
		if err != nil {
			log.Error("process failed", logx.String("event_id", ev.ID), logx.Err(err))
			return nil
		}
		log.Debug("processed",
			logx.String("event_id", ev.ID),
			logx.Int("enqueued", res.Enqueued),
			logx.Int("seen", res.Seen),
			logx.Int("delivered", res.Delivered))
		return nil
	})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.String("remote", r.RemoteAddr),
			logx.Duration("took", time.Since(start)))
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
