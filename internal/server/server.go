package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"imgrelay/internal/metrics"
	"imgrelay/pkg/archive"
	"imgrelay/pkg/config"
	"imgrelay/pkg/fetch"
	"imgrelay/pkg/logger"
	"imgrelay/pkg/responder"
)

// Server is the HTTP front door for single-image and archive requests
type Server struct {
	cfg       *config.Config
	responder *responder.Responder
	assembler *archive.Assembler
	metrics   *metrics.Metrics
	logger    logger.Logger
	router    chi.Router
	now       func() time.Time
}

// Option configures a Server
type Option func(*Server)

// WithMetrics enables metric recording and the /metrics endpoint
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock overrides the clock used for archive file names
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New wires a responder and an assembler sharing one fetch strategy built
// from cfg.
func New(cfg *config.Config, log logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.GetLogger()
	}

	s := &Server{
		cfg:    cfg,
		logger: log.WithField("component", "server"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	fetchOpts := []fetch.Option{fetch.WithLogger(log)}
	archiveOpts := []archive.Option{archive.WithLogger(log)}
	if s.metrics != nil {
		fetchOpts = append(fetchOpts, fetch.WithObserver(s.metrics.ObserveTry))
		archiveOpts = append(archiveOpts, archive.WithRecorder(s.metrics))
	}

	strategy := fetch.New(fetch.PolicyFromConfig(cfg), fetchOpts...)
	s.responder = responder.New(strategy, cfg.Fetch.FailureMode, log)
	s.assembler = archive.New(strategy, archiveOpts...)
	s.router = s.routes()

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil && s.cfg.Server.EnableMetrics {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(cors)
		r.Use(s.deadline)

		r.Get("/image", s.handleImage)
		r.Head("/image", s.handleImage)
		r.Options("/image", handlePreflight)
		r.Post("/zip", s.handleZip)
		r.Options("/zip", handlePreflight)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if s.cfg.Server.MaxDuration > 0 {
		srv.WriteTimeout = s.cfg.Server.MaxDuration + 10*time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		logger.LogComponentStart("server", map[string]interface{}{
			"addr":         ln.Addr().String(),
			"failure_mode": s.responder.Mode(),
			"metrics":      s.metrics != nil && s.cfg.Server.EnableMetrics,
		})
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.LogComponentStop("server", "context cancelled")
	return nil
}
