// Package httpserver exposes the evaluator over HTTP.
//
// Routes:
//
//	POST /evaluate  run code, respond with the sandbox result
//	GET  /healthz   container runtime reachability
//	GET  /metrics   Prometheus metrics
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/isdmx/safeeval/config"
	"github.com/isdmx/safeeval/evaluation"
	"github.com/isdmx/safeeval/metrics"
	"github.com/isdmx/safeeval/sandbox"
)

// readHeaderTimeout bounds how long a client may take to send request headers
const readHeaderTimeout = 10 * time.Second

// Server is the HTTP API server
type Server struct {
	config    *config.Config
	logger    *zap.Logger
	evaluator *evaluation.Evaluator
	runtime   sandbox.Runtime
	metrics   *metrics.Metrics
	router    chi.Router
	http      *http.Server
}

// New creates a new Server
func New(cfg *config.Config, logger *zap.Logger, evaluator *evaluation.Evaluator,
	runtime sandbox.Runtime, m *metrics.Metrics) *Server {
	s := &Server{
		config:    cfg,
		logger:    logger,
		evaluator: evaluator,
		runtime:   runtime,
		metrics:   m,
		router:    chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))

	r.Post("/evaluate", s.handleEvaluate)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the configured port and serves in the background
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.HTTPPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully stops the server, letting in-flight evaluations finish
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(ctx, s.config.GetShutdownTimeout())
	defer cancel()

	return s.http.Shutdown(ctx)
}
