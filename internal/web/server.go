// Package web exposes the RLM pipeline over HTTP: the assemble and run
// endpoints, health, and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/rlmd/internal/observability"
	"github.com/haasonsaas/rlmd/internal/orchestrator"
)

// Server serves the HTTP API.
type Server struct {
	orch    *orchestrator.Orchestrator
	logger  *observability.Logger
	metrics *observability.Metrics

	httpServer *http.Server
}

// NewServer creates the HTTP surface over an orchestrator.
func NewServer(orch *orchestrator.Orchestrator, logger *observability.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Server{orch: orch, logger: logger, metrics: metrics}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/rlm/assemble", s.instrument("/v1/rlm/assemble", s.handleAssemble))
	mux.HandleFunc("/v1/rlm/run", s.instrument("/v1/rlm/run", s.handleRun))
	return mux
}

// Start begins serving on addr. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info(context.Background(), "starting http server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// instrument attaches request correlation and latency metrics to a handler.
// The route pattern, not the raw path, is used as the metric label.
func (s *Server) instrument(pattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ctx := observability.WithRequestID(r.Context(), uuid.NewString())

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r.WithContext(ctx))

		if s.metrics != nil {
			s.metrics.HTTPRequestDuration.
				WithLabelValues(r.Method, pattern, strconv.Itoa(recorder.status)).
				Observe(time.Since(started).Seconds())
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
