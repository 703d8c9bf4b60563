// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

// Package adminapi serves the admin console HTTP API plus metrics and
// health probes.
package adminapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/qrtrace/qrtrace/internal/auth"
	"github.com/qrtrace/qrtrace/internal/logstore"
	"github.com/qrtrace/qrtrace/internal/retention"
	"github.com/qrtrace/qrtrace/internal/rls"
)

// ReadinessChecker returns whether the service is ready to accept requests.
type ReadinessChecker func() bool

// policyChecker reports row-level security posture for a set of tables.
type policyChecker interface {
	CheckRLSStatus(ctx context.Context, tables []string) ([]rls.TableStatus, error)
}

// logWriteFailures is a package-level counter for entries the recorder
// absorbed into the fallback logger. Package-level so the recorder can
// be wired before any server exists.
var logWriteFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "qrtrace_log_write_failures_total",
		Help: "Total number of log entries absorbed by the fallback logger",
	},
)

// LogWriteFailureCounter returns the counter the log recorder should be
// wired with.
func LogWriteFailureCounter() prometheus.Counter {
	return logWriteFailures
}

// Metrics contains custom Prometheus metrics for the admin API.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	LogWriteFailures prometheus.Counter
}

// NewMetrics creates and registers the qrtrace metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrtrace_requests_total",
				Help: "Total number of admin API requests by path and status",
			},
			[]string{"path", "status"},
		),
		LogWriteFailures: logWriteFailures,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.LogWriteFailures)

	return m
}

// Services are the domain dependencies the API serves.
type Services struct {
	Store           logstore.Store
	Recorder        *logstore.Recorder
	Stats           *logstore.StatsCollector
	Cleaner         *retention.Cleaner
	Policies        policyChecker
	Admins          auth.AllowList
	ProtectedTables []string
}

// Server provides the admin API endpoints plus metrics and health probes.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	services   Services
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates an admin API server.
// addr is the listen address in "host:port" format.
func NewServer(addr string, services Services, readinessChecker ReadinessChecker) *Server {
	// Own registry so tests can run many servers without collisions.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		services: services,
		isReady:  readinessChecker,
	}
}

// Metrics returns the custom metrics for recording application events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the full route tree. Exposed for handler tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	mux.Handle("GET /api/admin/logs", s.observed(s.requireActor(s.handleQueryLogs)))
	mux.Handle("GET /api/admin/logs/stats", s.observed(s.requireAdmin(s.handleStats)))
	mux.Handle("POST /api/admin/logs/cleanup", s.observed(s.requireAdmin(s.handleCleanup)))
	mux.Handle("GET /api/admin/rls/status", s.observed(s.requireAdmin(s.handleRLSStatus)))

	return mux
}

// Start begins serving. It returns an error channel that receives any
// error from the HTTP server after startup; the channel is closed on
// graceful stop. Callers should monitor it to detect server failures.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("admin API server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Local httpSrv avoids a race with a subsequent Start().
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("admin API server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("admin API server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Keep the running state so a retry can stop it again.
			s.running.Store(true)
			return oops.With("operation", "shutdown_admin_api").Wrap(err)
		}
	}

	slog.Info("admin API server stopped")
	return nil
}

// Addr returns the address the server is listening on, or "" when not
// running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 while the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 when the service is ready, 503 otherwise.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
