package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgecore/engined/internal/config"
)

// Server hosts the engine's HTTP surface on a loopback listener.
type Server struct {
	cfg     *config.Config
	tasks   TaskSubmitter
	store   Store
	log     *slog.Logger
	start   time.Time
	version string
	metrics *Metrics

	httpServer   *http.Server
	listener     net.Listener
	cancelGauges context.CancelFunc
}

// New builds a Server. version is surfaced verbatim on /v1/health.
func New(cfg *config.Config, tasks TaskSubmitter, store Store, log *slog.Logger, version string) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, tasks: tasks, store: store, log: log.With("component", "httpapi"), start: time.Now(), version: version, metrics: NewMetrics()}
}

// Metrics returns the server's Prometheus collectors, so other
// subsystems (the worker pool) can record completed-task outcomes.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/tasks", s.handleSubmitTask)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /v1/tasks/cancel", s.handleCancelTasks)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/config", s.handleConfig)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", addr, err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server
	s.listener = listener

	gaugeCtx, cancelGauges := context.WithCancel(context.Background())
	s.cancelGauges = cancelGauges
	go s.runGaugeLoop(gaugeCtx, 5*time.Second)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()
	s.log.Info("http server listening", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancelGauges != nil {
		s.cancelGauges()
		s.cancelGauges = nil
	}
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	err := s.httpServer.Shutdown(shutdownCtx)
	s.httpServer = nil
	s.listener = nil
	return err
}
