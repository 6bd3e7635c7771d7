package httpapi

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the gauges and counters exposed on /metrics. Gauges are
// refreshed from the store on a ticker rather than per-request, so a
// scrape never pays for a store round trip.
//
// Each Metrics owns a private prometheus.Registry rather than registering
// against the global default registerer: NewMetrics is called once per
// Server, and a second call against the default registerer panics on
// duplicate collector names (the same hazard nexus's own metrics_test.go
// warns about and avoids by never calling NewMetrics more than once).
type Metrics struct {
	registry *prometheus.Registry

	QueueDepth   prometheus.Gauge
	RunningTasks prometheus.Gauge

	// TasksTotal counts completed task handler invocations by kind and
	// outcome (ok|error), incremented by the worker pool.
	TasksTotal *prometheus.CounterVec

	// TaskDuration measures handler wall time in seconds by kind.
	TaskDuration *prometheus.HistogramVec
}

// NewMetrics builds the engine's Prometheus collectors against a private
// registry, served by Server.Start on GET /metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engined_queue_depth",
			Help: "Current number of tasks queued (not yet running).",
		}),
		RunningTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engined_running_tasks",
			Help: "Current number of tasks running.",
		}),
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engined_tasks_total",
				Help: "Total number of tasks handled, by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engined_task_duration_seconds",
				Help:    "Task handler duration in seconds, by kind.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
	}
}

// RecordTask records a completed task's kind, outcome, and duration.
func (m *Metrics) RecordTask(kind, outcome string, durationSeconds float64) {
	m.TasksTotal.WithLabelValues(kind, outcome).Inc()
	m.TaskDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// runGaugeLoop ticks every interval, refreshing the queue/running gauges
// from the store until ctx is canceled.
func (s *Server) runGaugeLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.refreshGauges(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshGauges(ctx)
		}
	}
}

func (s *Server) refreshGauges(ctx context.Context) {
	if n, err := s.store.CountQueueDepth(ctx); err == nil {
		s.metrics.QueueDepth.Set(float64(n))
	}
	if n, err := s.store.CountRunning(ctx); err == nil {
		s.metrics.RunningTasks.Set(float64(n))
	}
}
