// Package metrics exposes Prometheus metrics for the build pipeline on a
// dedicated listen address.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the /metrics endpoint and holds the pipeline's
// instrument set.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server

	runsTotal        *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	publishOutcomes  *prometheus.CounterVec
	validationErrors prometheus.Counter
}

// New creates a metrics server with the pipeline instruments registered
// under the given namespace.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &MetricsServer{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"stage"}),
		publishOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_outcomes_total",
			Help:      "Publication attempts by outcome: published, noop, conflict.",
		}, []string{"outcome"}),
		validationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Rejected configuration submissions.",
		}),
	}
	registry.MustRegister(m.runsTotal, m.stageDuration, m.publishOutcomes, m.validationErrors)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	m.srv = &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return m, nil
}

// RecordRun counts a completed run by outcome ("success" or "failure").
func (m *MetricsServer) RecordRun(outcome string) {
	m.runsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records a stage's execution duration.
func (m *MetricsServer) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPublish counts a publication attempt by outcome.
func (m *MetricsServer) RecordPublish(outcome string) {
	m.publishOutcomes.WithLabelValues(outcome).Inc()
}

// RecordValidationError counts a rejected submission.
func (m *MetricsServer) RecordValidationError() {
	m.validationErrors.Inc()
}

// ListenAndServe starts the metrics HTTP server.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics HTTP server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
