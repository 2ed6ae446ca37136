package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the migration engine. A nil
// *Metrics, or one built with Enabled=false, records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal         *prometheus.CounterVec
	resourcesTotal    *prometheus.CounterVec
	childrenTotal     *prometheus.CounterVec
	sourceErrorsTotal *prometheus.CounterVec
	pageRetriesTotal  *prometheus.CounterVec
	laneDuration      *prometheus.HistogramVec
	transferDuration  *prometheus.HistogramVec
	activeLanes       prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{}
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "dify_migration"
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_total",
			Help:      "Migration runs by result",
		}, []string{"result"}),
		resourcesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "resources_total",
			Help:      "Top-level resources processed by lane and outcome status",
		}, []string{"kind", "status"}),
		childrenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "children_total",
			Help:      "Documents and DSL bodies transferred by lane and result",
		}, []string{"kind", "result"}),
		sourceErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "source_errors_total",
			Help:      "Sources whose inventory could not be read",
		}, []string{"kind", "source"}),
		pageRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "page_retries_total",
			Help:      "Page fetches retried after a transient error",
		}, []string{"kind"}),
		laneDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "lane_duration_seconds",
			Help:      "Duration of a lane from inventory to done",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"kind", "status"}),
		transferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "transfer_duration_seconds",
			Help:      "Duration of one resource transfer",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		activeLanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_lanes",
			Help:      "Lanes currently running",
		}),
	}
	registry.MustRegister(
		m.runsTotal,
		m.resourcesTotal,
		m.childrenTotal,
		m.sourceErrorsTotal,
		m.pageRetriesTotal,
		m.laneDuration,
		m.transferDuration,
		m.activeLanes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) enabled() bool { return m != nil && m.registry != nil }

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(result string) {
	if m.enabled() {
		m.runsTotal.WithLabelValues(result).Inc()
	}
}

// RecordOutcome counts one top-level resource and its children.
func (m *Metrics) RecordOutcome(kind, status string, succeeded, failed, skipped int, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.resourcesTotal.WithLabelValues(kind, status).Inc()
	m.childrenTotal.WithLabelValues(kind, "succeeded").Add(float64(succeeded))
	m.childrenTotal.WithLabelValues(kind, "failed").Add(float64(failed))
	m.childrenTotal.WithLabelValues(kind, "skipped").Add(float64(skipped))
	m.transferDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordSourceError counts a source that could not be inventoried.
func (m *Metrics) RecordSourceError(kind, source string) {
	if m.enabled() {
		m.sourceErrorsTotal.WithLabelValues(kind, source).Inc()
	}
}

// RecordPageRetry counts one retried page fetch.
func (m *Metrics) RecordPageRetry(kind string) {
	if m.enabled() {
		m.pageRetriesTotal.WithLabelValues(kind).Inc()
	}
}

// LaneStarted marks a lane as running and returns the func that ends it.
func (m *Metrics) LaneStarted(kind string) func(status string) {
	if !m.enabled() {
		return func(string) {}
	}
	start := time.Now()
	m.activeLanes.Inc()
	return func(status string) {
		m.activeLanes.Dec()
		m.laneDuration.WithLabelValues(kind, status).Observe(time.Since(start).Seconds())
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
