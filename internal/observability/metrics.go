package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/efebarandurmaz/codegraph/internal/facts"
)

const namespace = "codegraph"

// Skip kinds used as the "kind" label of FilesSkipped.
const (
	SkipRead   = "read"
	SkipDecode = "decode"
	SkipParse  = "parse"
)

// Metrics holds the run counters on a private registry so that several
// runners, or tests, never collide on the default registerer.
//
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	FilesProcessed prometheus.Counter
	FilesSkipped   *prometheus.CounterVec
	Facts          *prometheus.CounterVec
	GraphOps       *prometheus.CounterVec
	ParseDuration  prometheus.Histogram
	RunDuration    prometheus.Histogram
	LastRun        prometheus.Gauge
}

// NewMetrics registers the codegraph collectors on a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		FilesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Source files whose facts were extracted.",
		}),
		FilesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Source files skipped, by failure kind.",
		}, []string{"kind"}),
		Facts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_total",
			Help:      "Extracted facts, by category.",
		}, []string{"category"}),
		GraphOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_operations_total",
			Help:      "Graph operations attempted, by result.",
		}, []string{"result"}),
		ParseDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_extract_duration_seconds",
			Help:      "Time to read and extract one file.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		LastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time at which the last run finished.",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFile records one successfully extracted file.
func (m *Metrics) RecordFile(d time.Duration, c facts.Counts) {
	if m == nil {
		return
	}
	m.FilesProcessed.Inc()
	m.ParseDuration.Observe(d.Seconds())
	m.Facts.WithLabelValues("function").Add(float64(c.Functions))
	m.Facts.WithLabelValues("class").Add(float64(c.Classes))
	m.Facts.WithLabelValues("import").Add(float64(c.Imports))
	m.Facts.WithLabelValues("variable").Add(float64(c.Variables))
}

// RecordSkip records a skipped file.
func (m *Metrics) RecordSkip(kind string) {
	if m == nil {
		return
	}
	m.FilesSkipped.WithLabelValues(kind).Inc()
}

// RecordGraphOp records the result of one graph operation.
func (m *Metrics) RecordGraphOp(err error) {
	if m == nil {
		return
	}
	result := "applied"
	if err != nil {
		result = "failed"
	}
	m.GraphOps.WithLabelValues(result).Inc()
}

// RecordRun records the end of a run.
func (m *Metrics) RecordRun(d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
	m.LastRun.SetToCurrentTime()
}

// WriteTextfile writes the registry to path for the node_exporter
// textfile collector. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
