package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// alert dispatch service.
type Metrics struct {
	ReportsConsumed  prometheus.Counter
	ReportsMalformed prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Dispatch metrics.
	AlertsDispatched  *prometheus.CounterVec // label: outcome={sent,suppressed-duplicate,skipped-no-subscribers,sent-but-unlogged}
	TransportFailures prometheus.Counter
	DispatchDuration  prometheus.Histogram
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ReportsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disaster_alert",
			Name:      "reports_consumed_total",
			Help:      "Total reports read from the source topic.",
		}),
		ReportsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disaster_alert",
			Name:      "reports_malformed_total",
			Help:      "Total source messages that could not be parsed as reports.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "disaster_alert",
			Name:      "pipeline_running",
			Help:      "1 when the ingestion pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "disaster_alert",
			Name:      "batch_size",
			Help:      "Number of reports per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "disaster_alert",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete extract-group-dispatch cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		AlertsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disaster_alert",
			Name:      "alerts_dispatched_total",
			Help:      "Event group outcomes by disposition.",
		}, []string{"outcome"}),
		TransportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disaster_alert",
			Name:      "transport_failures_total",
			Help:      "Total failed per-recipient transport attempts.",
		}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "disaster_alert",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of one dispatch pass over a batch of event groups.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}

	prometheus.MustRegister(
		m.ReportsConsumed,
		m.ReportsMalformed,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.AlertsDispatched,
		m.TransportFailures,
		m.DispatchDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ReportsConsumed:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "disaster_alert", Name: "reports_consumed_total"}),
		ReportsMalformed:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "disaster_alert", Name: "reports_malformed_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "disaster_alert", Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "disaster_alert", Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "disaster_alert", Name: "batch_processing_duration_seconds"}),
		AlertsDispatched:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "disaster_alert", Name: "alerts_dispatched_total"}, []string{"outcome"}),
		TransportFailures:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "disaster_alert", Name: "transport_failures_total"}),
		DispatchDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "disaster_alert", Name: "dispatch_duration_seconds"}),
	}
}
