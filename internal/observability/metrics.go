package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seismic_feed"

// Metrics holds the Prometheus counters, histograms, and gauges for feed ingestion.
type Metrics struct {
	// Feed download metrics.
	FetchRequests *prometheus.CounterVec // labels: outcome={success,network,bad_status}
	FetchDuration prometheus.Histogram

	// Parsing metrics.
	EntriesParsed  prometheus.Counter
	EntriesDropped prometheus.Counter

	// Store metrics.
	QuakesIngested prometheus.Counter
	QuakesSkipped  prometheus.Counter
	RecordErrors   prometheus.Counter

	// Run metrics.
	Runs            *prometheus.CounterVec // labels: outcome={success,failed,skipped}
	RunDuration     prometheus.Histogram
	PipelineRunning prometheus.Gauge

	NotificationsDropped prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Feed downloads by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Feed download duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		EntriesParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_parsed_total",
			Help:      "Feed entries converted into quakes.",
		}),
		EntriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_dropped_total",
			Help:      "Feed entries dropped because a required field did not parse.",
		}),
		QuakesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quakes_ingested_total",
			Help:      "Quakes newly written to the store.",
		}),
		QuakesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quakes_skipped_total",
			Help:      "Quakes skipped because they were already stored.",
		}),
		RecordErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_errors_total",
			Help:      "Non-fatal per-entry failures.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-parse-store cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while an ingestion run is in flight.",
		}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Events lost because a subscriber's buffer was full.",
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchRequests,
		m.FetchDuration,
		m.EntriesParsed,
		m.EntriesDropped,
		m.QuakesIngested,
		m.QuakesSkipped,
		m.RecordErrors,
		m.Runs,
		m.RunDuration,
		m.PipelineRunning,
		m.NotificationsDropped,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
