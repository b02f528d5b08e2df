package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "place_lookup"

// Lookup outcomes recorded on LookupRequests.
const (
	OutcomeSuccess  = "success"
	OutcomeEmpty    = "empty"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeStale    = "stale"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the lookup service.
type Metrics struct {
	// Coordinator metrics.
	LookupRequests  *prometheus.CounterVec // labels: outcome={success,empty,not_found,error,stale}
	LookupCache     *prometheus.CounterVec // labels: result={hit,miss}
	ShortQueries    prometheus.Counter
	Superseded      prometheus.Counter
	BackendDuration prometheus.Histogram

	// Mapbox client metrics.
	MapboxRequests *prometheus.CounterVec // labels: status={200,404,...,error}

	// Pipeline metrics.
	UpdatesConsumed prometheus.Counter
	ResultsProduced prometheus.Counter
	DispatchErrors  prometheus.Counter
	ActiveSessions  prometheus.Gauge
	SessionsExpired prometheus.Counter
	PipelineRunning prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		LookupRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_requests_total",
			Help:      "Completed backend lookups by outcome.",
		}, []string{"outcome"}),
		LookupCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_cache_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"}),
		ShortQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_short_queries_total",
			Help:      "Queries answered with no results for being shorter than the minimum length.",
		}),
		Superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_superseded_total",
			Help:      "Pending or in-flight lookups torn down by a newer query or a cancel.",
		}),
		BackendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_backend_duration_seconds",
			Help:      "Backend lookup duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		MapboxRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapbox_requests_total",
			Help:      "Mapbox geocoding API requests by HTTP status.",
		}, []string{"status"}),
		UpdatesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_consumed_total",
			Help:      "Total query updates read from the source topic.",
		}),
		ResultsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_produced_total",
			Help:      "Total lookup results written to the sink topic.",
		}),
		DispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Query updates that could not be parsed or dispatched.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions with a live lookup coordinator.",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions dropped after going idle.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.LookupRequests,
		m.LookupCache,
		m.ShortQueries,
		m.Superseded,
		m.BackendDuration,
		m.MapboxRequests,
		m.UpdatesConsumed,
		m.ResultsProduced,
		m.DispatchErrors,
		m.ActiveSessions,
		m.SessionsExpired,
		m.PipelineRunning,
	}
}
