// Package metrics defines the Prometheus collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	EventsConsumedTotal *prometheus.CounterVec
	EventProcessingTime prometheus.Histogram
	DocsIndexedTotal    prometheus.Counter
	DocsDeletedTotal    prometheus.Counter
	ConsumerState       prometheus.Gauge

	FetchRequestsTotal *prometheus.CounterVec
	EmbedLatency       prometheus.Histogram

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		EventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "book_events_consumed_total",
				Help: "Total book events consumed by event type and outcome (indexed, deleted, skipped, failed).",
			},
			[]string{"event_type", "outcome"},
		),
		EventProcessingTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "book_event_processing_seconds",
				Help:    "End-to-end processing latency per book event.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "documents_indexed_total",
				Help: "Total documents upserted into the search index.",
			},
		),
		DocsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "documents_deleted_total",
				Help: "Total documents deleted from the search index.",
			},
		),
		ConsumerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "consumer_state",
				Help: "Consumer loop state (0=polling, 1=backoff, 2=draining, 3=stopped).",
			},
		),
		FetchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "book_fetch_requests_total",
				Help: "Book detail fetches by result (found, absent, error, circuit_open).",
			},
			[]string{"status"},
		),
		EmbedLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "embedding_latency_seconds",
				Help:    "Latency of embedding calls in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "semantic_search_queries_total",
				Help: "Semantic search queries by status (ok, not_found, unavailable, error).",
			},
			[]string{"status"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "semantic_search_latency_seconds",
				Help:    "Semantic search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.EventsConsumedTotal,
		m.EventProcessingTime,
		m.DocsIndexedTotal,
		m.DocsDeletedTotal,
		m.ConsumerState,
		m.FetchRequestsTotal,
		m.EmbedLatency,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
