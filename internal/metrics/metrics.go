// Package metrics provides Prometheus metrics for the API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	ErrorsTotal         *prometheus.CounterVec
	BlobBytesTotal      *prometheus.CounterVec
	CompletionsTotal    *prometheus.CounterVec
	CompletionDuration  prometheus.Histogram
	ContextCacheLookups *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novuscode_http_requests_total",
				Help: "Total number of HTTP requests by route and status.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "novuscode_http_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novuscode_errors_total",
				Help: "Total operation errors by module and kind.",
			},
			[]string{"module", "kind"},
		),
		BlobBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novuscode_blob_bytes_written_total",
				Help: "Bytes written to blob storage by module.",
			},
			[]string{"module"},
		),
		CompletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novuscode_completions_total",
				Help: "Completion calls by model and result.",
			},
			[]string{"model", "result"},
		),
		CompletionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "novuscode_completion_duration_seconds",
				Help:    "Completion call latency.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
			},
		),
		ContextCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novuscode_context_cache_lookups_total",
				Help: "Codebase context cache lookups by result.",
			},
			[]string{"result"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.BlobBytesTotal)
	reg.MustRegister(m.CompletionsTotal)
	reg.MustRegister(m.CompletionDuration)
	reg.MustRegister(m.ContextCacheLookups)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (for testing).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments the request counter and observes its duration.
func (m *Metrics) RecordRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(module, kind).Inc()
}

// AddBlobBytes counts bytes written to blob storage.
func (m *Metrics) AddBlobBytes(module string, n int) {
	if m == nil {
		return
	}
	m.BlobBytesTotal.WithLabelValues(module).Add(float64(n))
}

// RecordCompletion counts a completion call and observes its latency.
func (m *Metrics) RecordCompletion(model, result string, seconds float64) {
	if m == nil {
		return
	}
	m.CompletionsTotal.WithLabelValues(model, result).Inc()
	m.CompletionDuration.Observe(seconds)
}

// CacheStats is a point-in-time view of a cache.
type CacheStats struct {
	Entries     int
	Evictions   uint64
	Expirations uint64
}

// WatchContextCache exports the context cache size and drop counters, read
// from stats on every scrape. Only the first cache watched on a registry is
// exported.
func (m *Metrics) WatchContextCache(stats func() CacheStats) {
	if m == nil {
		return
	}
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "novuscode_context_cache_entries",
			Help: "Codebase context documents currently cached.",
		}, func() float64 { return float64(stats().Entries) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "novuscode_context_cache_evictions_total",
			Help: "Context cache entries dropped to stay within capacity.",
		}, func() float64 { return float64(stats().Evictions) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "novuscode_context_cache_expirations_total",
			Help: "Context cache entries dropped after their TTL.",
		}, func() float64 { return float64(stats().Expirations) }),
	}
	for _, c := range collectors {
		_ = m.registry.Register(c)
	}
}

// RecordCacheLookup counts a context cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ContextCacheLookups.WithLabelValues(result).Inc()
}
