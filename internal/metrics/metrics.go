// Package metrics exposes Prometheus instrumentation for the proxy core:
// connection outcomes, cache hit/miss and occupancy, queue depth, and
// upstream error classification.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the proxy's Prometheus instruments.
type Metrics struct {
	connectionsTotal  *prometheus.CounterVec
	activeConnections prometheus.Gauge
	queueDepth        prometheus.Gauge
	cacheResult       *prometheus.CounterVec
	cacheBytes        prometheus.Gauge
	cacheEvictions    prometheus.Counter
	upstreamErrors    *prometheus.CounterVec
	requestDuration   prometheus.Histogram
}

// NewMetrics constructs and registers the proxy's instruments with the
// default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_connections_total",
				Help: "Total accepted client connections, by how the handler disposed of them.",
			},
			[]string{"outcome"},
		),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_active_connections",
			Help: "Connections currently being served by a worker.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_queue_depth",
			Help: "Connections currently waiting in the bounded connection queue.",
		}),
		cacheResult: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_cache_result_total",
				Help: "Cache probes, partitioned by hit/miss.",
			},
			[]string{"result"},
		),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_cache_bytes",
			Help: "Total bytes currently held by the object cache.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_cache_evictions_total",
			Help: "Number of evict_and_insert calls, including those that left the cache unchanged.",
		}),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_upstream_errors_total",
				Help: "Upstream dial/relay failures, by fault kind.",
			},
			[]string{"kind"},
		),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "Time to fully serve one client connection.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.connectionsTotal,
		m.activeConnections,
		m.queueDepth,
		m.cacheResult,
		m.cacheBytes,
		m.cacheEvictions,
		m.upstreamErrors,
		m.requestDuration,
	)

	return m
}

// ConnectionStarted records a worker picking up a connection.
func (m *Metrics) ConnectionStarted() func(outcome string) {
	m.activeConnections.Inc()
	start := time.Now()
	return func(outcome string) {
		m.activeConnections.Dec()
		m.connectionsTotal.WithLabelValues(outcome).Inc()
		m.requestDuration.Observe(time.Since(start).Seconds())
	}
}

// SetQueueDepth records the connection queue's current occupancy.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// RecordCacheHit records a cache probe result.
func (m *Metrics) RecordCacheHit(hit bool) {
	if hit {
		m.cacheResult.WithLabelValues("hit").Inc()
	} else {
		m.cacheResult.WithLabelValues("miss").Inc()
	}
}

// SetCacheBytes records the cache's current total size.
func (m *Metrics) SetCacheBytes(n int) {
	m.cacheBytes.Set(float64(n))
}

// RecordEviction records one evict_and_insert call, whether or not it
// replaced an item.
func (m *Metrics) RecordEviction() {
	m.cacheEvictions.Inc()
}

// RecordUpstreamError records a dial or relay failure by fault kind.
func (m *Metrics) RecordUpstreamError(kind string) {
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

// Handler returns the HTTP handler for Prometheus scrape exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
