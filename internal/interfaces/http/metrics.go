package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_model/go"

	"github.com/sawpanic/oraclerun/internal/oracle/cache"
	"github.com/sawpanic/oraclerun/internal/oracle/engine"
)

// cacheTypes are the cache_type label values folded into the hit ratio.
var cacheTypes = []string{"price", "redis_mirror"}

// MetricsRegistry holds all Prometheus metrics for the oracle service. It
// implements engine.Observer so the aggregation engine can feed it directly.
type MetricsRegistry struct {
	registry *prometheus.Registry

	// Aggregation tick metrics
	TickDuration *prometheus.HistogramVec
	TicksTotal   *prometheus.CounterVec

	// Cache performance metrics
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheEntries  prometheus.Gauge

	// Manipulation detection metrics
	ManipulationScore *prometheus.GaugeVec

	// Oracle source metrics
	SourceLatency *prometheus.HistogramVec
	SourceErrors  *prometheus.CounterVec

	// HTTP surface metrics
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec

	// WebSocket metrics
	WSClients prometheus.Gauge
}

var _ engine.Observer = (*MetricsRegistry)(nil)

// NewMetricsRegistry creates a metrics registry backed by its own Prometheus
// registry, so repeated construction never trips duplicate registration.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oraclerun_tick_duration_seconds",
				Help:    "Duration of price aggregation ticks in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"symbol", "result"},
		),

		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oraclerun_ticks_total",
				Help: "Total number of aggregation ticks by symbol and result",
			},
			[]string{"symbol", "result"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oraclerun_cache_hit_ratio",
				Help: "Current cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oraclerun_cache_hits_total",
				Help: "Total number of cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oraclerun_cache_misses_total",
				Help: "Total number of cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oraclerun_cache_entries",
				Help: "Number of symbols currently held in the price cache",
			},
		),

		ManipulationScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oraclerun_manipulation_score",
				Help: "Latest composite manipulation score per symbol (0.0 to 1.0)",
			},
			[]string{"symbol"},
		),

		SourceLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oraclerun_source_latency_seconds",
				Help:    "Oracle source fetch latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"source"},
		),

		SourceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oraclerun_source_errors_total",
				Help: "Total number of failed oracle source fetches",
			},
			[]string{"source"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oraclerun_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"method", "path"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oraclerun_http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status",
			},
			[]string{"method", "path", "status"},
		),

		WSClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oraclerun_ws_clients",
				Help: "Number of connected WebSocket clients",
			},
		),
	}

	m.registry.MustRegister(
		m.TickDuration,
		m.TicksTotal,
		m.CacheHitRatio,
		m.CacheHits,
		m.CacheMisses,
		m.CacheEntries,
		m.ManipulationScore,
		m.SourceLatency,
		m.SourceErrors,
		m.RequestDuration,
		m.RequestsTotal,
		m.WSClients,
	)

	return m
}

// ObserveTick records one aggregation tick. A "cache_hit" result counts as a
// price-cache hit, every other result means the lookup fell through to a
// live poll.
func (m *MetricsRegistry) ObserveTick(symbol, result string, elapsed time.Duration) {
	m.TickDuration.WithLabelValues(symbol, result).Observe(elapsed.Seconds())
	m.TicksTotal.WithLabelValues(symbol, result).Inc()

	if result == "cache_hit" {
		m.RecordCacheHit("price")
	} else {
		m.RecordCacheMiss("price")
	}
}

// ObserveScore records the latest manipulation score for a symbol.
func (m *MetricsRegistry) ObserveScore(symbol string, score float64) {
	m.ManipulationScore.WithLabelValues(symbol).Set(score)
}

// ObserveSource records one source fetch attempt.
func (m *MetricsRegistry) ObserveSource(name string, latency time.Duration, err error) {
	m.SourceLatency.WithLabelValues(name).Observe(latency.Seconds())
	if err != nil {
		m.SourceErrors.WithLabelValues(name).Inc()
	}
}

// ObserveCache tracks the price cache size.
func (m *MetricsRegistry) ObserveCache(stats cache.Stats) {
	m.CacheEntries.Set(float64(stats.Entries))
}

// RecordCacheHit records a cache hit for the specified cache type.
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss for the specified cache type.
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordRequest records one served HTTP request.
func (m *MetricsRegistry) RecordRequest(method, path string, status int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// WSConnected increments the connected-clients gauge.
func (m *MetricsRegistry) WSConnected() { m.WSClients.Inc() }

// WSDisconnected decrements the connected-clients gauge.
func (m *MetricsRegistry) WSDisconnected() { m.WSClients.Dec() }

// updateCacheHitRatio recomputes the hit ratio across all cache types by
// reading the counters back out of the registry.
func (m *MetricsRegistry) updateCacheHitRatio() {
	hitMetric := &io_prometheus_client.Metric{}
	missMetric := &io_prometheus_client.Metric{}

	totalHits := 0.0
	totalMisses := 0.0

	for _, cacheType := range cacheTypes {
		if hitCounter, err := m.CacheHits.GetMetricWithLabelValues(cacheType); err == nil {
			if err := hitCounter.Write(hitMetric); err == nil {
				totalHits += hitMetric.GetCounter().GetValue()
			}
		}

		if missCounter, err := m.CacheMisses.GetMetricWithLabelValues(cacheType); err == nil {
			if err := missCounter.Write(missMetric); err == nil {
				totalMisses += missMetric.GetCounter().GetValue()
			}
		}
	}

	if total := totalHits + totalMisses; total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}

// MetricsHandler returns an HTTP handler exposing this registry.
func (m *MetricsRegistry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
