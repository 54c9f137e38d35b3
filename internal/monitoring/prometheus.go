package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec
	activeConnections    prometheus.Gauge
	apiErrorsTotal       *prometheus.CounterVec

	snapshotsIngested     *prometheus.CounterVec
	snapshotsZeroInterval *prometheus.CounterVec
	samplesRecorded       prometheus.Counter
	samplesSkipped        *prometheus.CounterVec
	opportunitiesCurrent  prometheus.Gauge
	statsRefreshDuration  prometheus.Histogram
	statsPairsTracked     prometheus.Gauge

	dbPoolConnections *prometheus.GaugeVec
	dbPoolWaitCount   prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
			[]string{"method", "endpoint"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_connections_active",
				Help: "Number of active WebSocket connections",
			},
		),
		apiErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"endpoint", "error_type"},
		),
		snapshotsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funding_snapshots_ingested_total",
				Help: "Total number of funding rate snapshots ingested",
			},
			[]string{"exchange"},
		),
		snapshotsZeroInterval: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funding_snapshots_zero_interval_total",
				Help: "Ingested snapshots without a usable funding interval, excluded from annualization",
			},
			[]string{"exchange"},
		),
		samplesRecorded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spread_samples_recorded_total",
				Help: "Total number of spread samples recorded",
			},
		),
		samplesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spread_samples_skipped_total",
				Help: "Total number of spread sample candidates skipped",
			},
			[]string{"reason"},
		),
		opportunitiesCurrent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbitrage_opportunities_current",
				Help: "Number of opportunities in the latest sampling cycle",
			},
		),
		statsRefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spread_stats_refresh_duration_seconds",
				Help:    "Duration of spread statistics view refreshes",
				Buckets: prometheus.DefBuckets,
			},
		),
		statsPairsTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spread_stats_pairs_tracked",
				Help: "Number of asset/exchange pairs in the statistics view",
			},
		),
		dbPoolConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "db_pool_connections",
				Help: "Database connection pool state",
			},
			[]string{"state"},
		),
		dbPoolWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_pool_wait_count",
				Help: "Cumulative number of connections waited for",
			},
		),
	}

	// Register metrics
	prometheus.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.activeConnections,
		m.apiErrorsTotal,
		m.snapshotsIngested,
		m.snapshotsZeroInterval,
		m.samplesRecorded,
		m.samplesSkipped,
		m.opportunitiesCurrent,
		m.statsRefreshDuration,
		m.statsPairsTracked,
		m.dbPoolConnections,
		m.dbPoolWaitCount,
	)

	return m
}

// MetricsMiddleware creates a Prometheus metrics middleware
func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		// Track in-flight requests
		m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Inc()
		defer m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Dec()

		// Process request
		c.Next()

		// Record metrics
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)

		// Track errors
		if c.Writer.Status() >= 400 {
			errorType := "client_error"
			if c.Writer.Status() >= 500 {
				errorType = "server_error"
			}
			m.apiErrorsTotal.WithLabelValues(path, errorType).Inc()
		}
	}
}

// PrometheusHandler returns the Prometheus metrics handler
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSnapshotsIngested records accepted snapshot submissions per exchange
func (m *Metrics) RecordSnapshotsIngested(exchange string, count int) {
	m.snapshotsIngested.WithLabelValues(exchange).Add(float64(count))
}

// RecordZeroIntervalSnapshots records accepted snapshots that carry no
// usable funding interval
func (m *Metrics) RecordZeroIntervalSnapshots(exchange string, count int) {
	m.snapshotsZeroInterval.WithLabelValues(exchange).Add(float64(count))
}

// RecordSamplesRecorded records persisted spread samples
func (m *Metrics) RecordSamplesRecorded(count int) {
	m.samplesRecorded.Add(float64(count))
}

// RecordSampleSkipped records a candidate excluded from sampling
func (m *Metrics) RecordSampleSkipped(reason string) {
	m.samplesSkipped.WithLabelValues(reason).Inc()
}

// SetCurrentOpportunities sets the opportunity count from the latest cycle
func (m *Metrics) SetCurrentOpportunities(count int) {
	m.opportunitiesCurrent.Set(float64(count))
}

// ObserveStatsRefresh records the duration of a statistics view refresh
func (m *Metrics) ObserveStatsRefresh(d time.Duration, pairs int) {
	m.statsRefreshDuration.Observe(d.Seconds())
	m.statsPairsTracked.Set(float64(pairs))
}

// SetActiveConnections sets the number of active WebSocket connections
func (m *Metrics) SetActiveConnections(count float64) {
	m.activeConnections.Set(count)
}

// ObserveDBPool records connection pool state from the pool monitor
func (m *Metrics) ObserveDBPool(open, inUse, idle int, waitCount int64) {
	m.dbPoolConnections.WithLabelValues("open").Set(float64(open))
	m.dbPoolConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.dbPoolConnections.WithLabelValues("idle").Set(float64(idle))
	m.dbPoolWaitCount.Set(float64(waitCount))
}
