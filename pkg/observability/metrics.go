package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/rebill/pkg/billing"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Run metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	DueSubscriptions prometheus.Gauge
	LastRunTimestamp prometheus.Gauge

	// Outcome metrics
	OutcomesTotal   *prometheus.CounterVec
	CollectedTotal  *prometheus.CounterVec
	WarningsTotal   prometheus.Counter
	EscalationTotal prometheus.Counter

	// Gateway metrics
	GatewayChargesTotal   *prometheus.CounterVec
	GatewayChargeDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// Redis metrics
	RedisConnectionsTotal prometheus.Gauge
	RedisConnectionsIdle  prometheus.Gauge
	RedisPoolTimeouts     prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebill_runs_total",
				Help: "Total number of billing runs",
			},
			[]string{"status", "dry_run"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rebill_run_duration_seconds",
				Help:    "Billing run duration in seconds",
				Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
			},
		),
		DueSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebill_due_subscriptions",
				Help: "Number of occurrences due in the last run",
			},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebill_last_run_timestamp_seconds",
				Help: "Unix time the last billing run finished",
			},
		),

		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebill_outcomes_total",
				Help: "Total number of processed occurrences by outcome",
			},
			[]string{"kind"},
		),
		CollectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebill_collected_amount_total",
				Help: "Total amount collected by currency",
			},
			[]string{"currency"},
		),
		WarningsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rebill_outcome_warnings_total",
				Help: "Total number of best-effort steps that failed after an outcome was recorded",
			},
		),
		EscalationTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rebill_escalations_total",
				Help: "Total number of failure streaks that reached the escalation threshold",
			},
		),

		GatewayChargesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebill_gateway_charges_total",
				Help: "Total number of gateway charge attempts",
			},
			[]string{"provider", "result"},
		),
		GatewayChargeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rebill_gateway_charge_duration_seconds",
				Help:    "Gateway charge latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebill_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebill_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebill_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebill_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),

		RedisConnectionsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebill_redis_connections_total",
				Help: "Number of connections in the Redis pool",
			},
		),
		RedisConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebill_redis_connections_idle",
				Help: "Number of idle connections in the Redis pool",
			},
		),
		RedisPoolTimeouts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebill_redis_pool_timeouts",
				Help: "Total number of times a Redis connection could not be taken from the pool in time",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebill_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rebill_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.DueSubscriptions,
		m.LastRunTimestamp,
		m.OutcomesTotal,
		m.CollectedTotal,
		m.WarningsTotal,
		m.EscalationTotal,
		m.GatewayChargesTotal,
		m.GatewayChargeDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.RedisConnectionsTotal,
		m.RedisConnectionsIdle,
		m.RedisPoolTimeouts,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveOutcome records one processed occurrence
func (m *Metrics) ObserveOutcome(o billing.Outcome) {
	m.OutcomesTotal.WithLabelValues(string(o.Kind)).Inc()
	if o.Collected() {
		m.CollectedTotal.WithLabelValues(o.Currency).Add(o.Amount.InexactFloat64())
	}
	if o.Escalated {
		m.EscalationTotal.Inc()
	}
	if n := len(o.Warnings); n > 0 {
		m.WarningsTotal.Add(float64(n))
	}
}

// ObserveRun records a finished run
func (m *Metrics) ObserveRun(result *billing.RunResult) {
	status := "completed"
	if result.Aborted != "" {
		status = "aborted"
	}
	m.RunsTotal.WithLabelValues(status, strconv.FormatBool(result.DryRun)).Inc()
	m.RunDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	m.DueSubscriptions.Set(float64(result.Due))
	m.LastRunTimestamp.Set(float64(result.FinishedAt.Unix()))
}

// ObserveCharge records one gateway call
func (m *Metrics) ObserveCharge(provider, result string, elapsed time.Duration) {
	m.GatewayChargesTotal.WithLabelValues(provider, result).Inc()
	m.GatewayChargeDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveDBStats copies connection pool statistics into the gauges
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

// ObserveRedisPoolStats copies Redis pool statistics into the gauges
func (m *Metrics) ObserveRedisPoolStats(stats *redis.PoolStats) {
	if stats == nil {
		return
	}
	m.RedisConnectionsTotal.Set(float64(stats.TotalConns))
	m.RedisConnectionsIdle.Set(float64(stats.IdleConns))
	m.RedisPoolTimeouts.Set(float64(stats.Timeouts))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by route template so ids in paths do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
