package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing, so components can be constructed without a registry.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	DecisionsTotal         *prometheus.CounterVec
	MissingRulesTotal      *prometheus.CounterVec
	CrossOrgDecisionsTotal *prometheus.CounterVec

	// Isolation metrics
	IsolationCacheHitsTotal   *prometheus.CounterVec
	IsolationCacheMissesTotal *prometheus.CounterVec
	IsolationFallbacksTotal   prometheus.Counter
	IsolationResolveDuration  prometheus.Histogram

	// Audit metrics
	AuditWriteFailuresTotal *prometheus.CounterVec

	// Rate limiting
	RateLimitedTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBConnectionsWait   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetauthz_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleetauthz_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetauthz_decisions_total",
				Help: "Authorization decisions by action and reason code",
			},
			[]string{"action", "code"},
		),
		MissingRulesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetauthz_missing_rules_total",
				Help: "Checks that found no rule for the role and action",
			},
			[]string{"role", "action"},
		),
		CrossOrgDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetauthz_cross_org_decisions_total",
				Help: "Cross-organization validations by operation and outcome",
			},
			[]string{"operation", "allowed"},
		),

		IsolationCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetauthz_isolation_cache_hits_total",
				Help: "Accessible organization lookups served from cache",
			},
			[]string{"backend"},
		),
		IsolationCacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetauthz_isolation_cache_misses_total",
				Help: "Accessible organization lookups that queried the directory",
			},
			[]string{"backend"},
		),
		IsolationFallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fleetauthz_isolation_fallbacks_total",
				Help: "Resolutions that failed and fell back to the user's own organization",
			},
		),
		IsolationResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fleetauthz_isolation_resolve_duration_seconds",
				Help:    "Time spent resolving accessible organizations from the directory",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		AuditWriteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetauthz_audit_write_failures_total",
				Help: "Audit events that could not be persisted",
			},
			[]string{"event_type"},
		),

		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fleetauthz_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleetauthz_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleetauthz_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWait: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleetauthz_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.MissingRulesTotal,
		m.CrossOrgDecisionsTotal,
		m.IsolationCacheHitsTotal,
		m.IsolationCacheMissesTotal,
		m.IsolationFallbacksTotal,
		m.IsolationResolveDuration,
		m.AuditWriteFailuresTotal,
		m.RateLimitedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWait,
	)

	return m
}

// ObserveDecision counts one authorization decision
func (m *Metrics) ObserveDecision(action, code string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(action, code).Inc()
}

// ObserveMissingRule counts a check against an undefined (role, action) pair
func (m *Metrics) ObserveMissingRule(role, action string) {
	if m == nil {
		return
	}
	m.MissingRulesTotal.WithLabelValues(role, action).Inc()
}

// ObserveCrossOrg counts one cross-organization validation
func (m *Metrics) ObserveCrossOrg(operation string, allowed bool) {
	if m == nil {
		return
	}
	m.CrossOrgDecisionsTotal.WithLabelValues(operation, strconv.FormatBool(allowed)).Inc()
}

// ObserveCacheLookup counts an isolation cache hit or miss
func (m *Metrics) ObserveCacheLookup(backend string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.IsolationCacheHitsTotal.WithLabelValues(backend).Inc()
		return
	}
	m.IsolationCacheMissesTotal.WithLabelValues(backend).Inc()
}

// ObserveFallback counts an isolation resolution failure
func (m *Metrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.IsolationFallbacksTotal.Inc()
}

// ObserveResolve records how long a directory resolution took
func (m *Metrics) ObserveResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.IsolationResolveDuration.Observe(d.Seconds())
}

// ObserveAuditFailure counts an audit event that could not be written
func (m *Metrics) ObserveAuditFailure(eventType string) {
	if m == nil {
		return
	}
	m.AuditWriteFailuresTotal.WithLabelValues(eventType).Inc()
}

// ObserveRateLimited counts a rejected request
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// RecordDBStats copies connection pool stats into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWait.Set(float64(stats.WaitCount))
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

// routeLabel returns the mux path template so ids in paths do not explode
// label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Register it with router.Use so the matched route is available.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
