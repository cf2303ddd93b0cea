// Package observability wires Prometheus metrics and OpenTelemetry tracing
// into the server. Both are optional at runtime: metrics are always gathered
// but only exposed when the WebSocket transport serves HTTP, and tracing is a
// no-op unless an OTLP endpoint is configured.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics owns the Prometheus registry and every instrument the server
// records into.
type Metrics struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	// Core metrics
	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Transport metrics
	connections *prometheus.GaugeVec
	frames      *prometheus.CounterVec

	// Tool metrics
	toolsTotal   prometheus.Gauge
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec

	// Identity and token metrics
	authAttempts  *prometheus.CounterVec
	tokensIssued  prometheus.Counter
	tokensRevoked prometheus.Counter

	// Sandbox and audit metrics
	auditEvents     *prometheus.CounterVec
	quotaViolations prometheus.Counter
	workerRuns      *prometheus.CounterVec
}

// NewMetrics creates the registry and registers every instrument plus the Go
// runtime and process collectors.
func NewMetrics(logger *zap.SugaredLogger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		logger:   logger,
		registry: registry,
	}

	m.initMetrics()
	m.registerMetrics()

	return m
}

// initMetrics initializes all Prometheus metrics
func (m *Metrics) initMetrics() {
	// System metrics
	m.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "toolgate_uptime_seconds",
		Help: "Time since the server started",
	})

	// HTTP metrics (WebSocket transport only)
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Transport metrics
	m.connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toolgate_connections_active",
			Help: "Number of live transport connections",
		},
		[]string{"transport"},
	)

	m.frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_frames_total",
			Help: "Total number of protocol frames",
		},
		[]string{"transport", "direction"},
	)

	// Tool metrics
	m.toolsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "toolgate_tools_total",
		Help: "Total number of registered tools",
	})

	m.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	m.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool", "status"},
	)

	// Identity and token metrics
	m.authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"}, // result: success, failure
	)

	m.tokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toolgate_tokens_issued_total",
		Help: "Total number of token pairs minted",
	})

	m.tokensRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toolgate_tokens_revoked_total",
		Help: "Total number of token pairs revoked",
	})

	// Sandbox and audit metrics
	m.auditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_audit_events_total",
			Help: "Total number of audit events recorded",
		},
		[]string{"event_type"},
	)

	m.quotaViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toolgate_quota_violations_total",
		Help: "Total number of rejected quota allocations",
	})

	m.workerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_worker_runs_total",
			Help: "Total number of sandbox worker subprocesses",
		},
		[]string{"status"}, // status: ok, error, timeout, crashed
	)
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		m.uptime,
		m.httpRequests,
		m.httpDuration,
		m.connections,
		m.frames,
		m.toolsTotal,
		m.toolCalls,
		m.toolDuration,
		m.authAttempts,
		m.tokensIssued,
		m.tokensRevoked,
		m.auditEvents,
		m.quotaViolations,
		m.workerRuns,
	)

	// Also register Go runtime metrics
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Metric update methods

// SetUptime sets the uptime metric
func (m *Metrics) SetUptime(startTime time.Time) {
	m.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ConnectionOpened increments the live connection gauge for a transport
func (m *Metrics) ConnectionOpened(transport string) {
	m.connections.WithLabelValues(transport).Inc()
}

// ConnectionClosed decrements the live connection gauge for a transport
func (m *Metrics) ConnectionClosed(transport string) {
	m.connections.WithLabelValues(transport).Dec()
}

// RecordFrame records one protocol frame; direction is "in" or "out"
func (m *Metrics) RecordFrame(transport, direction string) {
	m.frames.WithLabelValues(transport, direction).Inc()
}

// SetToolsTotal sets the total number of registered tools
func (m *Metrics) SetToolsTotal(total int) {
	m.toolsTotal.Set(float64(total))
}

// RecordToolCall records a tool call
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
}

// RecordAuthAttempt records an authentication attempt
func (m *Metrics) RecordAuthAttempt(result string) {
	m.authAttempts.WithLabelValues(result).Inc()
}

// RecordTokenIssued records a minted token pair
func (m *Metrics) RecordTokenIssued() {
	m.tokensIssued.Inc()
}

// RecordTokenRevoked records a revoked token pair
func (m *Metrics) RecordTokenRevoked() {
	m.tokensRevoked.Inc()
}

// RecordAuditEvent records an audit event by type
func (m *Metrics) RecordAuditEvent(eventType string) {
	m.auditEvents.WithLabelValues(eventType).Inc()
}

// RecordQuotaViolation records a rejected quota allocation
func (m *Metrics) RecordQuotaViolation() {
	m.quotaViolations.Inc()
}

// RecordWorkerRun records a sandbox worker subprocess by outcome
func (m *Metrics) RecordWorkerRun(status string) {
	m.workerRuns.WithLabelValues(status).Inc()
}

// HTTPMiddleware returns middleware that records HTTP metrics
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap the response writer to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			// Call the next handler
			next.ServeHTTP(ww, r)

			// Record metrics
			duration := time.Since(start)
			m.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), duration)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
