package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every Prometheus collector the bridge exposes.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionsActive     prometheus.Gauge
	SessionsCreated    prometheus.Counter
	SessionsTerminated *prometheus.CounterVec

	// Process metrics
	ProcessExits    prometheus.Counter
	ProcessRestarts prometheus.Counter
	CommandsSent    *prometheus.CounterVec

	// Output pipeline metrics
	BatchesFlushed prometheus.Counter
	ChunksEmitted  prometheus.Counter

	// Component call metrics
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec
	ServiceErrors   *prometheus.CounterVec

	// gRPC metrics
	GRPCCalls    *prometheus.CounterVec
	GRPCDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Webhook metrics
	WebhookDeliveries *prometheus.CounterVec
	WebhookDuration   prometheus.Histogram

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Rolling request latencies for the JSON stats API
	latency *Window

	snapshot snapshotState

	mu sync.RWMutex
}

// snapshotState accumulates raw counters behind the mutex.
type snapshotState struct {
	totalRequests     int64
	totalErrors       int64
	activeSessions    int64
	activeConnections int64
	totalDuration     float64
	requestCount      int64
}

// MetricsSnapshot holds current metric values for the JSON stats API.
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveSessions    int64   `json:"active_sessions"`
	ActiveConnections int64   `json:"active_connections"`
	AvgDuration       float64 `json:"avg_request_seconds"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all collectors on reg. Tests pass a private
// registry so instances never collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		latency:   NewWindow(1024),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_sessions_active",
				Help: "Number of registered sessions",
			},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsTerminated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_sessions_terminated_total",
				Help: "Total number of sessions terminated",
			},
			[]string{"reason"},
		),

		// Process metrics
		ProcessExits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_process_exits_total",
				Help: "Total number of child process exits",
			},
		),
		ProcessRestarts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_process_restarts_total",
				Help: "Total number of child process restarts",
			},
		),
		CommandsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_commands_total",
				Help: "Total number of commands forwarded to children",
			},
			[]string{"status"},
		),

		// Output pipeline metrics
		BatchesFlushed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_output_batches_total",
				Help: "Total number of flushed chunk batches",
			},
		),
		ChunksEmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_output_chunks_total",
				Help: "Total number of emitted chunks",
			},
		),

		// Component call metrics
		ServiceCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_service_calls_total",
				Help: "Total number of component calls",
			},
			[]string{"service", "method", "status"},
		),
		ServiceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_service_duration_seconds",
				Help:    "Component call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "method"},
		),
		ServiceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_service_errors_total",
				Help: "Total number of component errors",
			},
			[]string{"service", "method", "error_type"},
		),

		// gRPC metrics
		GRPCCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_grpc_calls_total",
				Help: "Total number of gRPC calls",
			},
			[]string{"service", "method", "status"},
		),
		GRPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_grpc_duration_seconds",
				Help:    "gRPC call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "method"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// Webhook metrics
		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts",
			},
			[]string{"status"},
		),
		WebhookDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bridge_webhook_duration_seconds",
				Help:    "Webhook delivery duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_uptime_seconds",
				Help: "Bridge uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime refreshes the uptime gauge once a second.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records one handled request with its duration and
// payload sizes.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	m.latency.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.totalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	m.snapshot.requestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.totalErrors++
	}
	m.mu.Unlock()
}

// RecordServiceCall records a component call
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	m.ServiceCalls.WithLabelValues(service, method, status).Inc()
	m.ServiceDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordServiceError records a component error
func (m *Metrics) RecordServiceError(service, method, errorType string) {
	m.ServiceErrors.WithLabelValues(service, method, errorType).Inc()
}

// RecordGRPCCall records one RPC and its duration.
func (m *Metrics) RecordGRPCCall(service, method, status string, duration time.Duration) {
	m.GRPCCalls.WithLabelValues(service, method, status).Inc()
	m.GRPCDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordWSMessage counts one gateway frame by direction and type.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordCommand records a command forwarded to a child, accepted or not.
func (m *Metrics) RecordCommand(accepted bool) {
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	m.CommandsSent.WithLabelValues(status).Inc()
}

// RecordBatch records one flushed batch and its chunk count.
func (m *Metrics) RecordBatch(chunks int) {
	m.BatchesFlushed.Inc()
	m.ChunksEmitted.Add(float64(chunks))
}

// RecordWebhookDelivery records one delivery attempt outcome.
func (m *Metrics) RecordWebhookDelivery(status string, duration time.Duration) {
	m.WebhookDeliveries.WithLabelValues(status).Inc()
	m.WebhookDuration.Observe(duration.Seconds())
}

// SetSessionsActive sets the number of registered sessions
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.activeSessions = int64(count)
	m.mu.Unlock()
}

// IncSessionsCreated increments the sessions created counter
func (m *Metrics) IncSessionsCreated() {
	m.SessionsCreated.Inc()
}

// IncSessionsTerminated increments the terminated counter by reason
func (m *Metrics) IncSessionsTerminated(reason string) {
	m.SessionsTerminated.WithLabelValues(reason).Inc()
}

// IncProcessExits increments the child exit counter
func (m *Metrics) IncProcessExits() {
	m.ProcessExits.Inc()
}

// IncProcessRestarts increments the child restart counter
func (m *Metrics) IncProcessRestarts() {
	m.ProcessRestarts.Inc()
}

// IncWSConnections counts a gateway client attaching.
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.activeConnections++
	m.mu.Unlock()
}

// DecWSConnections counts a gateway client detaching.
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.activeConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for the JSON stats API.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		TotalRequests:     m.snapshot.totalRequests,
		TotalErrors:       m.snapshot.totalErrors,
		ActiveSessions:    m.snapshot.activeSessions,
		ActiveConnections: m.snapshot.activeConnections,
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
	}
	if m.snapshot.requestCount > 0 {
		snap.AvgDuration = m.snapshot.totalDuration / float64(m.snapshot.requestCount)
	}
	return snap
}

// Latency summarizes the rolling request-latency window.
func (m *Metrics) Latency() Summary {
	return m.latency.Summary()
}
