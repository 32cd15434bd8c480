package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "playground"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so domain packages can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge
	Boots          *prometheus.CounterVec
	BootDuration   *prometheus.HistogramVec
	Writes         *prometheus.CounterVec
	BreakerState   *prometheus.GaugeVec

	// Terminal metrics
	TerminalBytes   prometheus.Counter
	TerminalAttach  prometheus.Counter
	TerminalDropped prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds current values for the JSON status endpoint
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ActiveSessions int64   `json:"active_sessions"`
	ActiveSockets  int64   `json:"active_sockets"`
	BootsOK        int64   `json:"boots_ok"`
	BootsFailed    int64   `json:"boots_failed"`
	TotalDuration  float64 `json:"-"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of cached sandbox sessions",
			},
		),
		Boots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_boots_total",
				Help:      "Boot attempts by result and failing stage",
			},
			[]string{"result", "stage"},
		),
		BootDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_boot_duration_seconds",
				Help:      "Boot attempt duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"result"},
		),
		Writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_writes_total",
				Help:      "File writes by result",
			},
			[]string{"result"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "boot_breaker_state",
				Help:      "Boot circuit breaker state per workspace (0 closed, 1 half-open, 2 open)",
			},
			[]string{"workspace"},
		),

		TerminalBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_output_bytes_total",
				Help:      "Bytes of process output delivered to terminal targets",
			},
		),
		TerminalAttach: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_attach_total",
				Help:      "Terminal target switches",
			},
		),
		TerminalDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_dropped_bytes_total",
				Help:      "Bytes of process output produced while no target was attached",
			},
		),

		WSConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket observers",
			},
		),
		WSMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	m.Uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Service uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.RequestSize, m.ResponseSize,
		m.SessionsActive, m.Boots, m.BootDuration, m.Writes, m.BreakerState,
		m.TerminalBytes, m.TerminalAttach, m.TerminalDropped,
		m.WSConnections, m.WSMessages, m.Uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordBoot records the outcome of one boot attempt. stage is empty on success.
func (m *Metrics) RecordBoot(ok bool, stage string, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ready"
	if !ok {
		result = "failed"
	}
	m.Boots.WithLabelValues(result, stage).Inc()
	m.BootDuration.WithLabelValues(result).Observe(duration.Seconds())

	m.mu.Lock()
	if ok {
		m.snapshot.BootsOK++
	} else {
		m.snapshot.BootsFailed++
	}
	m.mu.Unlock()
}

// RecordWrite records a settled or rejected write
func (m *Metrics) RecordWrite(result string) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(result).Inc()
}

// SetBreakerState publishes a workspace breaker state
func (m *Metrics) SetBreakerState(workspace string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(workspace).Set(float64(state))
}

// SetSessionsActive sets the number of cached sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// AddTerminalBytes counts delivered terminal output
func (m *Metrics) AddTerminalBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TerminalBytes.Add(float64(n))
}

// AddTerminalDropped counts output produced with no target attached
func (m *Metrics) AddTerminalDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TerminalDropped.Add(float64(n))
}

// IncTerminalAttach counts a target switch
func (m *Metrics) IncTerminalAttach() {
	if m == nil {
		return
	}
	m.TerminalAttach.Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveSockets++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveSockets--
	m.mu.Unlock()
}

// Snapshot returns current values for JSON consumers
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
