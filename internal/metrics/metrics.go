package metrics

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Scan metrics
	scansStarted   prometheus.Counter
	scansCompleted prometheus.Counter
	scansFailed    *prometheus.CounterVec
	activeScans    prometheus.Gauge
	scanDuration   prometheus.Histogram

	// Tool metrics
	toolRunsTotal        *prometheus.CounterVec
	toolRunDuration      *prometheus.HistogramVec
	subdomainsDiscovered *prometheus.CounterVec

	// Database metrics
	dbOperationsTotal   *prometheus.CounterVec
	dbOperationDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage         *prometheus.GaugeVec
	goroutineCount      prometheus.Gauge
	circuitBreakerState *prometheus.GaugeVec
}

// NewMetrics creates a new metrics instance registered on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subarg_http_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subarg_http_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		scansStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "subarg_scans_started_total",
				Help: "Total number of scans started",
			},
		),
		scansCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "subarg_scans_completed_total",
				Help: "Total number of scans completed",
			},
		),
		scansFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subarg_scans_failed_total",
				Help: "Total number of failed scans",
			},
			[]string{"reason"},
		),
		activeScans: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "subarg_active_scans",
				Help: "Number of scans currently running",
			},
		),
		scanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "subarg_scan_duration_seconds",
				Help:    "Whole scan duration in seconds",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
		),

		toolRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subarg_tool_runs_total",
				Help: "Total number of tool invocations by outcome",
			},
			[]string{"tool", "status"},
		),
		toolRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subarg_tool_run_duration_seconds",
				Help:    "Tool invocation duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"tool"},
		),
		subdomainsDiscovered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subarg_subdomains_discovered_total",
				Help: "Total number of new subdomains attributed to each tool",
			},
			[]string{"tool"},
		),

		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subarg_db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table"},
		),
		dbOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subarg_db_operation_duration_seconds",
				Help:    "Database operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		memoryUsage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "subarg_memory_usage_bytes",
				Help: "Memory usage in bytes",
			},
			[]string{"type"},
		),
		goroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "subarg_goroutines",
				Help: "Number of goroutines",
			},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "subarg_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
	}
}

// RecordHTTPRequest records an HTTP API request
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordScanStarted records a scan start
func (m *Metrics) RecordScanStarted() {
	if m == nil {
		return
	}
	m.scansStarted.Inc()
	m.activeScans.Inc()
}

// RecordScanCompleted records a completed scan
func (m *Metrics) RecordScanCompleted(duration time.Duration) {
	if m == nil {
		return
	}
	m.scansCompleted.Inc()
	m.activeScans.Dec()
	m.scanDuration.Observe(duration.Seconds())
}

// RecordScanFailed records a failed scan
func (m *Metrics) RecordScanFailed(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.scansFailed.WithLabelValues(reason).Inc()
	m.activeScans.Dec()
	m.scanDuration.Observe(duration.Seconds())
}

// RecordToolRun records one tool invocation. status is success, error, timeout or skipped.
func (m *Metrics) RecordToolRun(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolRunsTotal.WithLabelValues(tool, status).Inc()
	m.toolRunDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordSubdomainsDiscovered adds count new subdomains for tool
func (m *Metrics) RecordSubdomainsDiscovered(tool string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.subdomainsDiscovered.WithLabelValues(tool).Add(float64(count))
}

// RecordDatabaseOperation records a database operation
func (m *Metrics) RecordDatabaseOperation(operation, table string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbOperationsTotal.WithLabelValues(operation, table).Inc()
	m.dbOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// UpdateSystemMetrics updates system metrics
func (m *Metrics) UpdateSystemMetrics() {
	if m == nil {
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.memoryUsage.WithLabelValues("alloc").Set(float64(memStats.Alloc))
	m.memoryUsage.WithLabelValues("sys").Set(float64(memStats.Sys))
	m.memoryUsage.WithLabelValues("heap_alloc").Set(float64(memStats.HeapAlloc))
	m.memoryUsage.WithLabelValues("heap_sys").Set(float64(memStats.HeapSys))

	m.goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// UpdateCircuitBreakerState updates circuit breaker state
func (m *Metrics) UpdateCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}

	var stateValue float64
	switch state {
	case "closed":
		stateValue = 0
	case "halfopen":
		stateValue = 1
	case "open":
		stateValue = 2
	}
	m.circuitBreakerState.WithLabelValues(service).Set(stateValue)
}

// StartMetricsCollection updates system metrics every interval until ctx is done
func (m *Metrics) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateSystemMetrics()
		}
	}
}
