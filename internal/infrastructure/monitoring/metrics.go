package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the storage server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Storage operation metrics
	OpsTotal    *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	UploadBytes prometheus.Counter

	// Lock metrics
	LockTimeouts prometheus.Counter

	// Trash metrics
	TrashItems prometheus.Gauge
	TrashBytes prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector on its own registry, so tests can
// construct collectors freely.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "homedrive_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "homedrive_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		OpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "homedrive_storage_ops_total",
				Help: "Total storage operations by outcome",
			},
			[]string{"op", "status"},
		),
		OpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "homedrive_storage_op_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		UploadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "homedrive_upload_bytes_total",
				Help: "Total bytes accepted by uploads",
			},
		),
		LockTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "homedrive_lock_timeouts_total",
				Help: "Lock acquisitions that failed with busy",
			},
		),
		TrashItems: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "homedrive_trash_items",
				Help: "Number of items currently in trash",
			},
		),
		TrashBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "homedrive_trash_bytes",
				Help: "Bytes currently held in trash",
			},
		),
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "homedrive_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
	}
	return m
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
	return m.registry
}

// RecordOp records one storage operation outcome and duration.
func (m *Metrics) RecordOp(op string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OpsTotal.WithLabelValues(op, status).Inc()
	m.OpDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
