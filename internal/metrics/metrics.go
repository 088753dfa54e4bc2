// Package metrics provides Prometheus metrics for the ValidAI API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge

	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	RunsStarted      prometheus.Counter
	RunsCompleted    *prometheus.CounterVec
	RunsInFlight     prometheus.Gauge
	OperationsTotal  *prometheus.CounterVec
	RenumberSweeps   prometheus.Counter
	SnapshotsCreated prometheus.Counter

	ServerStartTime time.Time
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates collectors registered on the given registerer.
// Tests pass a fresh registry to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{ServerStartTime: time.Now()}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validai_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)
	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "validai_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	m.HTTPInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "validai_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validai_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "status"},
	)
	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "validai_store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	m.RunsStarted = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "validai_runs_started_total",
			Help: "Total number of processor runs started",
		},
	)
	m.RunsCompleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validai_runs_completed_total",
			Help: "Total number of processor runs finished, by terminal status",
		},
		[]string{"status"},
	)
	m.RunsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "validai_runs_in_flight",
			Help: "Number of processor runs currently executing",
		},
	)
	m.OperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validai_run_operations_total",
			Help: "Total number of operations executed by the run engine",
		},
		[]string{"status"},
	)
	m.RenumberSweeps = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "validai_position_renumber_sweeps_total",
			Help: "Total number of fractional-position renumber sweeps applied",
		},
	)
	m.SnapshotsCreated = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "validai_playbook_snapshots_created_total",
			Help: "Total number of playbook snapshots created",
		},
	)

	return m
}

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(method, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStoreOperation records a store call outcome.
func (m *Metrics) RecordStoreOperation(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
