package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsCollector provides Prometheus metrics for index operations.
type MetricsCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	indexSize         *prometheus.GaugeVec
	poolQueue         prometheus.Gauge
	registry          *prometheus.Registry
}

// NewCollector creates a collector with its own registry, which also
// carries the Go runtime and process collectors.
func NewCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "albaum_operations_total",
			Help: "Total number of index operations by type and status",
		},
		[]string{"operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "albaum_operation_duration_seconds",
			Help:    "Duration of index operations by type",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "albaum_errors_total",
			Help: "Total number of errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	indexSize := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "albaum_index_size",
			Help: "Current size of the index by kind",
		},
		[]string{"kind"},
	)

	poolQueue := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "albaum_pool_queue_depth",
		Help: "Tasks waiting for a worker",
	})

	registry.MustRegister(operationsTotal)
	registry.MustRegister(operationDuration)
	registry.MustRegister(errorsTotal)
	registry.MustRegister(indexSize)
	registry.MustRegister(poolQueue)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &MetricsCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		indexSize:         indexSize,
		poolQueue:         poolQueue,
		registry:          registry,
	}
}

// RecordOperation records the completion of an operation
func (m *MetricsCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(float64(durationMs) / 1000.0)
}

// RecordError records an error occurrence
func (m *MetricsCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetIndexSize sets the current count for kind ("facts", "nodes", "shown").
func (m *MetricsCollector) SetIndexSize(ctx context.Context, kind string, count int64) {
	m.indexSize.WithLabelValues(kind).Set(float64(count))
}

func (m *MetricsCollector) SetPoolQueue(ctx context.Context, depth int) {
	m.poolQueue.Set(float64(depth))
}

// Registry returns the Prometheus registry for HTTP exposure
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}
