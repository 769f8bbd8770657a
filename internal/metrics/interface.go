// Package metrics records engine activity for Prometheus.
package metrics

import "context"

// Collector is the interface for metrics collection.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	SetIndexSize(ctx context.Context, kind string, count int64)
	SetPoolQueue(ctx context.Context, depth int)
}
