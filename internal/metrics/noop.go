package metrics

import "context"

// NoopCollector discards everything. It is the default when metrics are
// disabled in the configuration.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {}

func (n *NoopCollector) SetIndexSize(ctx context.Context, kind string, count int64) {}

func (n *NoopCollector) SetPoolQueue(ctx context.Context, depth int) {}
