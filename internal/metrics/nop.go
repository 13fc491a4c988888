package metrics

import "github.com/arloliu/segpool/types"

// NopMetrics discards every metric.
type NopMetrics struct{}

var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a metrics collector that records nothing.
//
// Example:
//
//	coord, _ := segpool.NewCoordinator(cfg, store, src, handler, segpool.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordStateTransition is a no-op.
func (n *NopMetrics) RecordStateTransition(_, _ types.State) {}

// RecordClaimAttempt is a no-op.
func (n *NopMetrics) RecordClaimAttempt(_ /* result */ string) {}

// RecordActiveSegments is a no-op.
func (n *NopMetrics) RecordActiveSegments(_ /* count */ int) {}

// RecordReconcileDuration is a no-op.
func (n *NopMetrics) RecordReconcileDuration(_ /* duration */ float64) {}

// RecordBatch is a no-op.
func (n *NopMetrics) RecordBatch(_ /* segmentID */, _ /* events */ int, _ /* duration */ float64) {}

// RecordHandlerFailure is a no-op.
func (n *NopMetrics) RecordHandlerFailure(_ /* segmentID */ int) {}

// RecordTokenPosition is a no-op.
func (n *NopMetrics) RecordTokenPosition(_ /* segmentID */ int, _ /* position */ int64) {}

// RecordStoreRetry is a no-op.
func (n *NopMetrics) RecordStoreRetry(_ /* op */ string) {}

// RecordTask is a no-op.
func (n *NopMetrics) RecordTask(_ string, _ bool, _ float64) {}
