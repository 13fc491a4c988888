package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/segpool/types"
)

func TestNopMetrics(t *testing.T) {
	t.Parallel()

	m := NewNop()
	require.NotPanics(t, func() {
		m.RecordStateTransition(types.StateInit, types.StateRunning)
		m.RecordClaimAttempt("claimed")
		m.RecordActiveSegments(3)
		m.RecordReconcileDuration(0.01)
		m.RecordBatch(1, 10, 0.5)
		m.RecordHandlerFailure(1)
		m.RecordTokenPosition(1, 42)
		m.RecordStoreRetry("store_token")
		m.RecordTask("split", true, 0.1)
	})
}

func TestPrometheusCollector_LazyRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_ = NewPrometheus(reg, "test")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Empty(t, families)
}

func TestPrometheusCollector_Records(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.RecordStateTransition(types.StateStarting, types.StateRunning)
	p.RecordClaimAttempt("claimed")
	p.RecordClaimAttempt("claimed")
	p.RecordClaimAttempt("contended")
	p.RecordActiveSegments(4)
	p.RecordBatch(2, 7, 0.02)
	p.RecordBatch(2, 3, 0.01)
	p.RecordHandlerFailure(2)
	p.RecordTokenPosition(2, 99)
	p.RecordStoreRetry("extend_claim")
	p.RecordTask("merge", false, 0.3)

	require.InDelta(t, 1, testutil.ToFloat64(p.stateTransitions.WithLabelValues("Starting", "Running")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(p.claimAttempts.WithLabelValues("claimed")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.claimAttempts.WithLabelValues("contended")), 0)
	require.InDelta(t, 4, testutil.ToFloat64(p.activeSegments), 0)
	require.InDelta(t, 10, testutil.ToFloat64(p.batchEvents.WithLabelValues("2")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.handlerFailures.WithLabelValues("2")), 0)
	require.InDelta(t, 99, testutil.ToFloat64(p.tokenPosition.WithLabelValues("2")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.storeRetries.WithLabelValues("extend_claim")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.tasks.WithLabelValues("merge", "failure")), 0)
}

func TestPrometheusCollector_Defaults(t *testing.T) {
	t.Parallel()

	p := NewPrometheus(prometheus.NewRegistry(), "")
	require.Equal(t, "segpool", p.namespace)
}
