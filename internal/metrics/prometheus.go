package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arloliu/segpool/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered on first use, so constructing one for
// a coordinator that never runs registers nothing.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions *prometheus.CounterVec
	claimAttempts    *prometheus.CounterVec
	activeSegments   prometheus.Gauge
	reconcileSeconds prometheus.Histogram

	batchEvents     *prometheus.CounterVec
	batchSeconds    *prometheus.HistogramVec
	handlerFailures *prometheus.CounterVec
	tokenPosition   *prometheus.GaugeVec
	storeRetries    *prometheus.CounterVec
	tasks           *prometheus.CounterVec
	taskSeconds     *prometheus.HistogramVec
}

var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Registerer to add collectors to (prometheus.DefaultRegisterer if nil)
//   - namespace: Metric namespace ("segpool" if empty)
//
// Returns:
//   - *PrometheusCollector: Collector ready to pass to WithMetrics
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "segpool"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		f := promauto.With(p.reg)

		p.stateTransitions = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "state_transitions_total",
			Help:      "Coordinator state transitions by source and target state.",
		}, []string{"from", "to"})

		p.claimAttempts = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "claim_attempts_total",
			Help:      "Segment claim attempts by result (claimed, contended, not_found, error).",
		}, []string{"result"})

		p.activeSegments = f.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "active_segments",
			Help:      "Work packages currently running in this process.",
		})

		p.reconcileSeconds = f.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of one reconcile pass.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms .. ~3.8s
		})

		p.batchEvents = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "work_package",
			Name:      "events_handled_total",
			Help:      "Events passed to the handler by segment.",
		}, []string{"segment"})

		p.batchSeconds = f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "work_package",
			Name:      "batch_duration_seconds",
			Help:      "Time to handle and persist one batch.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"segment"})

		p.handlerFailures = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "work_package",
			Name:      "handler_failures_total",
			Help:      "Event handler errors by segment.",
		}, []string{"segment"})

		p.tokenPosition = f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "work_package",
			Name:      "token_position",
			Help:      "Last persisted stream position by segment.",
		}, []string{"segment"})

		p.storeRetries = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "token_store",
			Name:      "retries_total",
			Help:      "Retried token store operations by operation.",
		}, []string{"op"})

		p.tasks = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "task",
			Name:      "completed_total",
			Help:      "Split, merge, and release tasks by kind and result.",
		}, []string{"kind", "result"})

		p.taskSeconds = f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Task run time by kind.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"kind"})
	})
}

// RecordStateTransition counts a coordinator state transition.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordClaimAttempt counts a claim attempt by result.
func (p *PrometheusCollector) RecordClaimAttempt(result string) {
	p.ensureRegistered()
	p.claimAttempts.WithLabelValues(result).Inc()
}

// RecordActiveSegments sets the active work package gauge.
func (p *PrometheusCollector) RecordActiveSegments(count int) {
	p.ensureRegistered()
	p.activeSegments.Set(float64(count))
}

// RecordReconcileDuration observes one reconcile pass.
func (p *PrometheusCollector) RecordReconcileDuration(duration float64) {
	p.ensureRegistered()
	p.reconcileSeconds.Observe(duration)
}

// RecordBatch records a handled batch.
func (p *PrometheusCollector) RecordBatch(segmentID int, events int, duration float64) {
	p.ensureRegistered()
	label := strconv.Itoa(segmentID)
	p.batchEvents.WithLabelValues(label).Add(float64(events))
	p.batchSeconds.WithLabelValues(label).Observe(duration)
}

// RecordHandlerFailure counts a handler error.
func (p *PrometheusCollector) RecordHandlerFailure(segmentID int) {
	p.ensureRegistered()
	p.handlerFailures.WithLabelValues(strconv.Itoa(segmentID)).Inc()
}

// RecordTokenPosition sets the persisted position gauge of a segment.
func (p *PrometheusCollector) RecordTokenPosition(segmentID int, position int64) {
	p.ensureRegistered()
	p.tokenPosition.WithLabelValues(strconv.Itoa(segmentID)).Set(float64(position))
}

// RecordStoreRetry counts a retried store operation.
func (p *PrometheusCollector) RecordStoreRetry(op string) {
	p.ensureRegistered()
	p.storeRetries.WithLabelValues(op).Inc()
}

// RecordTask records a finished task.
func (p *PrometheusCollector) RecordTask(kind string, success bool, duration float64) {
	p.ensureRegistered()
	result := "success"
	if !success {
		result = "failure"
	}
	p.tasks.WithLabelValues(kind, result).Inc()
	p.taskSeconds.WithLabelValues(kind).Observe(duration)
}
