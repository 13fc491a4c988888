package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	CoordinatorMetrics
	WorkPackageMetrics
	TaskMetrics
}

// CoordinatorMetrics defines metrics for the coordination loop.
type CoordinatorMetrics interface {
	// RecordStateTransition records a coordinator state transition.
	RecordStateTransition(from, to State)

	// RecordClaimAttempt records a segment claim attempt.
	//
	// Parameters:
	//   - result: "claimed", "contended", "not_found", or "error"
	RecordClaimAttempt(result string)

	// RecordActiveSegments sets the number of work packages this process runs (gauge).
	RecordActiveSegments(count int)

	// RecordReconcileDuration records one reconcile pass in seconds.
	RecordReconcileDuration(duration float64)
}

// WorkPackageMetrics defines metrics recorded by work packages.
type WorkPackageMetrics interface {
	// RecordBatch records a processed batch.
	//
	// Parameters:
	//   - segmentID: Segment the batch belongs to
	//   - events: Number of events handled (skipped events excluded)
	//   - duration: Batch processing time in seconds
	RecordBatch(segmentID int, events int, duration float64)

	// RecordHandlerFailure records an event handler error.
	RecordHandlerFailure(segmentID int)

	// RecordTokenPosition sets the last persisted position of a segment (gauge).
	RecordTokenPosition(segmentID int, position int64)

	// RecordStoreRetry records a retried token store operation.
	//
	// Parameters:
	//   - op: Store operation ("store_token", "extend_claim", "fetch_token")
	RecordStoreRetry(op string)
}

// TaskMetrics defines metrics for split, merge, and release tasks.
type TaskMetrics interface {
	// RecordTask records a finished coordination task.
	//
	// Parameters:
	//   - kind: "split", "merge", or "release"
	//   - success: true if the task resolved without error
	//   - duration: Task run time in seconds
	RecordTask(kind string, success bool, duration float64)
}
