package segpool

import "github.com/arloliu/segpool/types"

// Sentinel errors returned by the Coordinator, the standalone operations, and token stores.
//
// They are re-exported from the types package so callers can check them
// with errors.Is without importing types.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrTokenStoreRequired is returned when the token store is nil.
	ErrTokenStoreRequired = types.ErrTokenStoreRequired

	// ErrEventSourceRequired is returned when the event source is nil.
	ErrEventSourceRequired = types.ErrEventSourceRequired

	// ErrHandlerRequired is returned when the event handler is nil.
	ErrHandlerRequired = types.ErrHandlerRequired

	// ErrAlreadyStarted is returned when Start is called on a started coordinator.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrNotStarted is returned when Stop or a task is called on a coordinator that is not running.
	ErrNotStarted = types.ErrNotStarted

	// ErrUnableToClaim is returned when another owner holds a live claim.
	ErrUnableToClaim = types.ErrUnableToClaim

	// ErrSegmentNotFound is returned when a segment has no persisted entry.
	ErrSegmentNotFound = types.ErrSegmentNotFound

	// ErrSegmentExists is returned when initializing a segment that already exists.
	ErrSegmentExists = types.ErrSegmentExists

	// ErrSegmentNotSplittable is returned when a segment mask cannot grow further.
	ErrSegmentNotSplittable = types.ErrSegmentNotSplittable

	// ErrStoreUnavailable wraps transient token store failures.
	ErrStoreUnavailable = types.ErrStoreUnavailable

	// ErrHandlerFailure wraps the event handler error that halted a work package.
	ErrHandlerFailure = types.ErrHandlerFailure

	// ErrAbortTimeout is returned when a work package does not stop in time.
	ErrAbortTimeout = types.ErrAbortTimeout
)
