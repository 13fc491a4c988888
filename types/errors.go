package types

import (
	"errors"
	"strings"
)

// Sentinel errors for segpool.
//
// Check them with errors.Is(). Components wrap backend errors with context
// using fmt.Errorf("%s: %w", msg, err) and keep the sentinel in the chain.

// Claim and segment errors - returned by token stores and tasks.
var (
	// ErrUnableToClaim is returned when another owner holds a live claim, or
	// when the caller's claim expired or was taken over.
	ErrUnableToClaim = errors.New("unable to claim segment")

	// ErrSegmentNotFound is returned when a segment has no persisted entry.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrSegmentExists is returned when initializing a segment that already exists.
	ErrSegmentExists = errors.New("segment already exists")

	// ErrSegmentNotSplittable is returned when a segment mask cannot grow further.
	ErrSegmentNotSplittable = errors.New("segment cannot be split further")

	// ErrSegmentsNotMergeable is returned when two segments are not siblings.
	ErrSegmentsNotMergeable = errors.New("segments are not mergeable")

	// ErrStoreUnavailable wraps transient token store failures.
	// Work packages and the coordinator retry these with backoff.
	ErrStoreUnavailable = errors.New("token store unavailable")
)

// Processing errors - returned by work packages.
var (
	// ErrHandlerFailure wraps an event handler error that halted a work package.
	ErrHandlerFailure = errors.New("event handler failure")

	// ErrAbortTimeout is returned when a work package does not stop in time.
	ErrAbortTimeout = errors.New("work package abort timed out")
)

// Coordinator errors - public API errors returned by the Coordinator.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTokenStoreRequired is returned when the token store is nil.
	ErrTokenStoreRequired = errors.New("token store is required")

	// ErrEventSourceRequired is returned when the event source is nil.
	ErrEventSourceRequired = errors.New("event source is required")

	// ErrHandlerRequired is returned when the event handler is nil.
	ErrHandlerRequired = errors.New("event handler is required")

	// ErrAlreadyStarted is returned when Start is called on a running coordinator.
	ErrAlreadyStarted = errors.New("coordinator already started")

	// ErrNotStarted is returned when operations require a started coordinator.
	ErrNotStarted = errors.New("coordinator not started")
)

// Common errors - shared across components.
var (
	// ErrConnectivity indicates a NATS/KV connectivity issue.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// This function handles NATS-specific "no keys found" errors which may come as:
//   - Direct error: "nats: no keys found"
//   - Wrapped error: "failed to list KV keys: nats: no keys found"
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}
