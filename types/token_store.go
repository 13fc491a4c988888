package types

import "context"

// TokenStore persists tracking tokens and arbitrates segment claims.
//
// The store is the only state shared across processes. Every write is checked
// against the caller's claim, so a process that lost its claim to a takeover
// can no longer advance the token. Implementations must be safe for
// concurrent use by goroutines of one process and by other processes.
//
// Each store instance claims under a single owner identity (see Owner).
type TokenStore interface {
	// FetchToken claims the segment for this owner and returns its stored token.
	//
	// Re-claiming a segment this owner already holds refreshes the claim. A
	// claim held by another owner is taken over once it is older than the
	// store's claim timeout.
	//
	// Returns:
	//   - TrackingToken: Stored token (nil when the segment has not processed anything)
	//   - error: ErrUnableToClaim if another live owner holds the claim,
	//     ErrSegmentNotFound if no entry exists, ErrStoreUnavailable on backend failure
	FetchToken(ctx context.Context, processor string, segmentID int) (TrackingToken, error)

	// StoreToken persists a new token for a segment owned by this owner.
	//
	// Returns:
	//   - error: ErrUnableToClaim if this owner does not hold the claim
	StoreToken(ctx context.Context, token TrackingToken, processor string, segmentID int) error

	// ExtendClaim refreshes the claim timestamp without changing the token.
	//
	// Returns:
	//   - error: ErrUnableToClaim if this owner does not hold the claim
	ExtendClaim(ctx context.Context, processor string, segmentID int) error

	// ReleaseClaim gives up the claim. It is a no-op when this owner does not hold it.
	ReleaseClaim(ctx context.Context, processor string, segmentID int) error

	// InitializeSegment creates an unclaimed entry with an initial token.
	//
	// Returns:
	//   - error: ErrSegmentExists if the entry already exists
	InitializeSegment(ctx context.Context, token TrackingToken, processor string, segmentID int) error

	// DeleteToken removes the entry of a segment owned by this owner.
	//
	// Returns:
	//   - error: ErrUnableToClaim if this owner does not hold the claim,
	//     ErrSegmentNotFound if no entry exists
	DeleteToken(ctx context.Context, processor string, segmentID int) error

	// FetchSegments returns the IDs of all persisted segments, sorted ascending.
	FetchSegments(ctx context.Context, processor string) ([]int, error)

	// FetchAvailableSegments returns the segments this owner could claim now:
	// unclaimed, stale, or already owned by this owner.
	FetchAvailableSegments(ctx context.Context, processor string) ([]Segment, error)

	// Owner returns the identity this store claims segments under.
	Owner() string
}

// SegmentWatcher is implemented by stores that can signal layout changes.
//
// The channel receives a value whenever an entry of the processor is created,
// deleted, or released, and is closed when ctx is done.
type SegmentWatcher interface {
	WatchSegments(ctx context.Context, processor string) (<-chan struct{}, error)
}
