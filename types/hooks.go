package types

import "context"

// Hooks defines callbacks for coordinator lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// so they never block the coordination loop. Hooks receive the coordinator's
// lifecycle context, which is cancelled during shutdown.
//
// Hook errors are logged but don't fail coordinator operations. Hooks may run
// concurrently and may not complete before Stop() returns.
//
// Example:
//
//	hooks := &segpool.Hooks{
//	    OnSegmentClaimed: func(ctx context.Context, seg segpool.Segment) error {
//	        log.Printf("now processing %s", seg)
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnSegmentClaimed is called after a work package starts for a segment.
	OnSegmentClaimed func(ctx context.Context, segment Segment) error

	// OnSegmentReleased is called after a work package terminated and released its claim.
	// cause is nil for a graceful release.
	OnSegmentReleased func(ctx context.Context, segment Segment, cause error) error

	// OnStateChanged is called when the coordinator state transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnError is called when a recoverable error occurs.
	OnError func(ctx context.Context, err error) error
}
