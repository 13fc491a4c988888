package segpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/segpool/internal/statuspub"
	"github.com/arloliu/segpool/internal/task"
	"github.com/arloliu/segpool/types"
)

// ProcessStatus is the published status of one process of a processor group.
type ProcessStatus = statuspub.Snapshot

// Split splits a segment directly against the token store.
//
// It is meant for operator tooling: the segment must not be claimed by a
// live process, otherwise the call fails with ErrUnableToClaim. Running
// coordinators pick up the new layout on their next reconcile pass.
//
// Parameters:
//   - ctx: Context for the store calls
//   - store: Token store holding the processor's segments
//   - processor: Processor group name
//   - segmentID: Segment to split
//   - opts: WithLogger and WithMetrics are honoured
//
// Returns:
//   - bool: true when the segment was split
//   - error: ErrSegmentNotFound, ErrSegmentNotSplittable, ErrUnableToClaim, or a store failure
func Split(ctx context.Context, store TokenStore, processor string, segmentID int, opts ...Option) (bool, error) {
	return runStandalone(ctx, store, processor, task.NewSplit(segmentID), opts)
}

// Merge merges a segment with its sibling directly against the token store.
//
// Returns:
//   - bool: false when the segment is the root or the sibling is split further
//   - error: ErrSegmentNotFound, ErrUnableToClaim, or a store failure
func Merge(ctx context.Context, store TokenStore, processor string, segmentID int, opts ...Option) (bool, error) {
	return runStandalone(ctx, store, processor, task.NewMerge(segmentID), opts)
}

// Release gives up the claim the store's owner holds on a segment.
//
// Useful to free segments of a process that shut down without releasing
// them, by opening the store with that process's owner identity.
func Release(ctx context.Context, store TokenStore, processor string, segmentID int, opts ...Option) (bool, error) {
	return runStandalone(ctx, store, processor, task.NewRelease(segmentID, time.Time{}), opts)
}

func runStandalone(ctx context.Context, store TokenStore, processor string, t task.Task, opts []Option) (bool, error) {
	if store == nil {
		return false, ErrTokenStoreRequired
	}

	options := &coordinatorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	d := &task.Dispatcher{
		Processor: processor,
		Store:     store,
		Logger:    options.logger,
		Metrics:   options.metrics,
	}
	d.Run(ctx, t)

	return t.Result.Wait(ctx)
}

// ResetTokens rewinds every segment of a processor to start.
//
// All segments are claimed first; if any claim fails, the claims taken so far
// are released and nothing is changed. Each token is then replaced by a
// replay token, so handlers see re-delivered events flagged with Event.Replay
// until the previous progress is reached again.
//
// No process may be running the processor while tokens are reset.
//
// Parameters:
//   - ctx: Context for the store calls
//   - store: Token store holding the processor's segments
//   - processor: Processor group name
//   - start: Position to replay from (nil replays the whole stream)
//
// Returns:
//   - error: ErrUnableToClaim if a segment is claimed, or a store failure
func ResetTokens(ctx context.Context, store TokenStore, processor string, start TrackingToken) error {
	if store == nil {
		return ErrTokenStoreRequired
	}

	ids, err := store.FetchSegments(ctx, processor)
	if err != nil {
		return fmt.Errorf("fetch segments: %w", err)
	}

	current := make(map[int]TrackingToken, len(ids))
	releaseAll := func() {
		for id := range current {
			_ = store.ReleaseClaim(ctx, processor, id)
		}
	}

	for _, id := range ids {
		token, err := store.FetchToken(ctx, processor, id)
		if err != nil {
			releaseAll()
			return fmt.Errorf("claim segment %d: %w", id, err)
		}
		current[id] = token
	}

	for _, id := range ids {
		reset := types.NewReplayToken(current[id], start)
		if err := store.StoreToken(ctx, reset, processor, id); err != nil {
			releaseAll()
			return fmt.Errorf("reset segment %d: %w", id, err)
		}
	}

	var errs []error
	for _, id := range ids {
		if err := store.ReleaseClaim(ctx, processor, id); err != nil {
			errs = append(errs, fmt.Errorf("release segment %d: %w", id, err))
		}
	}

	return errors.Join(errs...)
}

// InitializeSegments creates count evenly sized segments for a processor.
//
// Segments that already exist are left untouched, so concurrent callers
// converge on the same layout.
//
// Parameters:
//   - ctx: Context for the store calls
//   - store: Token store
//   - processor: Processor group name
//   - count: Number of segments (1 creates only the root segment)
//   - initial: Token every new segment starts from (nil for the start of the stream)
//
// Returns:
//   - error: ErrInvalidConfig for count < 1, or a store failure
func InitializeSegments(ctx context.Context, store TokenStore, processor string, count int, initial TrackingToken) error {
	if store == nil {
		return ErrTokenStoreRequired
	}
	if count < 1 {
		return fmt.Errorf("%w: segment count must be >= 1, got %d", ErrInvalidConfig, count)
	}

	for _, seg := range types.SplitBalanced(count) {
		err := store.InitializeSegment(ctx, initial, processor, seg.ID)
		if err != nil && !errors.Is(err, ErrSegmentExists) {
			return fmt.Errorf("initialize segment %s: %w", seg, err)
		}
	}

	return nil
}

// InitialToken returns the token new segments start from.
//
// Parameters:
//   - ctx: Context for the head lookup
//   - source: Event source; must implement HeadTokenSource for "latest"
//   - position: PositionEarliest or PositionLatest
//
// Returns:
//   - TrackingToken: nil for earliest, the current head for latest
//   - error: ErrInvalidConfig for an unknown position or a source without a head
func InitialToken(ctx context.Context, source EventSource, position string) (TrackingToken, error) {
	switch position {
	case "", PositionEarliest:
		return nil, nil
	case PositionLatest:
		head, ok := source.(HeadTokenSource)
		if !ok {
			return nil, fmt.Errorf("%w: event source cannot report its head for %q", ErrInvalidConfig, PositionLatest)
		}
		token, err := head.HeadToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("read head token: %w", err)
		}

		return token, nil
	default:
		return nil, fmt.Errorf("%w: unknown initial position %q", ErrInvalidConfig, position)
	}
}

// FleetStatus reads the status every running process of a processor group
// published to the status bucket.
//
// Returns:
//   - []ProcessStatus: One entry per live process, sorted by owner
//   - error: Bucket read failure
func FleetStatus(ctx context.Context, kv jetstream.KeyValue, processor string) ([]ProcessStatus, error) {
	return statuspub.Read(ctx, kv, processor)
}
