package types

import (
	"context"
	"time"
)

// Event is one entry of the ordered event stream.
type Event struct {
	// Token is the position of this event; a token covering it means the event was read.
	Token TrackingToken

	// PartitionKey routes the event to exactly one segment.
	PartitionKey string

	// Payload is the opaque serialized event body.
	Payload []byte

	// Timestamp is when the event was appended to the stream.
	Timestamp time.Time

	// Replay is set when the event is delivered again after a token reset.
	Replay bool
}

// EventSource reads the ordered event stream.
//
// Implementations must return events in stream order. A call returns a finite
// batch; callers resume by calling again with a later token.
type EventSource interface {
	// ReadEvents returns up to max events positioned after from.
	//
	// Sources may return events of other segments; callers filter with
	// Segment.Matches. An empty batch means the caller reached the head.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - from: Token whose covered events are skipped (nil reads from the start)
	//   - segment: Segment the caller processes, usable as a filter hint
	//   - max: Maximum number of events to return
	//
	// Returns:
	//   - []Event: Events in stream order
	//   - error: Read failure (callers retry with backoff)
	ReadEvents(ctx context.Context, from TrackingToken, segment Segment, max int) ([]Event, error)
}

// HeadTokenSource is implemented by sources that can report the current head.
//
// The coordinator uses it to initialize new processors at the latest position.
type HeadTokenSource interface {
	HeadToken(ctx context.Context) (TrackingToken, error)
}

// EventHandler processes events for one segment.
//
// Handle is invoked at least once per event and sequentially within a segment.
// It must tolerate re-delivery of an event after a crash.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// ErrorHandler decides what happens when an EventHandler fails.
//
// Returning nil skips the event and continues; returning an error halts the
// work package with that error wrapped in ErrHandlerFailure.
type ErrorHandler func(ctx context.Context, segment Segment, event Event, err error) error

// HaltOnError is the default ErrorHandler. It halts the work package.
func HaltOnError(_ context.Context, _ Segment, _ Event, err error) error {
	return err
}
