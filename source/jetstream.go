package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/segpool/internal/natsutil"
	"github.com/arloliu/segpool/types"
)

// PartitionKeyHeader carries the routing key of a stream message.
const PartitionKeyHeader = "Segpool-Partition-Key"

// JetStream reads events from a JetStream stream.
//
// The stream sequence is the event position: the event stored at sequence s
// has token GlobalSequenceToken{Index: s}. Messages are fetched directly by
// sequence, so no consumer state is kept on the server.
type JetStream struct {
	stream  jetstream.Stream
	subject string
}

var (
	_ types.EventSource     = (*JetStream)(nil)
	_ types.HeadTokenSource = (*JetStream)(nil)
)

// NewJetStream creates a source over stream.
//
// Parameters:
//   - stream: Stream holding the events
//   - subject: Subject filter (empty or ">" reads every subject of the stream)
//
// Example:
//
//	stream, _ := js.Stream(ctx, "ORDERS")
//	src := source.NewJetStream(stream, "orders.>")
func NewJetStream(stream jetstream.Stream, subject string) *JetStream {
	if subject == "" {
		subject = ">"
	}

	return &JetStream{stream: stream, subject: subject}
}

// ReadEvents implements types.EventSource.
func (s *JetStream) ReadEvents(ctx context.Context, from types.TrackingToken, _ types.Segment, max int) ([]types.Event, error) {
	seq := uint64(1)
	if pos, ok := types.PositionOf(from); ok {
		seq = uint64(pos) + 1 //nolint:gosec // stream positions are non-negative
	}

	events := make([]types.Event, 0, max)
	for len(events) < max {
		msg, err := s.stream.GetMsg(ctx, seq, jetstream.WithGetMsgSubject(s.subject))
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			break
		}
		if err != nil {
			if natsutil.IsConnectivityError(err) {
				return events, fmt.Errorf("read stream at %d: %w: %w", seq, types.ErrConnectivity, err)
			}

			return events, fmt.Errorf("read stream at %d: %w", seq, err)
		}

		events = append(events, toEvent(msg))
		seq = msg.Sequence + 1
	}

	return events, nil
}

// HeadToken implements types.HeadTokenSource. It returns nil for an empty stream.
func (s *JetStream) HeadToken(ctx context.Context) (types.TrackingToken, error) {
	info, err := s.stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream info: %w", err)
	}
	if info.State.Msgs == 0 {
		return nil, nil
	}

	return types.GlobalSequenceToken{Index: int64(info.State.LastSeq)}, nil //nolint:gosec // sequence fits int64
}

func toEvent(msg *jetstream.RawStreamMsg) types.Event {
	return types.Event{
		Token:        types.GlobalSequenceToken{Index: int64(msg.Sequence)}, //nolint:gosec // sequence fits int64
		PartitionKey: msg.Header.Get(PartitionKeyHeader),
		Payload:      msg.Data,
		Timestamp:    msg.Time,
	}
}

// Publish appends an event to the stream through js.
//
// Returns:
//   - types.GlobalSequenceToken: Position the event was stored at
//   - error: Publish failure
func Publish(ctx context.Context, js jetstream.JetStream, subject, partitionKey string, payload []byte) (types.GlobalSequenceToken, error) {
	msg := nats.NewMsg(subject)
	msg.Header.Set(PartitionKeyHeader, partitionKey)
	msg.Data = payload

	ack, err := js.PublishMsg(ctx, msg)
	if err != nil {
		return types.GlobalSequenceToken{}, fmt.Errorf("publish to %s: %w", subject, err)
	}

	return types.GlobalSequenceToken{Index: int64(ack.Sequence)}, nil //nolint:gosec // sequence fits int64
}
