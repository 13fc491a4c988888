package source

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/segpool/types"
)

// Memory is an in-process append-only event log.
//
// Event positions start at 0 and increase by one per appended event.
type Memory struct {
	mu     sync.RWMutex
	events []types.Event
	now    func() time.Time
}

var (
	_ types.EventSource     = (*Memory)(nil)
	_ types.HeadTokenSource = (*Memory)(nil)
)

// NewMemory creates an empty event log.
//
// Example:
//
//	src := source.NewMemory()
//	src.Append("order-17", payload)
//	coord, err := segpool.NewCoordinator(&cfg, store, src, handler)
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// Append adds an event to the end of the log and returns its token.
func (m *Memory) Append(partitionKey string, payload []byte) types.GlobalSequenceToken {
	m.mu.Lock()
	defer m.mu.Unlock()

	token := types.GlobalSequenceToken{Index: int64(len(m.events))}
	m.events = append(m.events, types.Event{
		Token:        token,
		PartitionKey: partitionKey,
		Payload:      payload,
		Timestamp:    m.now(),
	})

	return token
}

// AppendKeys appends one event with an empty payload per key.
func (m *Memory) AppendKeys(keys ...string) {
	for _, k := range keys {
		m.Append(k, nil)
	}
}

// Len returns the number of events in the log.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.events)
}

// ReadEvents implements types.EventSource.
//
// The returned slice is a copy; callers may modify it.
func (m *Memory) ReadEvents(ctx context.Context, from types.TrackingToken, _ types.Segment, max int) ([]types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := int64(0)
	if pos, ok := types.PositionOf(from); ok {
		start = pos + 1
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if start >= int64(len(m.events)) || max <= 0 {
		return nil, nil
	}
	end := min(start+int64(max), int64(len(m.events)))

	out := make([]types.Event, end-start)
	copy(out, m.events[start:end])

	return out, nil
}

// HeadToken implements types.HeadTokenSource. It returns nil for an empty log.
func (m *Memory) HeadToken(context.Context) (types.TrackingToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.events) == 0 {
		return nil, nil
	}

	return types.GlobalSequenceToken{Index: int64(len(m.events) - 1)}, nil
}
