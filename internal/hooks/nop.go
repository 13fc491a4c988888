// Package hooks provides default lifecycle hooks for the coordinator.
package hooks

import (
	"context"

	"github.com/arloliu/segpool/types"
)

// NewNop returns Hooks whose callbacks all do nothing.
func NewNop() types.Hooks {
	return types.Hooks{
		OnSegmentClaimed:  func(context.Context, types.Segment) error { return nil },
		OnSegmentReleased: func(context.Context, types.Segment, error) error { return nil },
		OnStateChanged:    func(context.Context, types.State, types.State) error { return nil },
		OnError:           func(context.Context, error) error { return nil },
	}
}

// WithDefaults returns a copy of h where every nil callback is replaced by a no-op,
// so callers can invoke hooks without nil checks.
func WithDefaults(h *types.Hooks) types.Hooks {
	out := NewNop()
	if h == nil {
		return out
	}
	if h.OnSegmentClaimed != nil {
		out.OnSegmentClaimed = h.OnSegmentClaimed
	}
	if h.OnSegmentReleased != nil {
		out.OnSegmentReleased = h.OnSegmentReleased
	}
	if h.OnStateChanged != nil {
		out.OnStateChanged = h.OnStateChanged
	}
	if h.OnError != nil {
		out.OnError = h.OnError
	}

	return out
}
