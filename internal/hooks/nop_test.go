package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/segpool/types"
)

func TestNewNop(t *testing.T) {
	t.Parallel()

	h := NewNop()
	ctx := context.Background()

	require.NoError(t, h.OnSegmentClaimed(ctx, types.RootSegment))
	require.NoError(t, h.OnSegmentReleased(ctx, types.RootSegment, errors.New("x")))
	require.NoError(t, h.OnStateChanged(ctx, types.StateInit, types.StateStarting))
	require.NoError(t, h.OnError(ctx, errors.New("x")))
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	called := false
	custom := &types.Hooks{
		OnSegmentClaimed: func(context.Context, types.Segment) error {
			called = true
			return nil
		},
	}

	h := WithDefaults(custom)
	require.NoError(t, h.OnSegmentClaimed(context.Background(), types.RootSegment))
	require.True(t, called)
	require.NotNil(t, h.OnSegmentReleased)
	require.NotNil(t, h.OnStateChanged)
	require.NotNil(t, h.OnError)

	h = WithDefaults(nil)
	require.NoError(t, h.OnError(context.Background(), errors.New("x")))
}
