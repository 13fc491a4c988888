package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackerStatusSplit_PlainToken(t *testing.T) {
	t.Parallel()

	status := TrackerStatus{Segment: RootSegment, Token: global(7), CaughtUp: true, Owner: "node-a"}

	a, b, err := status.Split()
	require.NoError(t, err)

	require.Equal(t, Segment{ID: 0, Mask: 1}, a.Segment)
	require.Equal(t, Segment{ID: 1, Mask: 1}, b.Segment)
	require.Equal(t, TrackingToken(global(7)), a.Token)
	require.Equal(t, TrackingToken(global(7)), b.Token)
	require.True(t, a.CaughtUp)
	require.Equal(t, "node-a", b.Owner)
}

func TestTrackerStatusSplit_MergedTokenHandsHalvesToChildren(t *testing.T) {
	t.Parallel()

	status := TrackerStatus{
		Segment: Segment{ID: 1, Mask: 1},
		Token:   MergedToken{LowerSegment: global(2), UpperSegment: global(6)},
	}

	a, b, err := status.Split()
	require.NoError(t, err)

	require.Equal(t, Segment{ID: 1, Mask: 3}, a.Segment)
	require.Equal(t, TrackingToken(global(2)), a.Token)
	require.Equal(t, Segment{ID: 3, Mask: 3}, b.Segment)
	require.Equal(t, TrackingToken(global(6)), b.Token)
}

func TestTrackerStatusSplit_ReplayTokenStaysReplay(t *testing.T) {
	t.Parallel()

	status := TrackerStatus{
		Segment: RootSegment,
		Token:   ReplayToken{TokenAtReset: global(10), Current: global(4)},
	}

	a, b, err := status.Split()
	require.NoError(t, err)

	want := ReplayToken{TokenAtReset: global(10), Current: global(4)}
	require.Equal(t, TrackingToken(want), a.Token)
	require.Equal(t, TrackingToken(want), b.Token)
	require.True(t, a.IsReplaying())
}

func TestTrackerStatusSplit_ReplayOfMerged(t *testing.T) {
	t.Parallel()

	status := TrackerStatus{
		Segment: RootSegment,
		Token: ReplayToken{
			TokenAtReset: global(10),
			Current:      MergedToken{LowerSegment: global(3), UpperSegment: global(12)},
		},
	}

	a, b, err := status.Split()
	require.NoError(t, err)

	require.Equal(t, TrackingToken(ReplayToken{TokenAtReset: global(10), Current: global(3)}), a.Token)
	require.Equal(t, TrackingToken(global(12)), b.Token, "upper half already passed the reset point")
}

func TestTrackerStatusSplit_NotSplittable(t *testing.T) {
	t.Parallel()

	_, _, err := TrackerStatus{Segment: Segment{ID: 0, Mask: MaxMask}}.Split()
	require.ErrorIs(t, err, ErrSegmentNotSplittable)
}

func TestTrackerStatusFlags(t *testing.T) {
	t.Parallel()

	s := TrackerStatus{Token: MergedToken{LowerSegment: global(1), UpperSegment: global(2)}}
	require.True(t, s.IsMerging())
	require.False(t, s.IsReplaying())
	require.False(t, s.IsErrorState())

	s = TrackerStatus{Token: ReplayToken{TokenAtReset: global(5), Current: MergedToken{LowerSegment: global(1), UpperSegment: global(2)}}}
	require.True(t, s.IsMerging())
	require.True(t, s.IsReplaying())

	s = TrackerStatus{Token: global(8), Error: errors.New("boom")}
	require.True(t, s.IsErrorState())
	pos, ok := s.CurrentPosition()
	require.True(t, ok)
	require.Equal(t, int64(8), pos)
}

func TestTrackerStatusJSON(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := TrackerStatus{
		Segment:   Segment{ID: 2, Mask: 3},
		Token:     MergedToken{LowerSegment: global(4), UpperSegment: global(9)},
		CaughtUp:  true,
		State:     WorkPackageActive,
		Owner:     "node-1",
		Error:     errors.New("store timeout"),
		UpdatedAt: now,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out TrackerStatus
	require.NoError(t, json.Unmarshal(data, &out))

	require.Equal(t, in.Segment, out.Segment)
	require.Equal(t, in.Token, out.Token)
	require.Equal(t, in.State, out.State)
	require.Equal(t, in.Owner, out.Owner)
	require.True(t, out.CaughtUp)
	require.EqualError(t, out.Error, "store timeout")
	require.True(t, now.Equal(out.UpdatedAt))
}
