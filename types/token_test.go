package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func global(i int64) GlobalSequenceToken {
	return GlobalSequenceToken{Index: i}
}

func TestGlobalSequenceToken(t *testing.T) {
	t.Parallel()

	require.True(t, global(5).Covers(nil))
	require.True(t, global(5).Covers(global(5)))
	require.True(t, global(5).Covers(global(4)))
	require.False(t, global(5).Covers(global(6)))

	require.Equal(t, global(7), global(5).UpperBound(global(7)))
	require.Equal(t, global(5), global(5).UpperBound(nil))
	require.Equal(t, global(5), global(5).LowerBound(global(7)))
	require.Nil(t, global(5).LowerBound(nil))

	pos, ok := global(9).Position()
	require.True(t, ok)
	require.Equal(t, int64(9), pos)
}

func TestNilTolerantHelpers(t *testing.T) {
	t.Parallel()

	require.True(t, Covers(nil, nil))
	require.False(t, Covers(nil, global(0)))
	require.Equal(t, TrackingToken(global(3)), UpperBound(nil, global(3)))
	require.Equal(t, TrackingToken(global(3)), UpperBound(global(3), nil))
	require.Nil(t, LowerBound(nil, global(3)))
	require.True(t, TokensEqual(nil, nil))
	require.False(t, TokensEqual(nil, global(1)))
	require.True(t, TokensEqual(global(1), global(1)))

	_, ok := PositionOf(nil)
	require.False(t, ok)
}

func TestMerged_CollapsesEqualHalves(t *testing.T) {
	t.Parallel()

	require.Equal(t, TrackingToken(global(4)), Merged(global(4), global(4)))
	require.Nil(t, Merged(nil, nil))

	m := Merged(global(2), global(8))
	require.IsType(t, MergedToken{}, m)
}

func TestMergedToken_Covers(t *testing.T) {
	t.Parallel()

	m := MergedToken{LowerSegment: global(2), UpperSegment: global(8)}

	require.True(t, m.Covers(global(2)))
	require.False(t, m.Covers(global(3)), "lower half has not reached 3")
	require.True(t, m.Covers(MergedToken{LowerSegment: global(1), UpperSegment: global(8)}))
	require.False(t, m.Covers(MergedToken{LowerSegment: global(1), UpperSegment: global(9)}))

	require.True(t, global(8).Covers(m))
	require.False(t, global(7).Covers(m))

	pos, ok := m.Position()
	require.True(t, ok)
	require.Equal(t, int64(2), pos)
}

func TestMergedToken_AdvancedToCollapses(t *testing.T) {
	t.Parallel()

	m := MergedToken{LowerSegment: global(2), UpperSegment: global(5)}

	next := m.AdvancedTo(global(3))
	require.Equal(t, MergedToken{LowerSegment: global(3), UpperSegment: global(5)}, next)

	next = next.(MergedToken).AdvancedTo(global(5))
	require.Equal(t, TrackingToken(global(5)), next)
}

func TestMergedToken_Bounds(t *testing.T) {
	t.Parallel()

	m := MergedToken{LowerSegment: global(2), UpperSegment: global(5)}

	require.Equal(t, MergedToken{LowerSegment: global(4), UpperSegment: global(5)}, m.UpperBound(global(4)))
	require.Equal(t, TrackingToken(global(6)), m.UpperBound(global(6)))
	require.Equal(t, TrackingToken(global(1)), m.LowerBound(global(1)))
	require.Equal(t, MergedToken{LowerSegment: global(2), UpperSegment: global(4)}, m.LowerBound(global(4)))
	require.Equal(t, MergedToken{LowerSegment: global(3), UpperSegment: global(5)}, global(3).UpperBound(m))
}

func TestMergedToken_NilHalf(t *testing.T) {
	t.Parallel()

	m := MergedToken{LowerSegment: nil, UpperSegment: global(5)}
	require.False(t, m.Covers(global(1)))
	require.True(t, m.Covers(nil))

	_, ok := m.Position()
	require.False(t, ok)

	require.Equal(t, MergedToken{LowerSegment: global(1), UpperSegment: global(5)}, m.AdvancedTo(global(1)))
}

func TestNewReplayToken(t *testing.T) {
	t.Parallel()

	require.Equal(t, TrackingToken(global(3)), NewReplayToken(nil, global(3)))
	require.Equal(t, TrackingToken(global(10)), NewReplayToken(global(5), global(10)))

	r := NewReplayToken(global(10), nil)
	require.Equal(t, ReplayToken{TokenAtReset: global(10), Current: nil}, r)

	// Resetting a replay keeps the original reset point.
	again := NewReplayToken(ReplayToken{TokenAtReset: global(10), Current: global(4)}, global(1))
	require.Equal(t, ReplayToken{TokenAtReset: global(10), Current: global(1)}, again)
}

func TestReplayToken_AdvancedTo(t *testing.T) {
	t.Parallel()

	r := ReplayToken{TokenAtReset: global(3), Current: nil}

	next := r.AdvancedTo(global(1))
	require.Equal(t, ReplayToken{TokenAtReset: global(3), Current: global(1)}, next)
	require.True(t, r.IsReplay(global(3)))
	require.False(t, r.IsReplay(global(4)))

	next = next.(ReplayToken).AdvancedTo(global(3))
	require.IsType(t, ReplayToken{}, next, "event at reset position is still a replay")

	next = next.(ReplayToken).AdvancedTo(global(4))
	require.Equal(t, TrackingToken(global(4)), next)
}

func TestReplayToken_CoversUsesCurrent(t *testing.T) {
	t.Parallel()

	r := ReplayToken{TokenAtReset: global(10), Current: global(4)}
	require.True(t, r.Covers(global(4)))
	require.False(t, r.Covers(global(5)))
	require.True(t, r.Covers(ReplayToken{TokenAtReset: global(10), Current: global(2)}))
	require.True(t, global(4).Covers(r))

	pos, ok := r.Position()
	require.True(t, ok)
	require.Equal(t, int64(4), pos)

	require.Equal(t, TrackingToken(global(4)), Unwrap(r))
	require.Equal(t, TrackingToken(global(4)), Unwrap(global(4)))
}

func TestReplayToken_Bounds(t *testing.T) {
	t.Parallel()

	r := ReplayToken{TokenAtReset: global(10), Current: global(4)}

	require.Equal(t, ReplayToken{TokenAtReset: global(10), Current: global(6)}, r.UpperBound(global(6)))
	require.Equal(t, TrackingToken(global(12)), r.UpperBound(global(12)))
	require.Equal(t, ReplayToken{TokenAtReset: global(10), Current: global(2)}, r.LowerBound(global(2)))
}

func TestTokenCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	tokens := []TrackingToken{
		nil,
		global(0),
		global(42),
		MergedToken{LowerSegment: global(1), UpperSegment: global(9)},
		MergedToken{LowerSegment: nil, UpperSegment: global(9)},
		ReplayToken{TokenAtReset: global(10), Current: nil},
		ReplayToken{TokenAtReset: global(10), Current: MergedToken{LowerSegment: global(3), UpperSegment: global(5)}},
	}

	for _, tok := range tokens {
		data, err := MarshalToken(tok)
		require.NoError(t, err)

		got, err := UnmarshalToken(data)
		require.NoError(t, err)
		require.Equal(t, tok, got, "round trip of %s", string(data))
	}
}

func TestTokenCodec_Format(t *testing.T) {
	t.Parallel()

	data, err := MarshalToken(global(5))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"global","index":5}`, string(data))

	data, err = MarshalToken(nil)
	require.NoError(t, err)
	require.Equal(t, "null", string(data))

	tok, err := UnmarshalToken(nil)
	require.NoError(t, err)
	require.Nil(t, tok)
}

type customToken struct{}

func (customToken) Covers(TrackingToken) bool                { return false }
func (c customToken) UpperBound(TrackingToken) TrackingToken { return c }
func (c customToken) LowerBound(TrackingToken) TrackingToken { return c }
func (customToken) Position() (int64, bool)                  { return 0, false }

func TestTokenCodec_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := MarshalToken(customToken{})
	require.ErrorIs(t, err, ErrUnsupportedToken)

	_, err = UnmarshalToken([]byte(`{"type":"vector"}`))
	require.ErrorIs(t, err, ErrUnsupportedToken)

	_, err = UnmarshalToken([]byte(`{not json`))
	require.Error(t, err)
}
