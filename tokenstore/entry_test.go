package tokenstore

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/segpool/types"
)

func TestEntryClaimRules(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	timeout := 10 * time.Second

	tests := []struct {
		name      string
		entry     Entry
		claimable bool
		stale     bool
	}{
		{"unowned", Entry{}, true, false},
		{"own claim", Entry{Owner: "me", Timestamp: now}, true, false},
		{"live foreign claim", Entry{Owner: "other", Timestamp: now.Add(-5 * time.Second)}, false, false},
		{"claim at timeout", Entry{Owner: "other", Timestamp: now.Add(-timeout)}, false, false},
		{"stale foreign claim", Entry{Owner: "other", Timestamp: now.Add(-11 * time.Second)}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.claimable, tt.entry.ClaimableBy("me", now, timeout))
			require.Equal(t, tt.stale, tt.entry.IsStale(now, timeout))
		})
	}
}

func TestEntryTransitions(t *testing.T) {
	t.Parallel()

	now := time.Unix(100, 0)
	e := Entry{Token: types.GlobalSequenceToken{Index: 3}}

	claimed := e.Claimed("me", now)
	require.True(t, claimed.OwnedBy("me"))
	require.False(t, claimed.OwnedBy("other"))
	require.False(t, e.OwnedBy(""), "unowned entry is not owned by the empty owner")

	released := claimed.Released(now.Add(time.Second))
	require.Empty(t, released.Owner)
	require.Equal(t, claimed.Token, released.Token)
}

func TestEntryCodec(t *testing.T) {
	t.Parallel()

	in := Entry{
		Token:     types.MergedToken{LowerSegment: types.GlobalSequenceToken{Index: 1}, UpperSegment: types.GlobalSequenceToken{Index: 4}},
		Owner:     "node-1",
		Timestamp: time.UnixMilli(1_700_000_000_123),
	}

	data, err := MarshalEntry(in)
	require.NoError(t, err)

	out, err := UnmarshalEntry(data)
	require.NoError(t, err)
	require.Equal(t, in.Token, out.Token)
	require.Equal(t, in.Owner, out.Owner)
	require.True(t, in.Timestamp.Equal(out.Timestamp))

	empty, err := MarshalEntry(Entry{Timestamp: time.UnixMilli(0)})
	require.NoError(t, err)
	require.JSONEq(t, `{"token":null,"ts":0}`, string(empty))

	_, err = UnmarshalEntry([]byte("{"))
	require.Error(t, err)
}

func TestAvailableSegments(t *testing.T) {
	t.Parallel()

	got := AvailableSegments([]int{0, 1, 2}, []int{1, 2})
	require.Equal(t, []types.Segment{{ID: 1, Mask: 1}, {ID: 2, Mask: 3}}, got)
}

func TestNewOptions(t *testing.T) {
	t.Parallel()

	o := NewOptions()
	require.NotEmpty(t, o.Owner)
	require.Equal(t, DefaultClaimTimeout, o.ClaimTimeout)
	require.NotNil(t, o.Clock)
	require.NotNil(t, o.Logger)

	fixed := time.Unix(5, 0)
	o = NewOptions(WithOwner("a"), WithClaimTimeout(time.Minute), WithClock(func() time.Time { return fixed }))
	require.Equal(t, "a", o.Owner)
	require.Equal(t, time.Minute, o.ClaimTimeout)
	require.Equal(t, fixed, o.Clock())

	o = NewOptions(WithClaimTimeout(-1))
	require.Equal(t, DefaultClaimTimeout, o.ClaimTimeout)
}

func TestDefaultOwner_Unique(t *testing.T) {
	t.Parallel()

	a, b := DefaultOwner(), DefaultOwner()
	require.NotEqual(t, a, b)
	require.True(t, strings.Contains(a, "-"))
}
