package segpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/segpool/types"
)

func activeStatus(id, mask int, pos int64) TrackerStatus {
	st := TrackerStatus{
		Segment: Segment{ID: id, Mask: mask},
		State:   WorkPackageActive,
	}
	if pos >= 0 {
		st.Token = types.GlobalSequenceToken{Index: pos}
	}

	return st
}

func TestLagPolicy_SegmentsToSplit(t *testing.T) {
	t.Parallel()

	head := types.GlobalSequenceToken{Index: 1000}

	tests := []struct {
		name   string
		policy LagPolicy
		view   BalanceView
		want   []int
	}{
		{
			name:   "no capacity",
			policy: LagPolicy{MinLag: 10},
			view:   BalanceView{Owned: []TrackerStatus{activeStatus(0, 0, 0)}, Head: head},
			want:   nil,
		},
		{
			name:   "unknown head",
			policy: LagPolicy{MinLag: 10},
			view:   BalanceView{Owned: []TrackerStatus{activeStatus(0, 0, 0)}, Capacity: 4},
			want:   nil,
		},
		{
			name:   "below threshold",
			policy: LagPolicy{MinLag: 500},
			view:   BalanceView{Owned: []TrackerStatus{activeStatus(0, 0, 900)}, Head: head, Capacity: 4},
			want:   []int{},
		},
		{
			name:   "largest lag first, one per pass by default",
			policy: LagPolicy{MinLag: 100},
			view: BalanceView{
				Owned:    []TrackerStatus{activeStatus(0, 1, 700), activeStatus(1, 1, 200)},
				Head:     head,
				Capacity: 4,
			},
			want: []int{1},
		},
		{
			name:   "ties broken by segment ID",
			policy: LagPolicy{MinLag: 100, MaxSplitsPerPass: 3},
			view: BalanceView{
				Owned:    []TrackerStatus{activeStatus(3, 3, 500), activeStatus(1, 3, 500), activeStatus(2, 3, 100)},
				Head:     head,
				Capacity: 4,
			},
			want: []int{1, 3, 2},
		},
		{
			name:   "capped by capacity",
			policy: LagPolicy{MinLag: 1, MaxSplitsPerPass: 5},
			view: BalanceView{
				Owned:    []TrackerStatus{activeStatus(0, 1, 10), activeStatus(1, 1, 20)},
				Head:     head,
				Capacity: 1,
			},
			want: []int{0},
		},
		{
			name:   "nil token counts from the start of the stream",
			policy: LagPolicy{MinLag: 1000},
			view:   BalanceView{Owned: []TrackerStatus{activeStatus(0, 0, -1)}, Head: head, Capacity: 1},
			want:   []int{0},
		},
		{
			name:   "skips caught up, inactive and unsplittable segments",
			policy: LagPolicy{MinLag: 1, MaxSplitsPerPass: 5},
			view: BalanceView{
				Owned: func() []TrackerStatus {
					caughtUp := activeStatus(0, 3, 0)
					caughtUp.CaughtUp = true
					aborting := activeStatus(1, 3, 0)
					aborting.State = WorkPackageAborting
					full := activeStatus(2, MaxMask, 0)

					return []TrackerStatus{caughtUp, aborting, full, activeStatus(3, 3, 0)}
				}(),
				Head:     head,
				Capacity: 5,
			},
			want: []int{3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.policy.SegmentsToSplit(tt.view)
			if tt.want == nil {
				require.Nil(t, got)
				return
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestBalanceFunc(t *testing.T) {
	t.Parallel()

	var seen BalanceView
	policy := BalanceFunc(func(view BalanceView) []int {
		seen = view
		return []int{7}
	})

	view := BalanceView{Capacity: 3}
	require.Equal(t, []int{7}, policy.SegmentsToSplit(view))
	require.Equal(t, 3, seen.Capacity)
}
