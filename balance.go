package segpool

import (
	"cmp"
	"slices"
)

// BalanceView is what a BalancePolicy sees after a reconcile pass.
type BalanceView struct {
	// Owned holds the status of every work package this process runs.
	Owned []TrackerStatus

	// Head is the newest position of the stream, nil if the source cannot tell.
	Head TrackingToken

	// Capacity is how many more segments this process may claim.
	Capacity int
}

// BalancePolicy picks segments the coordinator should split.
//
// Policies are called on the coordination goroutine and must not block.
type BalancePolicy interface {
	// SegmentsToSplit returns the IDs of owned segments to split, most urgent first.
	SegmentsToSplit(view BalanceView) []int
}

// BalanceFunc adapts a function to BalancePolicy.
type BalanceFunc func(view BalanceView) []int

// SegmentsToSplit calls f(view).
func (f BalanceFunc) SegmentsToSplit(view BalanceView) []int {
	return f(view)
}

// LagPolicy splits segments that trail the head of the stream.
//
// A segment qualifies when it is active, has not caught up, and its position
// is at least MinLag events behind Head. Splitting only happens while the
// process has spare capacity, so the new half can be claimed right away.
type LagPolicy struct {
	// MinLag is the distance to the head that makes a segment a split candidate.
	MinLag int64

	// MaxSplitsPerPass caps splits per reconcile pass (0 means 1).
	MaxSplitsPerPass int
}

var _ BalancePolicy = LagPolicy{}

// SegmentsToSplit implements BalancePolicy.
//
// Returns:
//   - []int: Segment IDs ordered by descending lag, at most
//     min(MaxSplitsPerPass, Capacity) of them
func (p LagPolicy) SegmentsToSplit(view BalanceView) []int {
	if view.Capacity <= 0 || view.Head == nil {
		return nil
	}
	head, ok := view.Head.Position()
	if !ok {
		return nil
	}

	type candidate struct {
		id  int
		lag int64
	}
	var candidates []candidate
	for _, st := range view.Owned {
		if st.CaughtUp || st.State != WorkPackageActive || st.Segment.Mask == MaxMask {
			continue
		}
		pos, ok := st.CurrentPosition()
		if !ok {
			pos = -1
		}
		if lag := head - pos; lag >= p.MinLag {
			candidates = append(candidates, candidate{id: st.Segment.ID, lag: lag})
		}
	}

	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(b.lag, a.lag); c != 0 {
			return c
		}

		return cmp.Compare(a.id, b.id)
	})

	limit := max(p.MaxSplitsPerPass, 1)
	limit = min(limit, view.Capacity, len(candidates))
	ids := make([]int, 0, limit)
	for _, c := range candidates[:limit] {
		ids = append(ids, c.id)
	}

	return ids
}
