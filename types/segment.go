package types

import (
	"fmt"
	"math/bits"
	"slices"
)

// MaxMask is the widest mask a segment may carry. Split fails with
// ErrSegmentNotSplittable once the child mask would exceed it.
const MaxMask = 1<<31 - 1

// Segment identifies a subset of the partition-key space.
//
// An event whose partition-key hash h satisfies h&Mask == ID belongs to the
// segment. A set of segments produced by splitting RootSegment covers every
// hash exactly once.
type Segment struct {
	// ID is the segment identifier, unique within a processor.
	ID int `json:"id"`

	// Mask selects the low-order hash bits that must equal ID.
	Mask int `json:"mask"`
}

// RootSegment covers the whole partition-key space.
var RootSegment = Segment{ID: 0, Mask: 0}

// String returns "Segment[id/mask]".
func (s Segment) String() string {
	return fmt.Sprintf("Segment[%d/%d]", s.ID, s.Mask)
}

// Matches reports whether a partition-key hash belongs to this segment.
//
// Parameters:
//   - hash: Partition-key hash, usually from a routing.Hasher
//
// Returns:
//   - bool: true if hash&Mask == ID
func (s Segment) Matches(hash uint32) bool {
	return hash&uint32(s.Mask) == uint32(s.ID) //nolint:gosec // mask and id are bounded by MaxMask
}

// Split divides the segment into two children of equal coverage.
//
// The first child keeps the segment ID; the second child's ID adds the bit
// introduced by the wider mask.
//
// Returns:
//   - Segment: Child that keeps the original ID
//   - Segment: Newly numbered child
//   - error: ErrSegmentNotSplittable when the mask cannot grow
//
// Example:
//
//	a, b, _ := types.RootSegment.Split() // Segment[0/1], Segment[1/1]
//	c, d, _ := a.Split()                 // Segment[0/3], Segment[2/3]
func (s Segment) Split() (Segment, Segment, error) {
	if s.Mask > MaxMask>>1 {
		return Segment{}, Segment{}, fmt.Errorf("%w: %s", ErrSegmentNotSplittable, s)
	}

	newMask := s.Mask<<1 | 1

	return Segment{ID: s.ID, Mask: newMask}, Segment{ID: s.ID + s.Mask + 1, Mask: newMask}, nil
}

// MergeableSegmentID returns the ID of the sibling this segment merges with.
//
// The root segment has no sibling and returns its own ID.
func (s Segment) MergeableSegmentID() int {
	if s.Mask == 0 {
		return s.ID
	}

	return s.ID ^ (s.Mask>>1 + 1)
}

// IsMergeableWith reports whether other is this segment's sibling.
func (s Segment) IsMergeableWith(other Segment) bool {
	return s.Mask != 0 && s.Mask == other.Mask && s.MergeableSegmentID() == other.ID
}

// MergedWith returns the parent segment covering both s and other.
//
// Parameters:
//   - other: Sibling segment
//
// Returns:
//   - Segment: Parent segment keeping the lower ID
//   - error: ErrSegmentsNotMergeable if other is not the sibling of s
func (s Segment) MergedWith(other Segment) (Segment, error) {
	if !s.IsMergeableWith(other) {
		return Segment{}, fmt.Errorf("%w: %s and %s", ErrSegmentsNotMergeable, s, other)
	}

	return Segment{ID: min(s.ID, other.ID), Mask: s.Mask >> 1}, nil
}

// Covers reports whether every hash of other also belongs to s.
func (s Segment) Covers(other Segment) bool {
	return s.Mask&other.Mask == s.Mask && other.ID&s.Mask == s.ID
}

// ComputeSegment derives the segment for id from the set of live segment IDs.
//
// The mask is the narrowest all-ones mask that holds id and separates it from
// every other live ID. liveIDs may contain id itself.
//
// Parameters:
//   - id: Segment ID to compute
//   - liveIDs: All segment IDs currently persisted for the processor
//
// Returns:
//   - Segment: The segment as implied by the live layout
func ComputeSegment(id int, liveIDs ...int) Segment {
	mask := 0
	if id > 0 {
		mask = 1<<bits.Len(uint(id)) - 1
	}

	for mask < MaxMask {
		conflict := false
		for _, other := range liveIDs {
			if other != id && other&mask == id {
				conflict = true
				break
			}
		}
		if !conflict {
			break
		}
		mask = mask<<1 | 1
	}

	return Segment{ID: id, Mask: mask}
}

// ComputeSegments derives every live segment from its ID set, sorted by ID.
func ComputeSegments(liveIDs ...int) []Segment {
	ids := slices.Clone(liveIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	segments := make([]Segment, 0, len(ids))
	for _, id := range ids {
		segments = append(segments, ComputeSegment(id, ids...))
	}

	return segments
}

// SplitBalanced produces an initial layout of n segments.
//
// The widest segment (lowest mask, then lowest ID) is split until n segments
// exist, so layouts of a power of two are perfectly even.
//
// Parameters:
//   - n: Desired number of segments (values below 1 yield the root segment)
//
// Returns:
//   - []Segment: Segments sorted by ID
func SplitBalanced(n int) []Segment {
	segments := []Segment{RootSegment}
	for len(segments) < n {
		widest := 0
		for i, seg := range segments {
			if seg.Mask < segments[widest].Mask ||
				(seg.Mask == segments[widest].Mask && seg.ID < segments[widest].ID) {
				widest = i
			}
		}

		a, b, err := segments[widest].Split()
		if err != nil {
			break
		}
		segments[widest] = a
		segments = append(segments, b)
	}

	slices.SortFunc(segments, func(a, b Segment) int { return a.ID - b.ID })

	return segments
}
