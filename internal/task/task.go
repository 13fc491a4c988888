// Package task implements the coordination tasks that restructure segments.
//
// A Task is a tagged value: Kind selects Split, Merge, or Release and the
// remaining fields carry what that kind needs. The Dispatcher executes tasks
// against a token store and the coordinator's registry and resolves each
// task's Result future; task failures never escape the dispatcher.
package task

import (
	"fmt"
	"time"

	"github.com/arloliu/segpool/internal/future"
)

// Kind selects the task variant.
type Kind int

const (
	// KindSplit splits a segment into two.
	KindSplit Kind = iota + 1

	// KindMerge merges a segment with its sibling.
	KindMerge

	// KindRelease stops processing a segment in this process for a while.
	KindRelease
)

// String returns the lower-case kind name used in metrics.
func (k Kind) String() string {
	switch k {
	case KindSplit:
		return "split"
	case KindMerge:
		return "merge"
	case KindRelease:
		return "release"
	default:
		return "unknown"
	}
}

// Task is one coordination request.
type Task struct {
	Kind      Kind
	SegmentID int

	// Until is how long a released segment stays out of this process's claim loop.
	Until time.Time

	// Result resolves with true when the task changed the layout or released
	// the segment, false when there was nothing to do, or an error.
	Result *future.Future[bool]
}

// NewSplit creates a task splitting segmentID.
func NewSplit(segmentID int) Task {
	return Task{Kind: KindSplit, SegmentID: segmentID, Result: future.New[bool]()}
}

// NewMerge creates a task merging segmentID with its sibling.
func NewMerge(segmentID int) Task {
	return Task{Kind: KindMerge, SegmentID: segmentID, Result: future.New[bool]()}
}

// NewRelease creates a task releasing segmentID until the given time.
func NewRelease(segmentID int, until time.Time) Task {
	return Task{Kind: KindRelease, SegmentID: segmentID, Until: until, Result: future.New[bool]()}
}

// Description returns a human-readable summary, e.g. "Split Segment[3]".
func (t Task) Description() string {
	switch t.Kind {
	case KindSplit:
		return fmt.Sprintf("Split Segment[%d]", t.SegmentID)
	case KindMerge:
		return fmt.Sprintf("Merge Segment[%d]", t.SegmentID)
	case KindRelease:
		return fmt.Sprintf("Release Segment[%d] until %s", t.SegmentID, t.Until.Format(time.RFC3339))
	default:
		return fmt.Sprintf("Unknown task for Segment[%d]", t.SegmentID)
	}
}
