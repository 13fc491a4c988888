package types

import "fmt"

// TrackingToken marks read progress in the event stream.
//
// A nil TrackingToken means nothing has been processed yet. Implementations
// must be immutable values; every method returns a new token.
type TrackingToken interface {
	// Covers reports whether every event covered by other is also covered by this token.
	Covers(other TrackingToken) bool

	// UpperBound returns the smallest token covering both this token and other.
	UpperBound(other TrackingToken) TrackingToken

	// LowerBound returns the largest token covered by both this token and other.
	LowerBound(other TrackingToken) TrackingToken

	// Position returns the stream position this token has fully reached, if known.
	Position() (int64, bool)
}

// GlobalSequenceToken tracks progress in a stream with one global sequence.
//
// The token covers every event whose index is lower than or equal to Index.
type GlobalSequenceToken struct {
	Index int64
}

// Compile-time assertions that the built-in tokens implement TrackingToken.
var (
	_ TrackingToken = GlobalSequenceToken{}
	_ TrackingToken = MergedToken{}
	_ TrackingToken = ReplayToken{}
)

// String returns "Global(index)".
func (t GlobalSequenceToken) String() string {
	return fmt.Sprintf("Global(%d)", t.Index)
}

// Covers implements TrackingToken.
func (t GlobalSequenceToken) Covers(other TrackingToken) bool {
	switch o := other.(type) {
	case nil:
		return true
	case GlobalSequenceToken:
		return t.Index >= o.Index
	case MergedToken:
		return Covers(t, o.LowerSegment) && Covers(t, o.UpperSegment)
	case ReplayToken:
		return Covers(t, o.Current)
	default:
		pos, ok := other.Position()
		return ok && pos <= t.Index
	}
}

// UpperBound implements TrackingToken.
func (t GlobalSequenceToken) UpperBound(other TrackingToken) TrackingToken {
	switch o := other.(type) {
	case nil:
		return t
	case GlobalSequenceToken:
		if o.Index > t.Index {
			return o
		}

		return t
	default:
		return other.UpperBound(t)
	}
}

// LowerBound implements TrackingToken.
func (t GlobalSequenceToken) LowerBound(other TrackingToken) TrackingToken {
	switch o := other.(type) {
	case nil:
		return nil
	case GlobalSequenceToken:
		if o.Index < t.Index {
			return o
		}

		return t
	default:
		return other.LowerBound(t)
	}
}

// Position implements TrackingToken.
func (t GlobalSequenceToken) Position() (int64, bool) {
	return t.Index, true
}

// MergedToken holds the progress of the two halves of a merged segment.
//
// LowerSegment is the token of the half with the lower segment ID. While the
// halves differ, an event is delivered only if the token of the half it routes
// to does not already cover it. Use Merged to build one so that equal halves
// collapse into a single token.
type MergedToken struct {
	LowerSegment TrackingToken
	UpperSegment TrackingToken
}

// Merged combines the tokens of two merged segment halves.
//
// Parameters:
//   - lower: Token of the half with the lower segment ID
//   - upper: Token of the other half
//
// Returns:
//   - TrackingToken: lower when both halves are equal, a MergedToken otherwise
func Merged(lower, upper TrackingToken) TrackingToken {
	if TokensEqual(lower, upper) {
		return lower
	}

	return MergedToken{LowerSegment: lower, UpperSegment: upper}
}

// String returns "Merged(lower, upper)".
func (t MergedToken) String() string {
	return fmt.Sprintf("Merged(%v, %v)", t.LowerSegment, t.UpperSegment)
}

// Covers implements TrackingToken. Both halves must cover other.
func (t MergedToken) Covers(other TrackingToken) bool {
	if o, ok := other.(MergedToken); ok {
		return Covers(t.LowerSegment, o.LowerSegment) && Covers(t.UpperSegment, o.UpperSegment)
	}

	return Covers(t.LowerSegment, other) && Covers(t.UpperSegment, other)
}

// UpperBound implements TrackingToken.
func (t MergedToken) UpperBound(other TrackingToken) TrackingToken {
	return Merged(UpperBound(t.LowerSegment, other), UpperBound(t.UpperSegment, other))
}

// LowerBound implements TrackingToken.
func (t MergedToken) LowerBound(other TrackingToken) TrackingToken {
	return Merged(LowerBound(t.LowerSegment, other), LowerBound(t.UpperSegment, other))
}

// Position returns the position both halves have reached.
func (t MergedToken) Position() (int64, bool) {
	return PositionOf(LowerBound(t.LowerSegment, t.UpperSegment))
}

// AdvancedTo moves both halves forward to at least next and collapses the
// token once the halves meet.
func (t MergedToken) AdvancedTo(next TrackingToken) TrackingToken {
	return Merged(UpperBound(t.LowerSegment, next), UpperBound(t.UpperSegment, next))
}

// ReplayToken wraps progress while a processor re-reads events it handled
// before a reset.
//
// Events covered by TokenAtReset are delivered as replays. Once Current moves
// past TokenAtReset the wrapper is dropped by AdvancedTo.
type ReplayToken struct {
	TokenAtReset TrackingToken
	Current      TrackingToken
}

// NewReplayToken creates the token a processor resets to.
//
// Parameters:
//   - tokenAtReset: Progress before the reset
//   - start: Position to replay from (nil replays from the beginning)
//
// Returns:
//   - TrackingToken: start itself when there is nothing to replay, a ReplayToken otherwise
func NewReplayToken(tokenAtReset, start TrackingToken) TrackingToken {
	if tokenAtReset == nil {
		return start
	}
	if r, ok := tokenAtReset.(ReplayToken); ok {
		tokenAtReset = r.TokenAtReset
	}
	if start != nil && start.Covers(tokenAtReset) {
		return start
	}

	return ReplayToken{TokenAtReset: tokenAtReset, Current: start}
}

// String returns "Replay(current, reset)".
func (t ReplayToken) String() string {
	return fmt.Sprintf("Replay(%v, reset=%v)", t.Current, t.TokenAtReset)
}

// Covers implements TrackingToken by comparing the current progress.
func (t ReplayToken) Covers(other TrackingToken) bool {
	return Covers(t.Current, Unwrap(other))
}

// UpperBound implements TrackingToken, keeping the replay context.
func (t ReplayToken) UpperBound(other TrackingToken) TrackingToken {
	return t.AdvancedTo(UpperBound(t.Current, Unwrap(other)))
}

// LowerBound implements TrackingToken, keeping the replay context.
func (t ReplayToken) LowerBound(other TrackingToken) TrackingToken {
	return ReplayToken{TokenAtReset: t.TokenAtReset, Current: LowerBound(t.Current, Unwrap(other))}
}

// Position implements TrackingToken.
func (t ReplayToken) Position() (int64, bool) {
	return PositionOf(t.Current)
}

// IsReplay reports whether an event at eventToken is a replayed event.
func (t ReplayToken) IsReplay(eventToken TrackingToken) bool {
	return Covers(t.TokenAtReset, eventToken)
}

// AdvancedTo returns the token after processing up to next.
//
// The replay wrapper is kept while TokenAtReset still covers next and dropped
// once next moves beyond it.
func (t ReplayToken) AdvancedTo(next TrackingToken) TrackingToken {
	switch {
	case Covers(t.TokenAtReset, next):
		return ReplayToken{TokenAtReset: t.TokenAtReset, Current: next}
	case next != nil && next.Covers(t.TokenAtReset):
		return next
	default:
		return ReplayToken{TokenAtReset: UpperBound(t.TokenAtReset, next), Current: next}
	}
}

// Covers reports whether a covers b. A nil a covers only a nil b.
func Covers(a, b TrackingToken) bool {
	if a == nil {
		return b == nil
	}

	return a.Covers(b)
}

// UpperBound returns the upper bound of a and b, treating nil as "nothing processed".
func UpperBound(a, b TrackingToken) TrackingToken {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return a.UpperBound(b)
	}
}

// LowerBound returns the lower bound of a and b, treating nil as "nothing processed".
func LowerBound(a, b TrackingToken) TrackingToken {
	if a == nil || b == nil {
		return nil
	}

	return a.LowerBound(b)
}

// TokensEqual reports whether a and b cover exactly the same events.
func TokensEqual(a, b TrackingToken) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return a.Covers(b) && b.Covers(a)
}

// PositionOf returns the position of t, or false for a nil token.
func PositionOf(t TrackingToken) (int64, bool) {
	if t == nil {
		return 0, false
	}

	return t.Position()
}

// Unwrap returns the progress token inside a ReplayToken, or t itself.
func Unwrap(t TrackingToken) TrackingToken {
	if r, ok := t.(ReplayToken); ok {
		return r.Current
	}

	return t
}
