package types

import (
	"encoding/json"
	"errors"
	"time"
)

// WorkPackageState is the lifecycle state of the unit processing one segment.
//
//	Idle → Active → Aborting → Terminated
type WorkPackageState int32

const (
	// WorkPackageIdle means the package holds its claim but has not started processing.
	WorkPackageIdle WorkPackageState = iota

	// WorkPackageActive means the package is reading and handling events.
	WorkPackageActive

	// WorkPackageAborting means an abort was requested and the package is winding down.
	WorkPackageAborting

	// WorkPackageTerminated means the package stopped and released its claim.
	WorkPackageTerminated
)

// String returns the state name.
func (s WorkPackageState) String() string {
	switch s {
	case WorkPackageIdle:
		return "Idle"
	case WorkPackageActive:
		return "Active"
	case WorkPackageAborting:
		return "Aborting"
	case WorkPackageTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// TrackerStatus is a point-in-time view of one work package.
type TrackerStatus struct {
	// Segment is the segment being processed.
	Segment Segment

	// Token is the last token persisted or reached in memory.
	Token TrackingToken

	// CaughtUp becomes true once the package has reached the head of the stream.
	CaughtUp bool

	// State is the work package lifecycle state.
	State WorkPackageState

	// Owner is the token-store identity holding the claim.
	Owner string

	// Error is the failure that stopped or is stalling the package, if any.
	Error error

	// UpdatedAt is when the status was produced.
	UpdatedAt time.Time
}

// IsReplaying reports whether the package is re-reading events after a reset.
func (s TrackerStatus) IsReplaying() bool {
	_, ok := s.Token.(ReplayToken)
	return ok
}

// IsMerging reports whether the package still reconciles two merged halves.
func (s TrackerStatus) IsMerging() bool {
	_, ok := Unwrap(s.Token).(MergedToken)
	return ok
}

// IsErrorState reports whether the package reported an error.
func (s TrackerStatus) IsErrorState() bool {
	return s.Error != nil
}

// CurrentPosition returns the stream position reached, if known.
func (s TrackerStatus) CurrentPosition() (int64, bool) {
	return PositionOf(s.Token)
}

// Split divides the status into the statuses of the two child segments.
//
// A MergedToken hands each half to the matching child. A ReplayToken is split
// around its current progress and re-wrapped so both children keep replaying.
//
// Returns:
//   - TrackerStatus: Status of the child that keeps the segment ID
//   - TrackerStatus: Status of the newly numbered child
//   - error: ErrSegmentNotSplittable if the segment cannot be split
func (s TrackerStatus) Split() (TrackerStatus, TrackerStatus, error) {
	first, second, err := s.Segment.Split()
	if err != nil {
		return TrackerStatus{}, TrackerStatus{}, err
	}

	working := s.Token
	var tokenAtReset TrackingToken
	replay, isReplay := working.(ReplayToken)
	if isReplay {
		tokenAtReset = replay.TokenAtReset
		working = replay.Current
	}

	firstToken, secondToken := working, working
	if merged, ok := working.(MergedToken); ok {
		firstToken, secondToken = merged.LowerSegment, merged.UpperSegment
	}

	if isReplay {
		firstToken = NewReplayToken(tokenAtReset, firstToken)
		secondToken = NewReplayToken(tokenAtReset, secondToken)
	}

	a := s
	a.Segment, a.Token = first, firstToken
	b := s
	b.Segment, b.Token = second, secondToken

	return a, b, nil
}

// trackerStatusJSON is the serialized form used for status publishing.
type trackerStatusJSON struct {
	Segment   Segment         `json:"segment"`
	Token     json.RawMessage `json:"token"`
	CaughtUp  bool            `json:"caughtUp"`
	State     string          `json:"state"`
	Owner     string          `json:"owner,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// MarshalJSON implements json.Marshaler.
func (s TrackerStatus) MarshalJSON() ([]byte, error) {
	token, err := MarshalToken(s.Token)
	if err != nil {
		return nil, err
	}

	out := trackerStatusJSON{
		Segment:   s.Segment,
		Token:     token,
		CaughtUp:  s.CaughtUp,
		State:     s.State.String(),
		Owner:     s.Owner,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Error != nil {
		out.Error = s.Error.Error()
	}

	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *TrackerStatus) UnmarshalJSON(data []byte) error {
	var in trackerStatusJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	token, err := UnmarshalToken(in.Token)
	if err != nil {
		return err
	}

	*s = TrackerStatus{
		Segment:   in.Segment,
		Token:     token,
		CaughtUp:  in.CaughtUp,
		State:     parseWorkPackageState(in.State),
		Owner:     in.Owner,
		UpdatedAt: in.UpdatedAt,
	}
	if in.Error != "" {
		s.Error = errors.New(in.Error)
	}

	return nil
}

func parseWorkPackageState(name string) WorkPackageState {
	for st := WorkPackageIdle; st <= WorkPackageTerminated; st++ {
		if st.String() == name {
			return st
		}
	}

	return WorkPackageIdle
}
