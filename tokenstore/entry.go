package tokenstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arloliu/segpool/types"
)

// Entry is the persisted record of one segment.
type Entry struct {
	// Token is the segment's progress (nil before any event was processed).
	Token types.TrackingToken

	// Owner is the identity holding the claim, empty when unclaimed.
	Owner string

	// Timestamp is when the claim was last taken or extended.
	Timestamp time.Time
}

// ClaimableBy reports whether owner may claim the entry at now.
func (e Entry) ClaimableBy(owner string, now time.Time, timeout time.Duration) bool {
	return e.Owner == "" || e.Owner == owner || e.IsStale(now, timeout)
}

// IsStale reports whether the current claim expired.
func (e Entry) IsStale(now time.Time, timeout time.Duration) bool {
	return e.Owner != "" && now.Sub(e.Timestamp) > timeout
}

// OwnedBy reports whether owner holds the claim.
func (e Entry) OwnedBy(owner string) bool {
	return e.Owner != "" && e.Owner == owner
}

// Claimed returns a copy of e claimed by owner at now.
func (e Entry) Claimed(owner string, now time.Time) Entry {
	e.Owner, e.Timestamp = owner, now
	return e
}

// Released returns a copy of e without owner.
func (e Entry) Released(now time.Time) Entry {
	e.Owner, e.Timestamp = "", now
	return e
}

type entryJSON struct {
	Token     json.RawMessage `json:"token"`
	Owner     string          `json:"owner,omitempty"`
	Timestamp int64           `json:"ts"`
}

// MarshalEntry encodes e for backends that store one value per segment.
//
// The timestamp is stored in Unix milliseconds.
func MarshalEntry(e Entry) ([]byte, error) {
	token, err := types.MarshalToken(e.Token)
	if err != nil {
		return nil, err
	}

	return json.Marshal(entryJSON{Token: token, Owner: e.Owner, Timestamp: e.Timestamp.UnixMilli()})
}

// UnmarshalEntry decodes a value written by MarshalEntry.
func UnmarshalEntry(data []byte) (Entry, error) {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Entry{}, fmt.Errorf("decode token entry: %w", err)
	}

	token, err := types.UnmarshalToken(raw.Token)
	if err != nil {
		return Entry{}, err
	}

	return Entry{Token: token, Owner: raw.Owner, Timestamp: time.UnixMilli(raw.Timestamp)}, nil
}

// AvailableSegments computes the segments of available among all live ids.
//
// Parameters:
//   - all: Every persisted segment ID of the processor
//   - available: IDs the caller could claim now (subset of all)
//
// Returns:
//   - []types.Segment: Segment of each available ID, in the order given
func AvailableSegments(all, available []int) []types.Segment {
	out := make([]types.Segment, 0, len(available))
	for _, id := range available {
		out = append(out, types.ComputeSegment(id, all...))
	}

	return out
}
