// Package routing maps partition keys onto the segment key space.
//
// Every process of a processor group must use the same Hasher; otherwise an
// event can match a different segment in each process.
package routing

import (
	"fmt"
	"strings"

	"github.com/twmb/murmur3"
	"github.com/zeebo/xxh3"

	"github.com/arloliu/segpool/types"
)

// Hasher turns a partition key into the 32-bit value segments match against.
type Hasher interface {
	// Hash returns the routing hash of key.
	Hash(key string) uint32

	// Name identifies the algorithm in configuration and status output.
	Name() string
}

// XXH3 hashes with the low 32 bits of XXH3-64. It is the default hasher.
type XXH3 struct {
	// Seed selects a seeded variant when non-zero.
	Seed uint64
}

// Hash implements Hasher.
func (h XXH3) Hash(key string) uint32 {
	if h.Seed != 0 {
		return uint32(xxh3.HashStringSeed(key, h.Seed)) //nolint:gosec // truncation intended
	}

	return uint32(xxh3.HashString(key)) //nolint:gosec // truncation intended
}

// Name implements Hasher.
func (XXH3) Name() string { return "xxh3" }

// Murmur3 hashes with Murmur3 x86 32-bit, seed 0.
//
// Use it when producers outside Go already route with Murmur3.
type Murmur3 struct{}

// Hash implements Hasher.
func (Murmur3) Hash(key string) uint32 {
	return murmur3.StringSum32(key)
}

// Name implements Hasher.
func (Murmur3) Name() string { return "murmur3" }

// Default returns the hasher used when none is configured.
func Default() Hasher {
	return XXH3{}
}

// ByName returns the hasher registered under name ("xxh3" or "murmur3").
// An empty name returns Default().
func ByName(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "xxh3":
		return XXH3{}, nil
	case "murmur3":
		return Murmur3{}, nil
	default:
		return nil, fmt.Errorf("unknown hasher %q", name)
	}
}

// Matches reports whether event belongs to segment under h.
func Matches(h Hasher, segment types.Segment, event types.Event) bool {
	return segment.Matches(h.Hash(event.PartitionKey))
}

// SegmentFor returns the segment of layout that key routes to.
//
// Returns:
//   - types.Segment: The matching segment
//   - bool: false if no segment of layout matches (the layout has a gap)
func SegmentFor(h Hasher, layout []types.Segment, key string) (types.Segment, bool) {
	sum := h.Hash(key)
	for _, seg := range layout {
		if seg.Matches(sum) {
			return seg, true
		}
	}

	return types.Segment{}, false
}
