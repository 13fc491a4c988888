package routing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/segpool/types"
)

func TestHashers_Deterministic(t *testing.T) {
	t.Parallel()

	for _, h := range []Hasher{XXH3{}, XXH3{Seed: 7}, Murmur3{}} {
		require.Equal(t, h.Hash("order-42"), h.Hash("order-42"), h.Name())
		require.NotEqual(t, h.Hash("order-42"), h.Hash("order-43"), h.Name())
	}

	require.NotEqual(t, XXH3{}.Hash("k"), XXH3{Seed: 7}.Hash("k"))
}

func TestMurmur3_KnownValue(t *testing.T) {
	t.Parallel()

	// Murmur3 x86_32 of "" with seed 0 is 0.
	require.Equal(t, uint32(0), Murmur3{}.Hash(""))
}

func TestByName(t *testing.T) {
	t.Parallel()

	h, err := ByName("")
	require.NoError(t, err)
	require.Equal(t, "xxh3", h.Name())

	h, err = ByName("Murmur3")
	require.NoError(t, err)
	require.Equal(t, "murmur3", h.Name())

	_, err = ByName("crc32")
	require.Error(t, err)
}

func TestSegmentFor_EveryKeyHasOneSegment(t *testing.T) {
	t.Parallel()

	layout := types.SplitBalanced(5)
	counts := make(map[types.Segment]int)

	for i := range 1000 {
		key := fmt.Sprintf("aggregate-%d", i)
		seg, ok := SegmentFor(Default(), layout, key)
		require.True(t, ok)
		require.True(t, Matches(Default(), seg, types.Event{PartitionKey: key}))
		counts[seg]++
	}

	require.Len(t, counts, 5, "all segments receive keys")
}

func TestSegmentFor_Gap(t *testing.T) {
	t.Parallel()

	_, ok := SegmentFor(Default(), nil, "k")
	require.False(t, ok)
}
