// Package storetest is the conformance suite for types.TokenStore implementations.
//
// Every backend in segpool runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) storetest.Factory {
//	        shared := memory.New()
//	        return func(opts ...tokenstore.Option) types.TokenStore {
//	            return shared.WithOptions(opts...)
//	        }
//	    })
//	}
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/segpool/tokenstore"
	"github.com/arloliu/segpool/types"
)

// Factory creates stores on one shared backend. Each call returns a store
// claiming under the owner given in opts.
type Factory func(opts ...tokenstore.Option) types.TokenStore

// Backend returns a Factory over a fresh, empty backend.
type Backend func(t *testing.T) Factory

// ClaimTimeout is the claim timeout every suite store is created with.
const ClaimTimeout = 10 * time.Second

// Clock is a manually advanced time source shared by the stores of one test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.UnixMilli(1_700_000_000_000)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	clock     *Clock
	factory   Factory
	processor string
}

func (e env) store(owner string) types.TokenStore {
	return e.factory(
		tokenstore.WithOwner(owner),
		tokenstore.WithClaimTimeout(ClaimTimeout),
		tokenstore.WithClock(e.clock.Now),
	)
}

var processorSeq atomic.Int64

// Run executes the conformance suite against backend.
func Run(t *testing.T, backend Backend) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, e env)
	}{
		{"InitializeAndFetch", testInitializeAndFetch},
		{"FetchMissingSegment", testFetchMissing},
		{"ClaimIsExclusive", testClaimExclusive},
		{"StaleClaimTakeover", testStaleTakeover},
		{"ExtendClaimKeepsOwnership", testExtendClaim},
		{"ReleaseClaim", testReleaseClaim},
		{"DeleteToken", testDeleteToken},
		{"FetchAvailableSegments", testFetchAvailable},
		{"TokenKinds", testTokenKinds},
		{"ProcessorIsolation", testProcessorIsolation},
		{"ConcurrentClaims", testConcurrentClaims},
		{"WatchSegments", testWatchSegments},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, env{
				clock:     NewClock(),
				factory:   backend(t),
				processor: fmt.Sprintf("proc.%d", processorSeq.Add(1)),
			})
		})
	}
}

func global(i int64) types.TrackingToken {
	return types.GlobalSequenceToken{Index: i}
}

func testInitializeAndFetch(t *testing.T, e env) {
	ctx := context.Background()
	a := e.store("node-a")

	require.Equal(t, "node-a", a.Owner())
	require.NoError(t, a.InitializeSegment(ctx, global(5), e.processor, 0))
	require.NoError(t, a.InitializeSegment(ctx, nil, e.processor, 1))

	err := a.InitializeSegment(ctx, global(9), e.processor, 0)
	require.ErrorIs(t, err, types.ErrSegmentExists)

	ids, err := a.FetchSegments(ctx, e.processor)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, ids)

	tok, err := a.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err)
	require.Equal(t, global(5), tok)

	tok, err = a.FetchToken(ctx, e.processor, 1)
	require.NoError(t, err)
	require.Nil(t, tok)

	tok, err = a.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err, "re-fetching an owned segment succeeds")
	require.Equal(t, global(5), tok)
}

func testFetchMissing(t *testing.T, e env) {
	ctx := context.Background()
	a := e.store("node-a")

	_, err := a.FetchToken(ctx, e.processor, 3)
	require.ErrorIs(t, err, types.ErrSegmentNotFound)

	ids, err := a.FetchSegments(ctx, e.processor)
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, a.ReleaseClaim(ctx, e.processor, 3), "releasing a missing segment is a no-op")
}

func testClaimExclusive(t *testing.T, e env) {
	ctx := context.Background()
	a, b := e.store("node-a"), e.store("node-b")

	require.NoError(t, a.InitializeSegment(ctx, global(1), e.processor, 0))

	_, err := a.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err)

	_, err = b.FetchToken(ctx, e.processor, 0)
	require.ErrorIs(t, err, types.ErrUnableToClaim)

	require.ErrorIs(t, b.StoreToken(ctx, global(2), e.processor, 0), types.ErrUnableToClaim)
	require.ErrorIs(t, b.ExtendClaim(ctx, e.processor, 0), types.ErrUnableToClaim)

	require.NoError(t, a.StoreToken(ctx, global(3), e.processor, 0))
	require.NoError(t, a.ExtendClaim(ctx, e.processor, 0))

	tok, err := a.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err)
	require.Equal(t, global(3), tok)
}

func testStaleTakeover(t *testing.T, e env) {
	ctx := context.Background()
	a, b := e.store("node-a"), e.store("node-b")

	require.NoError(t, a.InitializeSegment(ctx, nil, e.processor, 0))
	_, err := a.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err)
	require.NoError(t, a.StoreToken(ctx, global(7), e.processor, 0))

	e.clock.Advance(ClaimTimeout + time.Second)

	tok, err := b.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err)
	require.Equal(t, global(7), tok)

	require.ErrorIs(t, a.StoreToken(ctx, global(8), e.processor, 0), types.ErrUnableToClaim,
		"previous owner cannot write after takeover")
	require.ErrorIs(t, a.ExtendClaim(ctx, e.processor, 0), types.ErrUnableToClaim)
}

func testExtendClaim(t *testing.T, e env) {
	ctx := context.Background()
	a, b := e.store("node-a"), e.store("node-b")

	require.NoError(t, a.InitializeSegment(ctx, nil, e.processor, 0))
	_, err := a.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err)

	e.clock.Advance(ClaimTimeout / 2)
	require.NoError(t, a.ExtendClaim(ctx, e.processor, 0))
	e.clock.Advance(ClaimTimeout/2 + time.Second)

	_, err = b.FetchToken(ctx, e.processor, 0)
	require.ErrorIs(t, err, types.ErrUnableToClaim, "extended claim is still live")
}

func testReleaseClaim(t *testing.T, e env) {
	ctx := context.Background()
	a, b := e.store("node-a"), e.store("node-b")

	require.NoError(t, a.InitializeSegment(ctx, global(2), e.processor, 0))
	_, err := a.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err)

	require.NoError(t, b.ReleaseClaim(ctx, e.processor, 0), "release by non-owner is a no-op")
	_, err = b.FetchToken(ctx, e.processor, 0)
	require.ErrorIs(t, err, types.ErrUnableToClaim)

	require.NoError(t, a.ReleaseClaim(ctx, e.processor, 0))
	require.NoError(t, a.ReleaseClaim(ctx, e.processor, 0), "release is idempotent")

	tok, err := b.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err)
	require.Equal(t, global(2), tok)

	require.ErrorIs(t, a.StoreToken(ctx, global(3), e.processor, 0), types.ErrUnableToClaim)
}

func testDeleteToken(t *testing.T, e env) {
	ctx := context.Background()
	a, b := e.store("node-a"), e.store("node-b")

	require.NoError(t, a.InitializeSegment(ctx, nil, e.processor, 0))
	require.NoError(t, a.InitializeSegment(ctx, nil, e.processor, 1))

	require.ErrorIs(t, a.DeleteToken(ctx, e.processor, 1), types.ErrUnableToClaim, "delete needs a claim")

	_, err := a.FetchToken(ctx, e.processor, 1)
	require.NoError(t, err)
	require.ErrorIs(t, b.DeleteToken(ctx, e.processor, 1), types.ErrUnableToClaim)
	require.NoError(t, a.DeleteToken(ctx, e.processor, 1))

	ids, err := a.FetchSegments(ctx, e.processor)
	require.NoError(t, err)
	require.Equal(t, []int{0}, ids)

	require.ErrorIs(t, a.DeleteToken(ctx, e.processor, 1), types.ErrSegmentNotFound)

	_, err = a.FetchToken(ctx, e.processor, 1)
	require.ErrorIs(t, err, types.ErrSegmentNotFound)

	require.NoError(t, a.InitializeSegment(ctx, global(4), e.processor, 1), "deleted segment can be recreated")
}

func testFetchAvailable(t *testing.T, e env) {
	ctx := context.Background()
	a, b := e.store("node-a"), e.store("node-b")

	for id := range 3 {
		require.NoError(t, a.InitializeSegment(ctx, nil, e.processor, id))
	}
	_, err := a.FetchToken(ctx, e.processor, 1)
	require.NoError(t, err)

	avail, err := b.FetchAvailableSegments(ctx, e.processor)
	require.NoError(t, err)
	require.ElementsMatch(t, []types.Segment{{ID: 0, Mask: 3}, {ID: 2, Mask: 3}}, avail)

	avail, err = a.FetchAvailableSegments(ctx, e.processor)
	require.NoError(t, err)
	require.ElementsMatch(t, []types.Segment{{ID: 0, Mask: 3}, {ID: 1, Mask: 1}, {ID: 2, Mask: 3}}, avail)

	e.clock.Advance(ClaimTimeout + time.Second)
	avail, err = b.FetchAvailableSegments(ctx, e.processor)
	require.NoError(t, err)
	require.Len(t, avail, 3, "stale claims are available")
}

func testTokenKinds(t *testing.T, e env) {
	ctx := context.Background()
	a := e.store("node-a")

	require.NoError(t, a.InitializeSegment(ctx, nil, e.processor, 0))
	_, err := a.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err)

	tokens := []types.TrackingToken{
		global(10),
		types.MergedToken{LowerSegment: global(3), UpperSegment: global(10)},
		types.ReplayToken{TokenAtReset: global(10), Current: nil},
		types.ReplayToken{TokenAtReset: global(10), Current: types.MergedToken{LowerSegment: global(1), UpperSegment: global(2)}},
		nil,
	}

	for _, tok := range tokens {
		require.NoError(t, a.StoreToken(ctx, tok, e.processor, 0))
		got, err := a.FetchToken(ctx, e.processor, 0)
		require.NoError(t, err)
		require.Equal(t, tok, got)
	}
}

func testProcessorIsolation(t *testing.T, e env) {
	ctx := context.Background()
	a, b := e.store("node-a"), e.store("node-b")
	other := e.processor + ".other"

	require.NoError(t, a.InitializeSegment(ctx, global(1), e.processor, 0))
	require.NoError(t, a.InitializeSegment(ctx, global(2), other, 0))

	_, err := a.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err)

	tok, err := b.FetchToken(ctx, other, 0)
	require.NoError(t, err, "claims are per processor")
	require.Equal(t, global(2), tok)

	ids, err := a.FetchSegments(ctx, other)
	require.NoError(t, err)
	require.Equal(t, []int{0}, ids)
}

func testConcurrentClaims(t *testing.T, e env) {
	ctx := context.Background()
	const contenders = 6

	require.NoError(t, e.store("init").InitializeSegment(ctx, nil, e.processor, 0))

	stores := make([]types.TokenStore, contenders)
	for i := range stores {
		stores[i] = e.store(fmt.Sprintf("node-%d", i))
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, contenders)
	for _, s := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.FetchToken(ctx, e.processor, 0)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, types.ErrUnableToClaim):
			default:
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), wins.Load(), "exactly one contender claims the segment")
}

func testWatchSegments(t *testing.T, e env) {
	a := e.store("node-a")
	watcher, ok := a.(types.SegmentWatcher)
	if !ok {
		t.Skip("store does not implement SegmentWatcher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := watcher.WatchSegments(ctx, e.processor)
	require.NoError(t, err)
	drain(ch)

	require.NoError(t, a.InitializeSegment(ctx, nil, e.processor, 0))
	requireSignal(t, ch)

	_, err = a.FetchToken(ctx, e.processor, 0)
	require.NoError(t, err)
	drain(ch)

	require.NoError(t, a.ReleaseClaim(ctx, e.processor, 0))
	requireSignal(t, ch)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond, "channel closes when ctx is done")
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

func requireSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()

	select {
	case _, ok := <-ch:
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("no segment change signal")
	}
}
