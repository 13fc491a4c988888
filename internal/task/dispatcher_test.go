package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/segpool/internal/future"
	"github.com/arloliu/segpool/tokenstore/memory"
	"github.com/arloliu/segpool/types"
)

const processor = "proc"

func global(i int64) types.GlobalSequenceToken {
	return types.GlobalSequenceToken{Index: i}
}

// recordingStore logs every call and can fail selected operations.
type recordingStore struct {
	types.TokenStore

	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func newRecordingStore(inner types.TokenStore) *recordingStore {
	return &recordingStore{TokenStore: inner, fail: map[string]error{}}
}

func (s *recordingStore) record(call string, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, call)

	return s.fail[op]
}

func (s *recordingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.calls...)
}

func (s *recordingStore) FetchToken(ctx context.Context, p string, id int) (types.TrackingToken, error) {
	if err := s.record(fmt.Sprintf("fetchToken(%d)", id), "fetch"); err != nil {
		return nil, err
	}

	return s.TokenStore.FetchToken(ctx, p, id)
}

func (s *recordingStore) StoreToken(ctx context.Context, token types.TrackingToken, p string, id int) error {
	if err := s.record(fmt.Sprintf("storeToken(%v, %d)", token, id), "store"); err != nil {
		return err
	}

	return s.TokenStore.StoreToken(ctx, token, p, id)
}

func (s *recordingStore) InitializeSegment(ctx context.Context, token types.TrackingToken, p string, id int) error {
	if err := s.record(fmt.Sprintf("initializeSegment(%v, %d)", token, id), "init"); err != nil {
		return err
	}

	return s.TokenStore.InitializeSegment(ctx, token, p, id)
}

func (s *recordingStore) ReleaseClaim(ctx context.Context, p string, id int) error {
	if err := s.record(fmt.Sprintf("releaseClaim(%d)", id), "release"); err != nil {
		return err
	}

	return s.TokenStore.ReleaseClaim(ctx, p, id)
}

func (s *recordingStore) DeleteToken(ctx context.Context, p string, id int) error {
	if err := s.record(fmt.Sprintf("deleteToken(%d)", id), "delete"); err != nil {
		return err
	}

	return s.TokenStore.DeleteToken(ctx, p, id)
}

// fakeRegistry holds fake work packages.
type fakeRegistry struct {
	packages map[int]*fakePackage
	blocked  map[int]time.Time
	removed  []int
}

func newRegistry(pkgs ...*fakePackage) *fakeRegistry {
	r := &fakeRegistry{packages: map[int]*fakePackage{}, blocked: map[int]time.Time{}}
	for _, p := range pkgs {
		r.packages[p.seg.ID] = p
	}

	return r
}

func (r *fakeRegistry) Lookup(id int) (Package, bool) {
	p, ok := r.packages[id]
	return p, ok
}

func (r *fakeRegistry) Remove(id int) {
	delete(r.packages, id)
	r.removed = append(r.removed, id)
}

func (r *fakeRegistry) Block(id int, until time.Time) {
	r.blocked[id] = until
}

// fakePackage releases its claim in the store when aborted.
type fakePackage struct {
	seg     types.Segment
	store   types.TokenStore
	hang    bool
	aborts  int
	causes  []error
	aborted *future.Future[error]
}

func newFakePackage(seg types.Segment, store types.TokenStore) *fakePackage {
	return &fakePackage{seg: seg, store: store, aborted: future.New[error]()}
}

func (p *fakePackage) Segment() types.Segment { return p.seg }

func (p *fakePackage) Abort(cause error) *future.Future[error] {
	p.aborts++
	p.causes = append(p.causes, cause)
	if !p.hang {
		_ = p.store.ReleaseClaim(context.Background(), processor, p.seg.ID)
		p.aborted.Complete(cause, nil)
	}

	return p.aborted
}

func setup(t *testing.T, tokens map[int]types.TrackingToken) (*memory.Store, *recordingStore) {
	t.Helper()

	mem := memory.New()
	for id, tok := range tokens {
		require.NoError(t, mem.InitializeSegment(t.Context(), tok, processor, id))
	}

	return mem, newRecordingStore(mem)
}

func run(t *testing.T, d *Dispatcher, task Task) (bool, error) {
	t.Helper()

	d.Run(t.Context(), task)
	require.True(t, task.Result.IsDone())

	ok, err, _ := task.Result.Result()

	return ok, err
}

func TestSplit_UnclaimedRootSegment(t *testing.T) {
	t.Parallel()

	mem, store := setup(t, map[int]types.TrackingToken{0: global(0)})
	d := &Dispatcher{Processor: processor, Store: store}

	ok, err := run(t, d, NewSplit(0))
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []string{
		"fetchToken(0)",
		"initializeSegment(Global(0), 1)",
		"releaseClaim(0)",
	}, store.Calls())

	ids, err := mem.FetchSegments(t.Context(), processor)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, ids)

	entries := mem.Entries(processor)
	require.Empty(t, entries[0].Owner)
	require.Equal(t, types.TrackingToken(global(0)), entries[1].Token)
}

func TestSplit_FetchFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	_, store := setup(t, map[int]types.TrackingToken{0: global(0)})
	store.fail["fetch"] = types.ErrUnableToClaim
	d := &Dispatcher{Processor: processor, Store: store}

	ok, err := run(t, d, NewSplit(0))
	require.ErrorIs(t, err, types.ErrUnableToClaim)
	require.False(t, ok)
	require.Equal(t, []string{"fetchToken(0)"}, store.Calls())
}

func TestSplit_LiveWorkPackageIsAbortedFirst(t *testing.T) {
	t.Parallel()

	mem, store := setup(t, map[int]types.TrackingToken{0: global(3), 1: global(5)})
	seg := types.Segment{ID: 1, Mask: 1}
	_, err := mem.FetchToken(t.Context(), processor, seg.ID)
	require.NoError(t, err)

	pkg := newFakePackage(seg, mem)
	reg := newRegistry(pkg)
	d := &Dispatcher{Processor: processor, Store: store, Registry: reg}

	ok, err := run(t, d, NewSplit(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, pkg.aborts)
	require.ErrorIs(t, pkg.causes[0], errSplitAborted)
	require.Equal(t, []int{1}, reg.removed)

	require.Equal(t, []string{
		"fetchToken(1)",
		"initializeSegment(Global(5), 3)",
		"releaseClaim(1)",
	}, store.Calls())
}

func TestSplit_MergedTokenRewritesOriginal(t *testing.T) {
	t.Parallel()

	token := types.Merged(global(2), global(6))
	mem, store := setup(t, map[int]types.TrackingToken{0: token})
	d := &Dispatcher{Processor: processor, Store: store}

	ok, err := run(t, d, NewSplit(0))
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []string{
		"fetchToken(0)",
		"initializeSegment(Global(6), 1)",
		"storeToken(Global(2), 0)",
		"releaseClaim(0)",
	}, store.Calls())

	entries := mem.Entries(processor)
	require.Equal(t, types.TrackingToken(global(2)), entries[0].Token)
	require.Equal(t, types.TrackingToken(global(6)), entries[1].Token)
}

func TestSplit_InitializeFailureReleasesClaim(t *testing.T) {
	t.Parallel()

	mem, store := setup(t, map[int]types.TrackingToken{0: global(0)})
	store.fail["init"] = types.ErrStoreUnavailable
	d := &Dispatcher{Processor: processor, Store: store}

	ok, err := run(t, d, NewSplit(0))
	require.ErrorIs(t, err, types.ErrStoreUnavailable)
	require.False(t, ok)

	ids, err := mem.FetchSegments(t.Context(), processor)
	require.NoError(t, err)
	require.Equal(t, []int{0}, ids)
	require.Empty(t, mem.Entries(processor)[0].Owner)
}

// cancelingStore cancels the task context once the child entry exists and
// rejects releases made on a cancelled context.
type cancelingStore struct {
	*recordingStore
	cancel context.CancelFunc
}

func (s *cancelingStore) InitializeSegment(ctx context.Context, token types.TrackingToken, p string, id int) error {
	err := s.recordingStore.InitializeSegment(ctx, token, p, id)
	s.cancel()

	return err
}

func (s *cancelingStore) ReleaseClaim(ctx context.Context, p string, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.recordingStore.ReleaseClaim(ctx, p, id)
}

func TestSplit_ReleasesClaimAfterCancel(t *testing.T) {
	t.Parallel()

	mem, store := setup(t, map[int]types.TrackingToken{0: global(0)})
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	d := &Dispatcher{Processor: processor, Store: &cancelingStore{recordingStore: store, cancel: cancel}}

	task := NewSplit(0)
	d.Run(ctx, task)
	ok, err, _ := task.Result.Result()
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []string{
		"fetchToken(0)",
		"initializeSegment(Global(0), 1)",
		"releaseClaim(0)",
	}, store.Calls())
	require.Empty(t, mem.Entries(processor)[0].Owner)
}

func TestSplit_UnknownSegment(t *testing.T) {
	t.Parallel()

	_, store := setup(t, map[int]types.TrackingToken{0: global(0)})
	d := &Dispatcher{Processor: processor, Store: store}

	_, err := run(t, d, NewSplit(7))
	require.ErrorIs(t, err, types.ErrSegmentNotFound)
	require.Empty(t, store.Calls())
}

func TestSplit_AbortTimeout(t *testing.T) {
	t.Parallel()

	mem, store := setup(t, map[int]types.TrackingToken{0: global(0)})
	pkg := newFakePackage(types.RootSegment, mem)
	pkg.hang = true
	d := &Dispatcher{Processor: processor, Store: store, Registry: newRegistry(pkg), AbortTimeout: 20 * time.Millisecond}

	_, err := run(t, d, NewSplit(0))
	require.ErrorIs(t, err, types.ErrAbortTimeout)
	require.Empty(t, store.Calls())
}

func TestMerge_Siblings(t *testing.T) {
	t.Parallel()

	mem, store := setup(t, map[int]types.TrackingToken{0: global(4), 1: global(9)})
	d := &Dispatcher{Processor: processor, Store: store}

	ok, err := run(t, d, NewMerge(1))
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []string{
		"fetchToken(0)",
		"fetchToken(1)",
		"storeToken(Merged(Global(4), Global(9)), 0)",
		"deleteToken(1)",
		"releaseClaim(0)",
	}, store.Calls())

	ids, err := mem.FetchSegments(t.Context(), processor)
	require.NoError(t, err)
	require.Equal(t, []int{0}, ids)
	require.Equal(t, types.TrackingToken(types.MergedToken{LowerSegment: global(4), UpperSegment: global(9)}), mem.Entries(processor)[0].Token)
}

func TestMerge_AbortsBothLivePackages(t *testing.T) {
	t.Parallel()

	mem, store := setup(t, map[int]types.TrackingToken{0: global(1), 1: global(1)})
	for id := range 2 {
		_, err := mem.FetchToken(t.Context(), processor, id)
		require.NoError(t, err)
	}

	lower := newFakePackage(types.Segment{ID: 0, Mask: 1}, mem)
	upper := newFakePackage(types.Segment{ID: 1, Mask: 1}, mem)
	reg := newRegistry(lower, upper)
	d := &Dispatcher{Processor: processor, Store: store, Registry: reg}

	ok, err := run(t, d, NewMerge(0))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, lower.aborts)
	require.Equal(t, 1, upper.aborts)
	require.ElementsMatch(t, []int{0, 1}, reg.removed)

	require.Equal(t, types.TrackingToken(global(1)), mem.Entries(processor)[0].Token, "equal halves collapse")
}

func TestMerge_NothingToDo(t *testing.T) {
	t.Parallel()

	t.Run("root segment", func(t *testing.T) {
		t.Parallel()

		_, store := setup(t, map[int]types.TrackingToken{0: global(0)})
		ok, err := run(t, &Dispatcher{Processor: processor, Store: store}, NewMerge(0))
		require.NoError(t, err)
		require.False(t, ok)
		require.Empty(t, store.Calls())
	})

	t.Run("sibling split further", func(t *testing.T) {
		t.Parallel()

		// Layout {0,1} {1,3} {3,3}: segment 0's sibling 1 is itself split.
		_, store := setup(t, map[int]types.TrackingToken{0: global(0), 1: global(0), 3: global(0)})
		ok, err := run(t, &Dispatcher{Processor: processor, Store: store}, NewMerge(0))
		require.NoError(t, err)
		require.False(t, ok)
		require.Empty(t, store.Calls())
	})

	t.Run("unknown segment", func(t *testing.T) {
		t.Parallel()

		_, store := setup(t, map[int]types.TrackingToken{0: global(0)})
		_, err := run(t, &Dispatcher{Processor: processor, Store: store}, NewMerge(5))
		require.ErrorIs(t, err, types.ErrSegmentNotFound)
	})
}

func TestMerge_ClaimedSiblingFails(t *testing.T) {
	t.Parallel()

	mem, store := setup(t, map[int]types.TrackingToken{0: global(0), 1: global(0)})
	_, err := mem.ForOwner("other").FetchToken(t.Context(), processor, 1)
	require.NoError(t, err)

	d := &Dispatcher{Processor: processor, Store: store}
	ok, err := run(t, d, NewMerge(0))
	require.ErrorIs(t, err, types.ErrUnableToClaim)
	require.False(t, ok)

	ids, err := mem.FetchSegments(t.Context(), processor)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, ids)
	require.Empty(t, mem.Entries(processor)[0].Owner, "claim on the lower half is given back")
}

func TestRelease_BlocksAndAborts(t *testing.T) {
	t.Parallel()

	mem, store := setup(t, map[int]types.TrackingToken{0: global(0)})
	pkg := newFakePackage(types.RootSegment, mem)
	reg := newRegistry(pkg)
	d := &Dispatcher{Processor: processor, Store: store, Registry: reg}

	until := time.Now().Add(time.Minute)
	ok, err := run(t, d, NewRelease(0, until))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, until, reg.blocked[0])
	require.Equal(t, 1, pkg.aborts)
	require.ErrorIs(t, pkg.causes[0], errReleaseAborted)
}

func TestRelease_WithoutRegistryReleasesClaim(t *testing.T) {
	t.Parallel()

	mem, store := setup(t, map[int]types.TrackingToken{0: global(0)})
	_, err := store.FetchToken(t.Context(), processor, 0)
	require.NoError(t, err)

	ok, err := run(t, &Dispatcher{Processor: processor, Store: store}, NewRelease(0, time.Time{}))
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, mem.Entries(processor)[0].Owner)
}

func TestRun_UnknownKindAndDescription(t *testing.T) {
	t.Parallel()

	task := Task{Kind: Kind(99), SegmentID: 2, Result: future.New[bool]()}
	_, err := run(t, &Dispatcher{Processor: processor, Store: memory.New()}, task)
	require.Error(t, err)

	require.Contains(t, NewSplit(3).Description(), "Split")
	require.Contains(t, NewMerge(3).Description(), "Merge")
	require.Contains(t, NewRelease(3, time.Now()).Description(), "Release")
	require.Equal(t, "split", KindSplit.String())
}

func TestRun_PanicResolvesFuture(t *testing.T) {
	t.Parallel()

	d := &Dispatcher{Processor: processor, Store: panicStore{}}
	_, err := run(t, d, NewMerge(0))
	require.Error(t, err)
	require.Contains(t, err.Error(), "panicked")
}

type panicStore struct{ types.TokenStore }

func (panicStore) FetchSegments(context.Context, string) ([]int, error) {
	panic(errors.New("backend exploded"))
}
