// Package memory provides an in-process types.TokenStore.
//
// It is meant for tests and single-process deployments. Several Store values
// created with ForOwner share one state and behave like separate processes
// claiming through a common store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/arloliu/segpool/tokenstore"
	"github.com/arloliu/segpool/types"
)

type state struct {
	mu       sync.Mutex
	entries  map[string]map[int]tokenstore.Entry
	watchers map[string][]chan struct{}
}

// Store is an in-memory token store.
type Store struct {
	st   *state
	opts tokenstore.Options
}

var (
	_ types.TokenStore     = (*Store)(nil)
	_ types.SegmentWatcher = (*Store)(nil)
)

// New creates an empty store.
//
// Example:
//
//	store := memory.New(tokenstore.WithOwner("node-1"))
//	other := store.ForOwner("node-2") // same state, different claims
func New(opts ...tokenstore.Option) *Store {
	return &Store{
		st: &state{
			entries:  make(map[string]map[int]tokenstore.Entry),
			watchers: make(map[string][]chan struct{}),
		},
		opts: tokenstore.NewOptions(opts...),
	}
}

// ForOwner returns a store sharing s's state that claims under owner.
func (s *Store) ForOwner(owner string) *Store {
	opts := s.opts
	opts.Owner = owner

	return &Store{st: s.st, opts: opts}
}

// WithOptions returns a store sharing s's state configured by opts alone.
func (s *Store) WithOptions(opts ...tokenstore.Option) *Store {
	return &Store{st: s.st, opts: tokenstore.NewOptions(opts...)}
}

// Owner implements types.TokenStore.
func (s *Store) Owner() string {
	return s.opts.Owner
}

// FetchToken implements types.TokenStore.
func (s *Store) FetchToken(_ context.Context, processor string, segmentID int) (types.TrackingToken, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	e, ok := s.st.entries[processor][segmentID]
	if !ok {
		return nil, fmt.Errorf("fetch token %s/%d: %w", processor, segmentID, types.ErrSegmentNotFound)
	}

	now := s.opts.Clock()
	if !e.ClaimableBy(s.opts.Owner, now, s.opts.ClaimTimeout) {
		return nil, fmt.Errorf("fetch token %s/%d owned by %s: %w", processor, segmentID, e.Owner, types.ErrUnableToClaim)
	}
	if e.Owner != "" && e.Owner != s.opts.Owner {
		s.opts.Logger.Info("taking over stale claim", "processor", processor, "segment", segmentID, "previous_owner", e.Owner)
	}

	s.st.entries[processor][segmentID] = e.Claimed(s.opts.Owner, now)

	return e.Token, nil
}

// StoreToken implements types.TokenStore.
func (s *Store) StoreToken(_ context.Context, token types.TrackingToken, processor string, segmentID int) error {
	return s.updateOwned(processor, segmentID, "store token", func(e tokenstore.Entry) tokenstore.Entry {
		e.Token = token
		return e.Claimed(s.opts.Owner, s.opts.Clock())
	})
}

// ExtendClaim implements types.TokenStore.
func (s *Store) ExtendClaim(_ context.Context, processor string, segmentID int) error {
	return s.updateOwned(processor, segmentID, "extend claim", func(e tokenstore.Entry) tokenstore.Entry {
		return e.Claimed(s.opts.Owner, s.opts.Clock())
	})
}

// ReleaseClaim implements types.TokenStore.
func (s *Store) ReleaseClaim(_ context.Context, processor string, segmentID int) error {
	s.st.mu.Lock()
	e, ok := s.st.entries[processor][segmentID]
	if !ok || !e.OwnedBy(s.opts.Owner) {
		s.st.mu.Unlock()
		return nil
	}
	s.st.entries[processor][segmentID] = e.Released(s.opts.Clock())
	s.st.mu.Unlock()

	s.notify(processor)

	return nil
}

// InitializeSegment implements types.TokenStore.
func (s *Store) InitializeSegment(_ context.Context, token types.TrackingToken, processor string, segmentID int) error {
	s.st.mu.Lock()
	segments, ok := s.st.entries[processor]
	if !ok {
		segments = make(map[int]tokenstore.Entry)
		s.st.entries[processor] = segments
	}
	if _, exists := segments[segmentID]; exists {
		s.st.mu.Unlock()
		return fmt.Errorf("initialize %s/%d: %w", processor, segmentID, types.ErrSegmentExists)
	}
	segments[segmentID] = tokenstore.Entry{Token: token, Timestamp: s.opts.Clock()}
	s.st.mu.Unlock()

	s.notify(processor)

	return nil
}

// DeleteToken implements types.TokenStore.
func (s *Store) DeleteToken(_ context.Context, processor string, segmentID int) error {
	s.st.mu.Lock()
	e, ok := s.st.entries[processor][segmentID]
	if !ok {
		s.st.mu.Unlock()
		return fmt.Errorf("delete token %s/%d: %w", processor, segmentID, types.ErrSegmentNotFound)
	}
	if !e.OwnedBy(s.opts.Owner) {
		s.st.mu.Unlock()
		return fmt.Errorf("delete token %s/%d: %w", processor, segmentID, types.ErrUnableToClaim)
	}
	delete(s.st.entries[processor], segmentID)
	s.st.mu.Unlock()

	s.notify(processor)

	return nil
}

// FetchSegments implements types.TokenStore.
func (s *Store) FetchSegments(_ context.Context, processor string) ([]int, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	ids := make([]int, 0, len(s.st.entries[processor]))
	for id := range s.st.entries[processor] {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids, nil
}

// FetchAvailableSegments implements types.TokenStore.
func (s *Store) FetchAvailableSegments(_ context.Context, processor string) ([]types.Segment, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	now := s.opts.Clock()
	all := make([]int, 0, len(s.st.entries[processor]))
	var available []int
	for id, e := range s.st.entries[processor] {
		all = append(all, id)
		if e.ClaimableBy(s.opts.Owner, now, s.opts.ClaimTimeout) {
			available = append(available, id)
		}
	}
	slices.Sort(available)

	return tokenstore.AvailableSegments(all, available), nil
}

// WatchSegments implements types.SegmentWatcher.
//
// Signals are coalesced: a slow reader sees one pending signal, not one per change.
func (s *Store) WatchSegments(ctx context.Context, processor string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	s.st.mu.Lock()
	s.st.watchers[processor] = append(s.st.watchers[processor], ch)
	s.st.mu.Unlock()

	go func() {
		<-ctx.Done()

		s.st.mu.Lock()
		s.st.watchers[processor] = slices.DeleteFunc(s.st.watchers[processor], func(c chan struct{}) bool { return c == ch })
		s.st.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// Entries returns a copy of every entry of processor. Intended for tests and inspection.
func (s *Store) Entries(processor string) map[int]tokenstore.Entry {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	out := make(map[int]tokenstore.Entry, len(s.st.entries[processor]))
	for id, e := range s.st.entries[processor] {
		out[id] = e
	}

	return out
}

func (s *Store) updateOwned(processor string, segmentID int, op string, fn func(tokenstore.Entry) tokenstore.Entry) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	e, ok := s.st.entries[processor][segmentID]
	if !ok {
		return fmt.Errorf("%s %s/%d: %w", op, processor, segmentID, types.ErrUnableToClaim)
	}
	if !e.OwnedBy(s.opts.Owner) {
		return fmt.Errorf("%s %s/%d owned by %q: %w", op, processor, segmentID, e.Owner, types.ErrUnableToClaim)
	}
	s.st.entries[processor][segmentID] = fn(e)

	return nil
}

func (s *Store) notify(processor string) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	for _, ch := range s.st.watchers[processor] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
