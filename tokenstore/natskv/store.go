// Package natskv implements types.TokenStore on a NATS JetStream KeyValue bucket.
//
// Each segment is one key, "<processor>.<segmentID>", holding the JSON encoded
// tokenstore.Entry. Every write is a compare-and-set on the key revision, so a
// claim decision is made on the exact entry that was read.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/segpool/internal/kvutil"
	"github.com/arloliu/segpool/internal/natsutil"
	"github.com/arloliu/segpool/tokenstore"
	"github.com/arloliu/segpool/types"
)

// maxCASAttempts bounds the read-modify-write retries on revision conflicts.
const maxCASAttempts = 5

// Store is a token store backed by a JetStream KV bucket.
type Store struct {
	kv   jetstream.KeyValue
	opts tokenstore.Options
}

var (
	_ types.TokenStore     = (*Store)(nil)
	_ types.SegmentWatcher = (*Store)(nil)
)

// New creates a store on an existing bucket.
//
// The bucket should keep a single revision per key (History: 1) and must not
// have a TTL: entries live as long as their segment.
func New(kv jetstream.KeyValue, opts ...tokenstore.Option) *Store {
	return &Store{kv: kv, opts: tokenstore.NewOptions(opts...)}
}

// Open creates or opens the bucket and returns a store on it.
//
// Example:
//
//	js, _ := jetstream.New(nc)
//	store, err := natskv.Open(ctx, js, "segpool-tokens", tokenstore.WithOwner(podName))
func Open(ctx context.Context, js jetstream.JetStream, bucket string, opts ...tokenstore.Option) (*Store, error) {
	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "segpool tracking tokens",
		History:     1,
	}, 3)
	if err != nil {
		return nil, natsutil.StoreError("open token bucket", err)
	}

	return New(kv, opts...), nil
}

// Owner implements types.TokenStore.
func (s *Store) Owner() string {
	return s.opts.Owner
}

// FetchToken implements types.TokenStore.
func (s *Store) FetchToken(ctx context.Context, processor string, segmentID int) (types.TrackingToken, error) {
	var token types.TrackingToken
	err := s.update(ctx, processor, segmentID, "fetch token", func(e tokenstore.Entry) (tokenstore.Entry, error) {
		now := s.opts.Clock()
		if !e.ClaimableBy(s.opts.Owner, now, s.opts.ClaimTimeout) {
			return e, fmt.Errorf("segment %d owned by %s: %w", segmentID, e.Owner, types.ErrUnableToClaim)
		}
		if e.Owner != "" && e.Owner != s.opts.Owner {
			s.opts.Logger.Info("taking over stale claim", "processor", processor, "segment", segmentID, "previous_owner", e.Owner)
		}
		token = e.Token

		return e.Claimed(s.opts.Owner, now), nil
	})
	if err != nil {
		return nil, err
	}

	return token, nil
}

// StoreToken implements types.TokenStore.
func (s *Store) StoreToken(ctx context.Context, token types.TrackingToken, processor string, segmentID int) error {
	return s.updateOwned(ctx, processor, segmentID, "store token", func(e tokenstore.Entry) tokenstore.Entry {
		e.Token = token
		return e.Claimed(s.opts.Owner, s.opts.Clock())
	})
}

// ExtendClaim implements types.TokenStore.
func (s *Store) ExtendClaim(ctx context.Context, processor string, segmentID int) error {
	return s.updateOwned(ctx, processor, segmentID, "extend claim", func(e tokenstore.Entry) tokenstore.Entry {
		return e.Claimed(s.opts.Owner, s.opts.Clock())
	})
}

// ReleaseClaim implements types.TokenStore.
func (s *Store) ReleaseClaim(ctx context.Context, processor string, segmentID int) error {
	err := s.update(ctx, processor, segmentID, "release claim", func(e tokenstore.Entry) (tokenstore.Entry, error) {
		if !e.OwnedBy(s.opts.Owner) {
			return e, errNoChange
		}

		return e.Released(s.opts.Clock()), nil
	})
	if errors.Is(err, errNoChange) || errors.Is(err, types.ErrSegmentNotFound) {
		return nil
	}

	return err
}

// InitializeSegment implements types.TokenStore.
func (s *Store) InitializeSegment(ctx context.Context, token types.TrackingToken, processor string, segmentID int) error {
	data, err := tokenstore.MarshalEntry(tokenstore.Entry{Token: token, Timestamp: s.opts.Clock()})
	if err != nil {
		return err
	}

	_, err = s.kv.Create(ctx, key(processor, segmentID), data)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("initialize %s/%d: %w", processor, segmentID, types.ErrSegmentExists)
	}

	return natsutil.StoreError("initialize segment", err)
}

// DeleteToken implements types.TokenStore.
func (s *Store) DeleteToken(ctx context.Context, processor string, segmentID int) error {
	k := key(processor, segmentID)

	for range maxCASAttempts {
		e, rev, err := s.get(ctx, k)
		if err != nil {
			return fmt.Errorf("delete token %s/%d: %w", processor, segmentID, err)
		}
		if !e.OwnedBy(s.opts.Owner) {
			return fmt.Errorf("delete token %s/%d owned by %q: %w", processor, segmentID, e.Owner, types.ErrUnableToClaim)
		}

		err = s.kv.Delete(ctx, k, jetstream.LastRevision(rev))
		if err == nil {
			return nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return natsutil.StoreError("delete token", err)
		}
	}

	return fmt.Errorf("delete token %s/%d: concurrent updates: %w", processor, segmentID, types.ErrUnableToClaim)
}

// FetchSegments implements types.TokenStore.
func (s *Store) FetchSegments(ctx context.Context, processor string) ([]int, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) || types.IsNoKeysFoundError(err) {
			return []int{}, nil
		}

		return nil, natsutil.StoreError("list segments", err)
	}

	prefix := natsutil.SanitizeToken(processor) + "."
	ids := make([]int, 0, len(keys))
	for _, k := range keys {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		id, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids, nil
}

// FetchAvailableSegments implements types.TokenStore.
func (s *Store) FetchAvailableSegments(ctx context.Context, processor string) ([]types.Segment, error) {
	ids, err := s.FetchSegments(ctx, processor)
	if err != nil {
		return nil, err
	}

	now := s.opts.Clock()
	available := make([]int, 0, len(ids))
	for _, id := range ids {
		e, _, err := s.get(ctx, key(processor, id))
		if errors.Is(err, types.ErrSegmentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if e.ClaimableBy(s.opts.Owner, now, s.opts.ClaimTimeout) {
			available = append(available, id)
		}
	}

	return tokenstore.AvailableSegments(ids, available), nil
}

// WatchSegments implements types.SegmentWatcher.
//
// It signals when an entry of processor is created, released, or deleted.
// Claims, token updates, and claim extensions are not signalled.
func (s *Store) WatchSegments(ctx context.Context, processor string) (<-chan struct{}, error) {
	watcher, err := s.kv.Watch(ctx, natsutil.SanitizeToken(processor)+".*", jetstream.UpdatesOnly())
	if err != nil {
		return nil, natsutil.StoreError("watch segments", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Stop() }()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil || !layoutChanged(entry) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, nil
}

var errNoChange = errors.New("no change")

func layoutChanged(entry jetstream.KeyValueEntry) bool {
	if entry.Operation() != jetstream.KeyValuePut {
		return true
	}

	e, err := tokenstore.UnmarshalEntry(entry.Value())

	return err != nil || e.Owner == ""
}

func (s *Store) updateOwned(ctx context.Context, processor string, segmentID int, op string, fn func(tokenstore.Entry) tokenstore.Entry) error {
	err := s.update(ctx, processor, segmentID, op, func(e tokenstore.Entry) (tokenstore.Entry, error) {
		if !e.OwnedBy(s.opts.Owner) {
			return e, fmt.Errorf("segment %d owned by %q: %w", segmentID, e.Owner, types.ErrUnableToClaim)
		}

		return fn(e), nil
	})
	if errors.Is(err, types.ErrSegmentNotFound) {
		return fmt.Errorf("%s %s/%d: %w: %w", op, processor, segmentID, types.ErrUnableToClaim, err)
	}

	return err
}

// update runs a compare-and-set loop on one entry.
func (s *Store) update(
	ctx context.Context,
	processor string,
	segmentID int,
	op string,
	fn func(tokenstore.Entry) (tokenstore.Entry, error),
) error {
	k := key(processor, segmentID)

	for range maxCASAttempts {
		current, rev, err := s.get(ctx, k)
		if err != nil {
			return fmt.Errorf("%s %s/%d: %w", op, processor, segmentID, err)
		}

		next, err := fn(current)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, processor, err)
		}

		data, err := tokenstore.MarshalEntry(next)
		if err != nil {
			return err
		}

		_, err = s.kv.Update(ctx, k, data, rev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return natsutil.StoreError(op, err)
		}

		s.opts.Logger.Debug("token entry changed concurrently, retrying", "op", op, "key", k)
	}

	return fmt.Errorf("%s %s/%d: concurrent updates: %w", op, processor, segmentID, types.ErrUnableToClaim)
}

func (s *Store) get(ctx context.Context, k string) (tokenstore.Entry, uint64, error) {
	entry, err := s.kv.Get(ctx, k)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return tokenstore.Entry{}, 0, types.ErrSegmentNotFound
		}

		return tokenstore.Entry{}, 0, natsutil.StoreError("get token entry", err)
	}

	e, err := tokenstore.UnmarshalEntry(entry.Value())
	if err != nil {
		return tokenstore.Entry{}, 0, err
	}

	return e, entry.Revision(), nil
}

func key(processor string, segmentID int) string {
	return natsutil.SanitizeToken(processor) + "." + strconv.Itoa(segmentID)
}
