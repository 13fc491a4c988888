// Package etcdstore implements types.TokenStore on etcd.
//
// Each segment is one key, "<prefix>/<processor>/<segmentID>", holding the
// JSON encoded tokenstore.Entry. Writes are transactions guarded by the key's
// ModRevision, so a claim decision is made on the exact entry that was read.
package etcdstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/arloliu/segpool/tokenstore"
	"github.com/arloliu/segpool/types"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "/segpool/tokens"

const maxTxnAttempts = 5

// Client is the subset of *clientv3.Client the store uses.
type Client interface {
	clientv3.KV
	clientv3.Watcher
}

// Store is an etcd-backed token store.
type Store struct {
	client Client
	prefix string
	opts   tokenstore.Options
}

var (
	_ types.TokenStore     = (*Store)(nil)
	_ types.SegmentWatcher = (*Store)(nil)
)

var errNoChange = errors.New("no change")

// New creates a store using DefaultPrefix.
//
// Example:
//
//	cli, _ := clientv3.New(clientv3.Config{Endpoints: []string{"localhost:2379"}})
//	store := etcdstore.New(cli, tokenstore.WithOwner(podName))
func New(client Client, opts ...tokenstore.Option) *Store {
	return NewWithPrefix(client, DefaultPrefix, opts...)
}

// NewWithPrefix creates a store whose keys live under prefix.
func NewWithPrefix(client Client, prefix string, opts ...tokenstore.Option) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Store{client: client, prefix: strings.TrimSuffix(prefix, "/"), opts: tokenstore.NewOptions(opts...)}
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
			return e, fmt.Errorf("owned by %s: %w", e.Owner, types.ErrUnableToClaim)
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

	k := s.key(processor, segmentID)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(k), "=", 0)).
		Then(clientv3.OpPut(k, string(data))).
		Commit()
	if err != nil {
		return unavailable("initialize segment", err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("initialize %s/%d: %w", processor, segmentID, types.ErrSegmentExists)
	}

	return nil
}

// DeleteToken implements types.TokenStore.
func (s *Store) DeleteToken(ctx context.Context, processor string, segmentID int) error {
	k := s.key(processor, segmentID)

	for range maxTxnAttempts {
		e, rev, err := s.get(ctx, k)
		if err != nil {
			return fmt.Errorf("delete token %s/%d: %w", processor, segmentID, err)
		}
		if !e.OwnedBy(s.opts.Owner) {
			return fmt.Errorf("delete token %s/%d owned by %q: %w", processor, segmentID, e.Owner, types.ErrUnableToClaim)
		}

		resp, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(k), "=", rev)).
			Then(clientv3.OpDelete(k)).
			Commit()
		if err != nil {
			return unavailable("delete token", err)
		}
		if resp.Succeeded {
			return nil
		}
	}

	return fmt.Errorf("delete token %s/%d: concurrent updates: %w", processor, segmentID, types.ErrUnableToClaim)
}

// FetchSegments implements types.TokenStore.
func (s *Store) FetchSegments(ctx context.Context, processor string) ([]int, error) {
	resp, err := s.client.Get(ctx, s.processorPrefix(processor), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, unavailable("list segments", err)
	}

	ids := make([]int, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if id, ok := s.parseID(processor, string(kv.Key)); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	return ids, nil
}

// FetchAvailableSegments implements types.TokenStore.
func (s *Store) FetchAvailableSegments(ctx context.Context, processor string) ([]types.Segment, error) {
	resp, err := s.client.Get(ctx, s.processorPrefix(processor), clientv3.WithPrefix())
	if err != nil {
		return nil, unavailable("list segments", err)
	}

	now := s.opts.Clock()
	all := make([]int, 0, len(resp.Kvs))
	var available []int
	for _, kv := range resp.Kvs {
		id, ok := s.parseID(processor, string(kv.Key))
		if !ok {
			continue
		}
		all = append(all, id)

		e, err := tokenstore.UnmarshalEntry(kv.Value)
		if err != nil {
			return nil, err
		}
		if e.ClaimableBy(s.opts.Owner, now, s.opts.ClaimTimeout) {
			available = append(available, id)
		}
	}
	slices.Sort(available)

	return tokenstore.AvailableSegments(all, available), nil
}

// WatchSegments implements types.SegmentWatcher.
//
// It signals when an entry is created, released, or deleted.
func (s *Store) WatchSegments(ctx context.Context, processor string) (<-chan struct{}, error) {
	wch := s.client.Watch(ctx, s.processorPrefix(processor), clientv3.WithPrefix())

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-wch:
				if !ok {
					return
				}
				if resp.Err() != nil {
					s.opts.Logger.Warn("segment watch failed", "processor", processor, "error", resp.Err())
					return
				}
				if !layoutChanged(resp.Events) {
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

func layoutChanged(events []*clientv3.Event) bool {
	for _, ev := range events {
		if ev.Type == clientv3.EventTypeDelete || ev.IsCreate() {
			return true
		}
		e, err := tokenstore.UnmarshalEntry(ev.Kv.Value)
		if err != nil || e.Owner == "" {
			return true
		}
	}

	return false
}

func (s *Store) updateOwned(ctx context.Context, processor string, segmentID int, op string, fn func(tokenstore.Entry) tokenstore.Entry) error {
	err := s.update(ctx, processor, segmentID, op, func(e tokenstore.Entry) (tokenstore.Entry, error) {
		if !e.OwnedBy(s.opts.Owner) {
			return e, fmt.Errorf("owned by %q: %w", e.Owner, types.ErrUnableToClaim)
		}

		return fn(e), nil
	})
	if errors.Is(err, types.ErrSegmentNotFound) {
		return fmt.Errorf("%w: %w", types.ErrUnableToClaim, err)
	}

	return err
}

func (s *Store) update(
	ctx context.Context,
	processor string,
	segmentID int,
	op string,
	fn func(tokenstore.Entry) (tokenstore.Entry, error),
) error {
	k := s.key(processor, segmentID)

	for range maxTxnAttempts {
		current, rev, err := s.get(ctx, k)
		if err != nil {
			return fmt.Errorf("%s %s/%d: %w", op, processor, segmentID, err)
		}

		next, err := fn(current)
		if err != nil {
			return fmt.Errorf("%s %s/%d: %w", op, processor, segmentID, err)
		}

		data, err := tokenstore.MarshalEntry(next)
		if err != nil {
			return err
		}

		resp, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(k), "=", rev)).
			Then(clientv3.OpPut(k, string(data))).
			Commit()
		if err != nil {
			return unavailable(op, err)
		}
		if resp.Succeeded {
			return nil
		}
	}

	return fmt.Errorf("%s %s/%d: concurrent updates: %w", op, processor, segmentID, types.ErrUnableToClaim)
}

func (s *Store) get(ctx context.Context, k string) (tokenstore.Entry, int64, error) {
	resp, err := s.client.Get(ctx, k)
	if err != nil {
		return tokenstore.Entry{}, 0, unavailable("get token entry", err)
	}
	if len(resp.Kvs) == 0 {
		return tokenstore.Entry{}, 0, types.ErrSegmentNotFound
	}

	e, err := tokenstore.UnmarshalEntry(resp.Kvs[0].Value)
	if err != nil {
		return tokenstore.Entry{}, 0, err
	}

	return e, resp.Kvs[0].ModRevision, nil
}

func (s *Store) processorPrefix(processor string) string {
	return s.prefix + "/" + processor + "/"
}

func (s *Store) key(processor string, segmentID int) string {
	return s.processorPrefix(processor) + strconv.Itoa(segmentID)
}

func (s *Store) parseID(processor, key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, s.processorPrefix(processor))
	if !ok || strings.Contains(rest, "/") {
		return 0, false
	}
	id, err := strconv.Atoi(rest)

	return id, err == nil
}

// unavailable marks client errors as transient. etcd client errors are
// transport or cluster failures; request-level outcomes come back as a
// failed transaction instead.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, types.ErrStoreUnavailable, err)
}
