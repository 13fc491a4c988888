// Package redisstore implements types.TokenStore on Redis.
//
// Each segment is a hash with the fields token, owner, and ts (claim time in
// Unix milliseconds). The segment IDs of a processor are kept in a set. Keys
// of one processor share a hash tag so scripts stay on one cluster slot:
//
//	<prefix>:{<processor>}:seg:<id>
//	<prefix>:{<processor>}:segments
//
// Claim rules run inside Lua scripts, one round trip per operation.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/arloliu/segpool/tokenstore"
	"github.com/arloliu/segpool/types"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "segpool"

// Store is a Redis-backed token store.
type Store struct {
	rdb    redis.Cmdable
	prefix string
	opts   tokenstore.Options
}

var _ types.TokenStore = (*Store)(nil)

// New creates a store using DefaultPrefix.
//
// Example:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := redisstore.New(rdb, tokenstore.WithOwner(podName))
func New(rdb redis.Cmdable, opts ...tokenstore.Option) *Store {
	return NewWithPrefix(rdb, DefaultPrefix, opts...)
}

// NewWithPrefix creates a store whose keys start with prefix.
func NewWithPrefix(rdb redis.Cmdable, prefix string, opts ...tokenstore.Option) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Store{rdb: rdb, prefix: prefix, opts: tokenstore.NewOptions(opts...)}
}

// Owner implements types.TokenStore.
func (s *Store) Owner() string {
	return s.opts.Owner
}

// FetchToken implements types.TokenStore.
func (s *Store) FetchToken(ctx context.Context, processor string, segmentID int) (types.TrackingToken, error) {
	raw, err := s.rdb.Eval(ctx, fetchScript,
		[]string{s.segmentKey(processor, segmentID)},
		s.opts.Owner, s.now(), strconv.FormatInt(s.opts.ClaimTimeout.Milliseconds(), 10),
	).Text()
	if err != nil {
		return nil, s.replyError("fetch token", processor, segmentID, err)
	}

	return types.UnmarshalToken([]byte(raw))
}

// StoreToken implements types.TokenStore.
func (s *Store) StoreToken(ctx context.Context, token types.TrackingToken, processor string, segmentID int) error {
	data, err := types.MarshalToken(token)
	if err != nil {
		return err
	}

	err = s.rdb.Eval(ctx, storeScript,
		[]string{s.segmentKey(processor, segmentID)},
		s.opts.Owner, s.now(), string(data),
	).Err()

	return s.replyError("store token", processor, segmentID, err)
}

// ExtendClaim implements types.TokenStore.
func (s *Store) ExtendClaim(ctx context.Context, processor string, segmentID int) error {
	err := s.rdb.Eval(ctx, extendScript,
		[]string{s.segmentKey(processor, segmentID)},
		s.opts.Owner, s.now(),
	).Err()

	return s.replyError("extend claim", processor, segmentID, err)
}

// ReleaseClaim implements types.TokenStore.
func (s *Store) ReleaseClaim(ctx context.Context, processor string, segmentID int) error {
	err := s.rdb.Eval(ctx, releaseScript,
		[]string{s.segmentKey(processor, segmentID)},
		s.opts.Owner, s.now(),
	).Err()

	return s.replyError("release claim", processor, segmentID, err)
}

// InitializeSegment implements types.TokenStore.
func (s *Store) InitializeSegment(ctx context.Context, token types.TrackingToken, processor string, segmentID int) error {
	data, err := types.MarshalToken(token)
	if err != nil {
		return err
	}

	err = s.rdb.Eval(ctx, initScript,
		[]string{s.segmentKey(processor, segmentID), s.setKey(processor)},
		strconv.Itoa(segmentID), string(data), s.now(),
	).Err()

	return s.replyError("initialize segment", processor, segmentID, err)
}

// DeleteToken implements types.TokenStore.
func (s *Store) DeleteToken(ctx context.Context, processor string, segmentID int) error {
	err := s.rdb.Eval(ctx, deleteScript,
		[]string{s.segmentKey(processor, segmentID), s.setKey(processor)},
		s.opts.Owner, strconv.Itoa(segmentID),
	).Err()

	return s.replyError("delete token", processor, segmentID, err)
}

// FetchSegments implements types.TokenStore.
func (s *Store) FetchSegments(ctx context.Context, processor string) ([]int, error) {
	members, err := s.rdb.SMembers(ctx, s.setKey(processor)).Result()
	if err != nil {
		return nil, s.replyError("list segments", processor, -1, err)
	}

	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			s.opts.Logger.Warn("ignoring malformed segment id", "processor", processor, "member", m)
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
		vals, err := s.rdb.HMGet(ctx, s.segmentKey(processor, id), "owner", "ts").Result()
		if err != nil {
			return nil, s.replyError("read claim", processor, id, err)
		}

		entry := tokenstore.Entry{Owner: asString(vals[0])}
		if ms, err := strconv.ParseInt(asString(vals[1]), 10, 64); err == nil {
			entry.Timestamp = time.UnixMilli(ms)
		}
		if entry.ClaimableBy(s.opts.Owner, now, s.opts.ClaimTimeout) {
			available = append(available, id)
		}
	}

	return tokenstore.AvailableSegments(ids, available), nil
}

func (s *Store) now() string {
	return strconv.FormatInt(s.opts.Clock().UnixMilli(), 10)
}

func (s *Store) segmentKey(processor string, segmentID int) string {
	return fmt.Sprintf("%s:{%s}:seg:%d", s.prefix, processor, segmentID)
}

func (s *Store) setKey(processor string) string {
	return fmt.Sprintf("%s:{%s}:segments", s.prefix, processor)
}

// replyError maps script error replies to sentinel errors. Errors that are
// not Redis replies (network, pool, deadline) become ErrStoreUnavailable.
func (s *Store) replyError(op, processor string, segmentID int, err error) error {
	if err == nil {
		return nil
	}

	var reply redis.Error
	if !errors.As(err, &reply) {
		return fmt.Errorf("%s %s/%d: %w: %w", op, processor, segmentID, types.ErrStoreUnavailable, err)
	}

	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "NOT_FOUND"):
		return fmt.Errorf("%s %s/%d: %w", op, processor, segmentID, types.ErrSegmentNotFound)
	case strings.HasPrefix(msg, "CLAIMED"):
		owner := strings.TrimSpace(strings.TrimPrefix(msg, "CLAIMED"))
		return fmt.Errorf("%s %s/%d owned by %s: %w", op, processor, segmentID, owner, types.ErrUnableToClaim)
	case strings.HasPrefix(msg, "NOT_OWNER"):
		return fmt.Errorf("%s %s/%d: %w", op, processor, segmentID, types.ErrUnableToClaim)
	case strings.HasPrefix(msg, "EXISTS"):
		return fmt.Errorf("%s %s/%d: %w", op, processor, segmentID, types.ErrSegmentExists)
	default:
		return fmt.Errorf("%s %s/%d: %w", op, processor, segmentID, err)
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	return ""
}
