package natskv

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/segpool/tokenstore"
	"github.com/arloliu/segpool/tokenstore/storetest"
	segtest "github.com/arloliu/segpool/testing"
	"github.com/arloliu/segpool/types"
)

func TestConformance(t *testing.T) {
	_, nc := segtest.StartEmbeddedNATS(t)
	var bucketSeq atomic.Int32

	storetest.Run(t, func(t *testing.T) storetest.Factory {
		kv := segtest.CreateJetStreamKV(t, nc, fmt.Sprintf("tokens-%d", bucketSeq.Add(1)))
		return func(opts ...tokenstore.Option) types.TokenStore {
			return New(kv, opts...)
		}
	})
}

func TestKeyLayout(t *testing.T) {
	t.Parallel()

	require.Equal(t, "orders.3", key("orders", 3))
	require.Equal(t, "billing_v2.0", key("billing.v2", 0))
	require.Equal(t, "a_b.12", key("a b", 12))
}

func TestOpen_CreatesBucket(t *testing.T) {
	_, nc := segtest.StartEmbeddedNATS(t)
	ctx := context.Background()

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	store, err := Open(ctx, js, "segpool-tokens", tokenstore.WithOwner("node-1"))
	require.NoError(t, err)
	require.Equal(t, "node-1", store.Owner())

	require.NoError(t, store.InitializeSegment(ctx, types.GlobalSequenceToken{Index: 4}, "orders", 0))

	entry, err := store.kv.Get(ctx, "orders.0")
	require.NoError(t, err)

	decoded, err := tokenstore.UnmarshalEntry(entry.Value())
	require.NoError(t, err)
	require.Equal(t, types.TrackingToken(types.GlobalSequenceToken{Index: 4}), decoded.Token)
	require.Empty(t, decoded.Owner)

	reopened, err := Open(ctx, js, "segpool-tokens")
	require.NoError(t, err)

	ids, err := reopened.FetchSegments(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, []int{0}, ids)
}

func TestFetchSegments_IgnoresOtherKeys(t *testing.T) {
	_, nc := segtest.StartEmbeddedNATS(t)
	ctx := context.Background()

	kv := segtest.CreateJetStreamKV(t, nc, "mixed")
	_, err := kv.Put(ctx, "orders.meta", []byte("x"))
	require.NoError(t, err)
	_, err = kv.Put(ctx, "ordersx.1", []byte("x"))
	require.NoError(t, err)

	store := New(kv)
	require.NoError(t, store.InitializeSegment(ctx, nil, "orders", 2))

	ids, err := store.FetchSegments(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, []int{2}, ids)
}
