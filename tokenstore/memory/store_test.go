package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/segpool/tokenstore"
	"github.com/arloliu/segpool/tokenstore/storetest"
	"github.com/arloliu/segpool/types"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) storetest.Factory {
		shared := New()
		return func(opts ...tokenstore.Option) types.TokenStore {
			return shared.WithOptions(opts...)
		}
	})
}

func TestForOwner_SharesState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := New(tokenstore.WithOwner("a"))
	b := a.ForOwner("b")

	require.Equal(t, "b", b.Owner())
	require.NoError(t, a.InitializeSegment(ctx, types.GlobalSequenceToken{Index: 1}, "p", 0))

	_, err := a.FetchToken(ctx, "p", 0)
	require.NoError(t, err)
	_, err = b.FetchToken(ctx, "p", 0)
	require.ErrorIs(t, err, types.ErrUnableToClaim)

	entries := b.Entries("p")
	require.Len(t, entries, 1)
	require.Equal(t, "a", entries[0].Owner)
}
