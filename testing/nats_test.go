package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartEmbeddedNATS(t *testing.T) {
	ns, nc := StartEmbeddedNATS(t)

	require.True(t, nc.IsConnected())
	require.True(t, ns.ReadyForConnections(time.Second))
	require.True(t, ns.JetStreamEnabled())
}

func TestStartEmbeddedNATS_Parallel(t *testing.T) {
	t.Parallel()

	for range 3 {
		t.Run("parallel", func(t *testing.T) {
			t.Parallel()

			_, nc := StartEmbeddedNATS(t)
			require.True(t, nc.IsConnected())
		})
	}
}

func TestCreateJetStreamKV(t *testing.T) {
	ctx := t.Context()
	_, nc := StartEmbeddedNATS(t)

	kv1 := CreateJetStreamKV(t, nc, "bucket-1")
	kv2 := CreateJetStreamKV(t, nc, "bucket-2")

	_, err := kv1.Put(ctx, "key", []byte("one"))
	require.NoError(t, err)
	_, err = kv2.Put(ctx, "key", []byte("two"))
	require.NoError(t, err)

	entry, err := kv1.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), entry.Value())

	entry, err = kv2.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), entry.Value())
}

func TestCreateEventStream(t *testing.T) {
	ctx := t.Context()
	_, nc := StartEmbeddedNATS(t)

	stream := CreateEventStream(t, nc, "EVENTS", "events.>")

	_, err := nc.Request("events.a", []byte("x"), time.Second)
	require.NoError(t, err)

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.State.Msgs)
}

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger(t)
	logger.Info("hello", "k", "v")
}
