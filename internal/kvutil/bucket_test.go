package kvutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	segtest "github.com/arloliu/segpool/testing"
)

func TestEnsureKVBucketWithRetry_Creates(t *testing.T) {
	_, nc := segtest.StartEmbeddedNATS(t)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	kv, err := EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{Bucket: "tokens", History: 1}, 3)
	require.NoError(t, err)
	require.Equal(t, "tokens", kv.Bucket())

	again, err := EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{Bucket: "tokens", History: 1}, 3)
	require.NoError(t, err)
	require.Equal(t, "tokens", again.Bucket())
}

func TestEnsureKVBucketWithRetry_ConcurrentProcesses(t *testing.T) {
	_, nc := segtest.StartEmbeddedNATS(t)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{Bucket: "race", History: 1}, 5)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func TestEnsureKVBucketWithRetry_ContextDone(t *testing.T) {
	_, nc := segtest.StartEmbeddedNATS(t)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{Bucket: "cancelled"}, 3)
	require.Error(t, err)
}
