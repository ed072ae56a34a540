package natskv

import (
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/feedflow/cfp/internal/testutil"
	"github.com/feedflow/cfp/internal/types"
)

func TestStore_CreateGetReplaceDelete(t *testing.T) {
	_, nc := testutil.StartEmbeddedNATS(t)
	kv := testutil.CreateJetStreamKV(t, nc, "leases")
	store := New(kv)
	ctx := t.Context()

	etag, err := store.Create(ctx, "p-1", []byte("v1"), 0)
	require.NoError(t, err)
	require.NotEmpty(t, etag)

	_, err = store.Create(ctx, "p-1", []byte("v2"), 0)
	require.ErrorIs(t, err, types.ErrAlreadyExists)

	value, gotEtag, err := store.Get(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)
	require.Equal(t, etag, gotEtag)

	newEtag, err := store.Replace(ctx, "p-1", []byte("v2"), etag)
	require.NoError(t, err)
	require.NotEqual(t, etag, newEtag)

	_, err = store.Replace(ctx, "p-1", []byte("v3"), etag)
	require.ErrorIs(t, err, types.ErrLeaseLost)

	require.NoError(t, store.Delete(ctx, "p-1"))

	_, _, err = store.Get(ctx, "p-1")
	require.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "p-1"))
}

func TestStore_ReplaceMissing(t *testing.T) {
	_, nc := testutil.StartEmbeddedNATS(t)
	kv := testutil.CreateJetStreamKV(t, nc, "leases")
	store := New(kv)
	ctx := t.Context()

	_, err := store.Replace(ctx, "missing", []byte("v1"), "1")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestStore_List(t *testing.T) {
	_, nc := testutil.StartEmbeddedNATS(t)
	kv := testutil.CreateJetStreamKV(t, nc, "leases")
	store := New(kv)
	ctx := t.Context()

	_, err := store.Create(ctx, "lease.p-1", []byte("v1"), 0)
	require.NoError(t, err)
	_, err = store.Create(ctx, "lease.p-2", []byte("v2"), 0)
	require.NoError(t, err)
	_, err = store.Create(ctx, "other.x", []byte("v3"), 0)
	require.NoError(t, err)

	records, err := store.List(ctx, "lease.")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestEnsureBucket_CreatesThenOpens(t *testing.T) {
	_, nc := testutil.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx := t.Context()
	kv1, err := EnsureBucket(ctx, js, "leases-bucket", time.Minute, 3)
	require.NoError(t, err)
	require.NotNil(t, kv1)

	kv2, err := EnsureBucket(ctx, js, "leases-bucket", time.Minute, 3)
	require.NoError(t, err)
	require.NotNil(t, kv2)
}

func TestEnsureBucket_ConcurrentCallersConverge(t *testing.T) {
	_, nc := testutil.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx := t.Context()
	numHosts := 5
	kvs := make([]jetstream.KeyValue, numHosts)
	errs := make([]error, numHosts)

	var wg sync.WaitGroup
	for i := range numHosts {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			kvs[idx], errs[idx] = EnsureBucket(ctx, js, "contended-bucket", time.Minute, 5)
		}(i)
	}
	wg.Wait()

	for i := range numHosts {
		require.NoError(t, errs[i])
		require.NotNil(t, kvs[i])
	}
}
