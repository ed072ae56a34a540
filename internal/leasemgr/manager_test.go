package leasemgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feedflow/cfp/internal/testutil"
	"github.com/feedflow/cfp/internal/types"
)

func newTestManager(owner string) (*Manager, *testutil.MemStore) {
	client := testutil.NewMemStore()
	mgr := New(client, "myproc", owner, time.Minute, nil, nil)
	return mgr, client
}

func TestManager_CreateIfAbsentAndListAll(t *testing.T) {
	mgr, _ := newTestManager("host-a")
	ctx := t.Context()

	created, err := mgr.CreateIfAbsent(ctx, "p-1", "")
	require.NoError(t, err)
	require.True(t, created)

	createdAgain, err := mgr.CreateIfAbsent(ctx, "p-1", "")
	require.NoError(t, err)
	require.False(t, createdAgain)

	_, err = mgr.CreateIfAbsent(ctx, "p-2", "tok-5")
	require.NoError(t, err)

	leases, err := mgr.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 2)
	require.Equal(t, "p-1", leases[0].PartitionID)
	require.Equal(t, "p-2", leases[1].PartitionID)
	require.Equal(t, "tok-5", leases[1].ContinuationToken)
	require.Empty(t, leases[0].Owner)
}

func TestManager_AcquireRenewRelease(t *testing.T) {
	mgr, _ := newTestManager("host-a")
	ctx := t.Context()

	_, err := mgr.CreateIfAbsent(ctx, "p-1", "")
	require.NoError(t, err)

	leases, err := mgr.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 1)

	acquired, err := mgr.Acquire(ctx, leases[0])
	require.NoError(t, err)
	require.Equal(t, "host-a", acquired.Owner)

	owned, err := mgr.ListOwnedBy(ctx, "host-a")
	require.NoError(t, err)
	require.Len(t, owned, 1)

	renewed, err := mgr.Renew(ctx, acquired)
	require.NoError(t, err)
	require.True(t, renewed.Timestamp.After(acquired.Timestamp) || renewed.Timestamp.Equal(acquired.Timestamp))
	require.NotEqual(t, acquired.ETag, renewed.ETag)

	released, err := mgr.Release(ctx, renewed)
	require.NoError(t, err)
	require.Empty(t, released.Owner)
}

func TestManager_AcquireStaleEtagRetriesOnceIfOwnable(t *testing.T) {
	mgr, client := newTestManager("host-a")
	ctx := t.Context()

	_, err := mgr.CreateIfAbsent(ctx, "p-1", "")
	require.NoError(t, err)

	leases, err := mgr.ListAll(ctx)
	require.NoError(t, err)
	stale := leases[0]

	// Mutate the underlying record directly to simulate another actor
	// touching it between the caller's read and its Acquire call, without
	// claiming ownership (still unowned, so still acquirable).
	_, err = client.Replace(ctx, "myproc..p-1", []byte(`{"owner":"","continuation_token":"","timestamp":"2024-01-01T00:00:00Z"}`), stale.ETag)
	require.NoError(t, err)

	acquired, err := mgr.Acquire(ctx, stale)
	require.NoError(t, err)
	require.Equal(t, "host-a", acquired.Owner)
}

func TestManager_AcquireFailsLeaseLostWhenOwnedBySomeoneElse(t *testing.T) {
	mgr, client := newTestManager("host-a")
	other := New(client, "myproc", "host-b", time.Minute, nil, nil)
	ctx := t.Context()

	_, err := mgr.CreateIfAbsent(ctx, "p-1", "")
	require.NoError(t, err)

	leases, err := mgr.ListAll(ctx)
	require.NoError(t, err)
	stale := leases[0]

	_, err = mgr.Acquire(ctx, stale)
	require.NoError(t, err)

	// other tries to acquire with the stale pre-acquisition lease view.
	_, err = other.Acquire(ctx, stale)
	require.ErrorIs(t, err, types.ErrLeaseLost)
}

func TestManager_Checkpoint(t *testing.T) {
	mgr, _ := newTestManager("host-a")
	ctx := t.Context()

	_, err := mgr.CreateIfAbsent(ctx, "p-1", "")
	require.NoError(t, err)
	leases, err := mgr.ListAll(ctx)
	require.NoError(t, err)

	acquired, err := mgr.Acquire(ctx, leases[0])
	require.NoError(t, err)

	checkpointed, err := mgr.Checkpoint(ctx, acquired, "tok-1")
	require.NoError(t, err)
	require.Equal(t, "tok-1", checkpointed.ContinuationToken)

	_, err = mgr.Checkpoint(ctx, acquired, "tok-stale")
	require.ErrorIs(t, err, types.ErrLeaseLost)
}

func TestManager_UpdatePropertiesMerges(t *testing.T) {
	mgr, _ := newTestManager("host-a")
	ctx := t.Context()

	_, err := mgr.CreateIfAbsent(ctx, "p-1", "")
	require.NoError(t, err)
	leases, err := mgr.ListAll(ctx)
	require.NoError(t, err)

	updated, err := mgr.UpdateProperties(ctx, leases[0], map[string]string{"region": "us-east"})
	require.NoError(t, err)
	require.Equal(t, "us-east", updated.Properties["region"])

	updated2, err := mgr.UpdateProperties(ctx, updated, map[string]string{"zone": "a"})
	require.NoError(t, err)
	require.Equal(t, "us-east", updated2.Properties["region"])
	require.Equal(t, "a", updated2.Properties["zone"])
}

func TestManager_Delete(t *testing.T) {
	mgr, _ := newTestManager("host-a")
	ctx := t.Context()

	_, err := mgr.CreateIfAbsent(ctx, "p-1", "")
	require.NoError(t, err)
	leases, err := mgr.ListAll(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, leases[0]))

	all, err := mgr.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}
