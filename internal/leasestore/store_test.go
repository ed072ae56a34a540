package leasestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feedflow/cfp/internal/testutil"
)

func TestStore_BootstrapLifecycle(t *testing.T) {
	client := testutil.NewMemStore()
	store := New(client, "myproc", "host-a")
	ctx := t.Context()

	initialized, err := store.IsInitialized(ctx)
	require.NoError(t, err)
	require.False(t, initialized)

	acquired, err := store.AcquireInitLock(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	acquiredAgain, err := store.AcquireInitLock(ctx, time.Minute)
	require.NoError(t, err)
	require.False(t, acquiredAgain)

	require.NoError(t, store.MarkInitialized(ctx))
	require.NoError(t, store.MarkInitialized(ctx)) // idempotent

	initialized, err = store.IsInitialized(ctx)
	require.NoError(t, err)
	require.True(t, initialized)

	require.NoError(t, store.ReleaseInitLock(ctx))
	require.NoError(t, store.ReleaseInitLock(ctx)) // idempotent

	acquired, err = store.AcquireInitLock(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
}
