package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feedflow/cfp/internal/types"
	"github.com/stretchr/testify/require"
)

func TestNewNop(t *testing.T) {
	hooks := NewNop()

	require.NotNil(t, hooks.OnLeaseAcquired)
	require.NotNil(t, hooks.OnLeaseReleased)
	require.NotNil(t, hooks.OnHealth)
	require.NotNil(t, hooks.OnPartitionCountChanged)
}

func TestNopHooks_OnLeaseAcquired(t *testing.T) {
	hooks := NewNop()
	ctx := context.Background()

	err := hooks.OnLeaseAcquired(ctx, types.Partition{ID: "p-1"})
	require.NoError(t, err)
}

func TestNopHooks_OnLeaseReleased(t *testing.T) {
	hooks := NewNop()
	ctx := context.Background()

	err := hooks.OnLeaseReleased(ctx, types.Partition{ID: "p-1"}, types.CloseShutdown)
	require.NoError(t, err)
}

func TestNopHooks_OnHealth(t *testing.T) {
	hooks := NewNop()
	ctx := context.Background()

	event := types.HealthEvent{
		Severity:    types.SeverityWarning,
		Operation:   types.OpRenewLease,
		PartitionID: "p-1",
		Err:         errors.New("renew timeout"),
		LastSeen:    time.Now(),
	}
	err := hooks.OnHealth(ctx, event)
	require.NoError(t, err)
}

func TestNopHooks_OnPartitionCountChanged(t *testing.T) {
	hooks := NewNop()
	ctx := context.Background()

	err := hooks.OnPartitionCountChanged(ctx, 4)
	require.NoError(t, err)
}
