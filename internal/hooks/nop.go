package hooks

import (
	"context"

	"github.com/feedflow/cfp/internal/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default used when no custom hooks are provided, eliminating
// the need for nil checks throughout the codebase.
type NopHooks struct{}

var (
	_ func(context.Context, types.Partition) error                    = (*NopHooks)(nil).OnLeaseAcquired
	_ func(context.Context, types.Partition, types.CloseReason) error = (*NopHooks)(nil).OnLeaseReleased
	_ func(context.Context, types.HealthEvent) error                  = (*NopHooks)(nil).OnHealth
	_ func(context.Context, int) error                                = (*NopHooks)(nil).OnPartitionCountChanged
)

// NewNop creates a new no-op hooks implementation.
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnLeaseAcquired:         h.OnLeaseAcquired,
		OnLeaseReleased:         h.OnLeaseReleased,
		OnHealth:                h.OnHealth,
		OnPartitionCountChanged: h.OnPartitionCountChanged,
	}
}

func (h *NopHooks) OnLeaseAcquired(ctx context.Context, p types.Partition) error {
	return nil
}

func (h *NopHooks) OnLeaseReleased(ctx context.Context, p types.Partition, reason types.CloseReason) error {
	return nil
}

func (h *NopHooks) OnHealth(ctx context.Context, event types.HealthEvent) error {
	return nil
}

func (h *NopHooks) OnPartitionCountChanged(ctx context.Context, owned int) error {
	return nil
}
