package types

import "context"

// Hooks defines optional callbacks for processor lifecycle events.
//
// All hooks are optional and are called synchronously on the goroutine that
// observed the event (the partition controller, a partition supervisor or
// the health monitor), so a slow hook delays that component.
// Hook errors are logged but never fail the operation that triggered them.
//
// Best practices for hook implementations:
//   - Complete quickly (well under the lease renewal interval)
//   - Respect context cancellation
//   - Be idempotent; a hook may observe the same event more than once
//     across a process restart
type Hooks struct {
	// OnLeaseAcquired is called after this host successfully acquires
	// ownership of a partition's lease; renewals do not call it.
	OnLeaseAcquired func(ctx context.Context, p Partition) error

	// OnLeaseReleased is called after this host gives up a partition's
	// lease, whether voluntarily (rebalancing, shutdown) or because it was
	// stolen (LeaseLost).
	OnLeaseReleased func(ctx context.Context, p Partition, reason CloseReason) error

	// OnHealth is called whenever the health monitor records a new health
	// event (see HealthEvent). Hooks observing this can forward events to
	// an external alerting system.
	OnHealth func(ctx context.Context, event HealthEvent) error

	// OnPartitionCountChanged is called whenever the number of partitions
	// supervised by this host changes: after a lease is acquired and after
	// a partition's supervisor exits.
	OnPartitionCountChanged func(ctx context.Context, owned int) error
}
