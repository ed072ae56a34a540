package types

import "context"

// CloseReason tells an Observer why it is being closed, so it can decide
// whether to flush buffered state before returning.
type CloseReason int

const (
	// CloseShutdown indicates the host is shutting down gracefully, or the
	// lease was voluntarily given up during rebalancing.
	CloseShutdown CloseReason = iota

	// CloseLeaseLost indicates another host stole the lease. Any buffered
	// checkpoint state is already stale; the observer should discard it.
	CloseLeaseLost

	// CloseSplit indicates the partition split; processing continues on
	// the child partitions under new observer instances.
	CloseSplit

	// CloseObserverFailed indicates the observer's own ProcessChanges
	// returned an error; Close is called so it can release resources
	// before the lease is released for retry elsewhere.
	CloseObserverFailed
)

// Observer processes the changes read from one partition. Implementations
// are supplied by the host application; a new instance is created per
// partition via an ObserverFactory.
type Observer interface {
	// Open is called once, before the first ProcessChanges call, with the
	// partition the observer will process.
	Open(ctx context.Context, p Partition) error

	// ProcessChanges handles one batch of changes. A returned error is
	// wrapped in ErrObserverFailed by the caller and ends processing of
	// this partition.
	ProcessChanges(ctx context.Context, batch ChangeBatch) error

	// Close is called exactly once when processing of the partition ends,
	// for any reason given by CloseReason.
	Close(ctx context.Context, reason CloseReason) error
}

// ObserverFactory creates a new Observer for a partition. Called once per
// lease acquisition.
type ObserverFactory func(p Partition) Observer
