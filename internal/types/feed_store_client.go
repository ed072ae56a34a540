package types

import (
	"context"
	"time"
)

// FeedSignal classifies the outcome of a ReadChanges call beyond the
// Go error it may also return. Most signals are delivered alongside a nil
// error; only FeedFatal pairs with a non-nil error that should be wrapped
// in ErrFatal by the caller.
type FeedSignal int

const (
	// FeedOK indicates the batch should be processed normally and NextToken
	// checkpointed. An empty FeedOK batch is treated like FeedNotModified.
	FeedOK FeedSignal = iota

	// FeedNotModified indicates there is nothing new to read; the caller
	// should sleep for FeedPollDelay and try again.
	FeedNotModified

	// FeedThrottled indicates the store asked the caller to slow down.
	// RetryAfter, when non-zero, is the store's requested backoff.
	FeedThrottled

	// FeedPartitionGone indicates the partition no longer exists at the
	// feed store (superseded by a split or externally removed); the
	// caller must treat this like ErrSplit.
	FeedPartitionGone

	// FeedTransient indicates a retryable failure other than throttling;
	// the caller should apply exponential back-off and try again.
	FeedTransient

	// FeedFatal indicates an unrecoverable condition; the accompanying
	// error should be wrapped in ErrFatal.
	FeedFatal
)

// FeedStoreClient is the injected collaborator giving read access to the
// monitored store's partitioned change feed. Implementations translate a
// specific backend's change-tracking mechanism into this interface.
//
// internal/natsfeed implements this over a JetStream stream; internal/
// memfeed implements it in-memory for deterministic tests.
type FeedStoreClient interface {
	// ListPartitions enumerates one page of the monitored store's current
	// partitions, starting after pageToken (empty means start from the
	// beginning) and returning at most maxBatchSize of them. Called by the
	// partition synchronizer during bootstrap and on Processor.TriggerSync
	// to discover partitions; the synchronizer follows nextPageToken
	// until it comes back empty to enumerate the full set.
	ListPartitions(ctx context.Context, pageToken string, maxBatchSize int) (partitions []Partition, nextPageToken string, err error)

	// ReadChanges reads the next batch of changes for partition p,
	// resuming after fromToken (empty means read from the beginning of the
	// partition). maxItemCount bounds the batch size; implementations
	// may return fewer.
	//
	// The returned FeedSignal governs how the caller should interpret a
	// nil error: see the FeedSignal constants.
	ReadChanges(ctx context.Context, p Partition, fromToken string, maxItemCount int) (ChangeBatch, FeedSignal, time.Duration, error)

	// ChildPartitions returns the child partitions that replace parent
	// after a split. Only called after ReadChanges reports
	// FeedPartitionGone; returns an empty slice if parent
	// was removed without being split (e.g. a merge, treated as no
	// children to hand off).
	ChildPartitions(ctx context.Context, parent Partition) ([]Partition, error)
}

// StartPositionResolver is optionally implemented by a FeedStoreClient that
// can translate a wall-clock time into a continuation token for a given
// partition, interpreted according to that backend's own sequencing
// scheme. A FeedStoreClient that does not implement this cannot honor
// Config.StartTime.
type StartPositionResolver interface {
	ResolveStartTime(ctx context.Context, p Partition, at time.Time) (string, error)
}
