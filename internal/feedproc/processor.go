// Package feedproc implements the partition processor (C4): the per-lease
// read loop that pulls change batches from the feed store, dispatches them
// to the observer, and checkpoints progress, built as a cancellable loop
// the same way the teacher builds its ticker-driven heartbeat publisher,
// generalized to the Reading/Dispatching/Checkpointing cycle.
package feedproc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/feedflow/cfp/internal/types"
)

// CheckpointFrequency selects when Run persists a checkpoint after a
// successfully dispatched batch.
type CheckpointFrequency int

const (
	// CheckpointEveryBatch checkpoints after every dispatched batch.
	CheckpointEveryBatch CheckpointFrequency = iota

	// CheckpointEveryNBatches checkpoints once every N dispatched batches.
	CheckpointEveryNBatches

	// CheckpointEveryInterval checkpoints at most once per wall-clock
	// interval, regardless of batch count.
	CheckpointEveryInterval

	// CheckpointManual never checkpoints automatically; the host must call
	// Checkpointer itself out of band (not exposed by Run).
	CheckpointManual
)

// Checkpointer is the subset of the lease manager the processor needs to
// persist progress.
type Checkpointer interface {
	Checkpoint(ctx context.Context, lease types.Lease, continuationToken string) (types.Lease, error)
}

// CancelReasoner is optionally implemented by a Checkpointer to report why
// the run context was cancelled. Run consults it whenever it observes
// ctx.Done(), so it can tell a renewer-driven LeaseLost apart from an
// ordinary shutdown instead of always assuming the latter. A nil result
// (or a Checkpointer that doesn't implement this) means an ordinary
// shutdown.
type CancelReasoner interface {
	CancelReason() error
}

// Config tunes one processor's read loop.
type Config struct {
	PollDelay           time.Duration
	MaxItemCount        int
	CheckpointFrequency CheckpointFrequency
	CheckpointN         int
	CheckpointInterval  time.Duration
	MaxBackoff          time.Duration
}

// Processor implements C4 against an injected types.FeedStoreClient and a
// Checkpointer.
type Processor struct {
	feed         types.FeedStoreClient
	checkpointer Checkpointer
	cfg          Config
	logger       types.Logger
	metrics      types.MetricsCollector
}

// New creates a partition processor.
func New(feed types.FeedStoreClient, checkpointer Checkpointer, cfg Config, logger types.Logger, metrics types.MetricsCollector) *Processor {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Processor{feed: feed, checkpointer: checkpointer, cfg: cfg, logger: logger, metrics: metrics}
}

// Run executes the Reading/Dispatching/Checkpointing cycle for lease until
// ctx is cancelled or a terminal condition is reached. The returned lease
// carries the continuation token of the last batch the observer
// acknowledged (which may not be checkpointed yet) and the etag of the
// last successful checkpoint (or of the input lease); the returned error is
// one of types.ErrSplit, types.ErrObserverFailed, types.ErrLeaseLost,
// types.ErrFatal, or types.ErrCancelled.
func (p *Processor) Run(ctx context.Context, lease types.Lease, observer types.Observer) (types.Lease, error) {
	partition := types.Partition{ID: lease.PartitionID}

	if err := observer.Open(ctx, partition); err != nil {
		_ = observer.Close(ctx, types.CloseObserverFailed)
		return lease, fmt.Errorf("%w: %w", types.ErrObserverFailed, err)
	}

	var runErr error
	defer func() {
		_ = observer.Close(ctx, closeReasonFor(runErr))
	}()

	batchesSinceCheckpoint := 0
	lastCheckpointAt := time.Now()
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			runErr = p.cancelErr()
			return lease, runErr
		default:
		}

		start := time.Now()
		batch, signal, retryAfter, err := p.feed.ReadChanges(ctx, partition, lease.ContinuationToken, p.cfg.MaxItemCount)
		if p.metrics != nil {
			p.metrics.RecordBatchRead(lease.PartitionID, signalName(signal), len(batch.Records), time.Since(start).Seconds())
		}
		if err != nil {
			runErr = fmt.Errorf("%w: read changes: %w", types.ErrFatal, err)
			return lease, runErr
		}

		switch signal {
		case types.FeedPartitionGone:
			runErr = types.ErrSplit
			return lease, runErr

		case types.FeedFatal:
			runErr = fmt.Errorf("%w: feed store reported fatal condition", types.ErrFatal)
			return lease, runErr

		case types.FeedThrottled:
			attempt = 0
			if !p.sleepOrCancel(ctx, retryAfter) {
				runErr = p.cancelErr()
				return lease, runErr
			}
			continue

		case types.FeedTransient:
			delay := p.backoffDelay(attempt)
			attempt++
			if !p.sleepOrCancel(ctx, delay) {
				runErr = p.cancelErr()
				return lease, runErr
			}
			continue

		case types.FeedNotModified:
			attempt = 0
			if !p.sleepOrCancel(ctx, p.cfg.PollDelay) {
				runErr = p.cancelErr()
				return lease, runErr
			}
			continue
		}

		attempt = 0

		if len(batch.Records) == 0 {
			if !p.sleepOrCancel(ctx, p.cfg.PollDelay) {
				runErr = p.cancelErr()
				return lease, runErr
			}
			continue
		}

		observerStart := time.Now()
		processErr := observer.ProcessChanges(ctx, batch)
		if p.metrics != nil {
			p.metrics.RecordObserverDuration(lease.PartitionID, time.Since(observerStart).Seconds())
		}
		if processErr != nil {
			runErr = fmt.Errorf("%w: %w", types.ErrObserverFailed, processErr)
			return lease, runErr
		}

		lease.ContinuationToken = batch.NextToken
		batchesSinceCheckpoint++

		if p.shouldCheckpoint(batchesSinceCheckpoint, lastCheckpointAt) {
			updated, err := p.checkpointer.Checkpoint(ctx, lease, lease.ContinuationToken)
			if err != nil {
				if errors.Is(err, types.ErrLeaseLost) {
					runErr = types.ErrLeaseLost
					return lease, runErr
				}
				// Transient checkpoint failures are not terminal: the token
				// stays advanced in memory and the next eligible round
				// checkpoints whatever token is current by then.
				continue
			}
			lease = updated
			batchesSinceCheckpoint = 0
			lastCheckpointAt = time.Now()
			if p.metrics != nil {
				p.metrics.RecordCheckpoint(lease.PartitionID)
			}
		}
	}
}

// cancelErr resolves the terminal error to use when Run observes ctx.Done(),
// preferring the checkpointer's CancelReason (e.g. a renewer-driven
// LeaseLost) over the generic ErrCancelled.
func (p *Processor) cancelErr() error {
	if r, ok := p.checkpointer.(CancelReasoner); ok {
		if err := r.CancelReason(); err != nil {
			return err
		}
	}
	return types.ErrCancelled
}

// closeReasonFor maps Run's terminal error to the CloseReason passed to the
// observer's Close call.
func closeReasonFor(err error) types.CloseReason {
	switch {
	case errors.Is(err, types.ErrSplit):
		return types.CloseSplit
	case errors.Is(err, types.ErrLeaseLost):
		return types.CloseLeaseLost
	case errors.Is(err, types.ErrObserverFailed):
		return types.CloseObserverFailed
	default:
		return types.CloseShutdown
	}
}

func (p *Processor) shouldCheckpoint(batchesSinceCheckpoint int, lastCheckpointAt time.Time) bool {
	switch p.cfg.CheckpointFrequency {
	case CheckpointEveryBatch:
		return true
	case CheckpointEveryNBatches:
		n := p.cfg.CheckpointN
		if n <= 0 {
			n = 1
		}
		return batchesSinceCheckpoint >= n
	case CheckpointEveryInterval:
		return time.Since(lastCheckpointAt) >= p.cfg.CheckpointInterval
	case CheckpointManual:
		return false
	default:
		return true
	}
}

func (p *Processor) sleepOrCancel(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// backoffDelay computes exponential back-off with jitter, following the
// same doubling shape as the lease store's bucket-setup retry helper.
func (p *Processor) backoffDelay(attempt int) time.Duration {
	base := 100 * time.Millisecond
	delay := base << attempt //nolint:gosec // attempt is bounded by the loop's own retry cadence
	if delay <= 0 || delay > p.cfg.MaxBackoff {
		delay = p.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/2 + 1)) //nolint:gosec // jitter, not security sensitive
	return delay/2 + jitter
}

func signalName(signal types.FeedSignal) string {
	switch signal {
	case types.FeedOK:
		return "ok"
	case types.FeedNotModified:
		return "not_modified"
	case types.FeedThrottled:
		return "throttled"
	case types.FeedPartitionGone:
		return "partition_gone"
	case types.FeedTransient:
		return "transient"
	case types.FeedFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
