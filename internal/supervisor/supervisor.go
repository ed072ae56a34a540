// Package supervisor implements the partition supervisor (C5): it couples
// a lease-renewal task with a partition processor (C4) for one owned
// partition, translating how the pair ends into a lease disposition
// (release, no-release, or split hand-off).
//
// The renewer/processor pairing follows the same ticker-driven monitor
// loop the teacher uses to renew its single leadership lease, generalized
// from one global lease to one lease per supervised partition, and from a
// boolean leader flag to a full LeaseLost/ObserverFailed/Split/Fatal exit
// taxonomy.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/feedflow/cfp/internal/feedproc"
	"github.com/feedflow/cfp/internal/types"
)

// Processor runs the read/dispatch/checkpoint loop for one partition.
// *feedproc.Processor satisfies this.
type Processor interface {
	Run(ctx context.Context, lease types.Lease, observer types.Observer) (types.Lease, error)
}

// LeaseOps is the subset of the lease manager the supervisor needs.
type LeaseOps interface {
	Renew(ctx context.Context, lease types.Lease) (types.Lease, error)
	Checkpoint(ctx context.Context, lease types.Lease, continuationToken string) (types.Lease, error)
	Release(ctx context.Context, lease types.Lease) (types.Lease, error)
	Delete(ctx context.Context, lease types.Lease) error
}

// Splitter materializes child leases for a split parent.
type Splitter interface {
	SplitParent(ctx context.Context, parent types.Lease) ([]types.Lease, error)
}

// HealthReporter receives classified failures for deduplication and
// escalation. internal/health implements this (C9); supervisors never
// build types.HealthEvent themselves.
type HealthReporter interface {
	Report(ctx context.Context, severity types.Severity, operation types.Operation, partitionID string, err error)
}

// Supervisor implements C5 for a single partition's lease, for the
// duration of one Run call.
type Supervisor struct {
	newProcessor   func() Processor
	leases         LeaseOps
	splitter       Splitter
	health         HealthReporter
	renewInterval  time.Duration
	unhealthyAfter time.Duration
	logger         types.Logger
	metrics        types.MetricsCollector
	hooks          types.Hooks

	mu    sync.Mutex
	lease types.Lease

	leaseLostByRenewer atomic.Bool
}

var _ feedproc.CancelReasoner = (*Supervisor)(nil)

// New creates a supervisor. newProcessor is called once per Run, so each
// call gets a fresh feedproc.Processor instance bound to this supervisor
// as its Checkpointer (serializing checkpoint writes against lease
// renewal on the same lease record). health may be nil, in which case
// health events are only logged.
func New(newProcessor func() Processor, leases LeaseOps, splitter Splitter, health HealthReporter, renewInterval, unhealthyAfter time.Duration, logger types.Logger, metrics types.MetricsCollector, hooks types.Hooks) *Supervisor {
	return &Supervisor{
		newProcessor:   newProcessor,
		leases:         leases,
		splitter:       splitter,
		health:         health,
		renewInterval:  renewInterval,
		unhealthyAfter: unhealthyAfter,
		logger:         logger,
		metrics:        metrics,
		hooks:          hooks,
	}
}

// NewWithProcessor builds a Supervisor whose Run creates a fresh
// feedproc.Processor over feed and cfg, with this Supervisor as its
// Checkpointer.
func NewWithProcessor(feed types.FeedStoreClient, cfg feedproc.Config, leases LeaseOps, splitter Splitter, health HealthReporter, renewInterval, unhealthyAfter time.Duration, logger types.Logger, metrics types.MetricsCollector, hooks types.Hooks) *Supervisor {
	s := New(nil, leases, splitter, health, renewInterval, unhealthyAfter, logger, metrics, hooks)
	s.newProcessor = func() Processor {
		return feedproc.New(feed, s, cfg, logger, metrics)
	}
	return s
}

// Checkpoint implements feedproc.Checkpointer, serializing checkpoint
// writes against the renewer task via mu so the two goroutines never race
// on the lease's etag.
func (s *Supervisor) Checkpoint(ctx context.Context, _ types.Lease, continuationToken string) (types.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := s.leases.Checkpoint(ctx, s.lease, continuationToken)
	if err != nil {
		return types.Lease{}, err
	}
	s.lease = updated
	return updated, nil
}

// CancelReason implements feedproc.CancelReasoner, letting the processor
// distinguish a renewer-driven LeaseLost cancellation from an ordinary
// shutdown when it observes ctx.Done().
func (s *Supervisor) CancelReason() error {
	if s.leaseLostByRenewer.Load() {
		return types.ErrLeaseLost
	}
	return nil
}

func (s *Supervisor) currentLease() types.Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lease
}

// Run supervises lease until its processor exits, returning the
// disposition applied to the lease (CloseShutdown/CloseLeaseLost/
// CloseSplit/CloseObserverFailed) and a terminal error, one of
// types.ErrLeaseLost, types.ErrObserverFailed, types.ErrFatal, or nil for
// a clean shutdown/split.
func (s *Supervisor) Run(ctx context.Context, lease types.Lease, observer types.Observer) (types.CloseReason, error) {
	s.mu.Lock()
	s.lease = lease
	s.mu.Unlock()
	s.leaseLostByRenewer.Store(false)

	procCtx, cancelProc := context.WithCancel(ctx)
	defer cancelProc()

	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		s.runRenewer(procCtx, cancelProc)
	}()

	proc := s.newProcessor()
	finalLease, procErr := proc.Run(procCtx, s.currentLease(), observer)

	cancelProc()
	<-renewDone

	// Renewals and checkpoints advance the stored etag past the one the
	// processor last saw; release and split cleanup must write against it.
	finalLease.ETag = s.currentLease().ETag

	return s.finalize(ctx, finalLease, procErr)
}

// runRenewer renews the lease every renewInterval until ctx is cancelled.
// A LeaseLost renewal failure cancels the processor immediately. A
// transient failure is retried on the next tick; if renewal has not
// succeeded for unhealthyAfter, it is escalated to LeaseLost.
func (s *Supervisor) runRenewer(ctx context.Context, cancelProc context.CancelFunc) {
	if s.renewInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.renewInterval)
	defer ticker.Stop()

	var unhealthySince time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jitter := time.Duration(rand.Int64N(int64(s.renewInterval) / 5)) //nolint:gosec // jitter, not security sensitive
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter):
			}

			s.mu.Lock()
			updated, err := s.leases.Renew(ctx, s.lease)
			if err == nil {
				s.lease = updated
			}
			s.mu.Unlock()

			if err == nil {
				unhealthySince = time.Time{}
				if s.metrics != nil {
					s.metrics.RecordLeaseRenewed(s.lease.PartitionID)
				}
				continue
			}

			if errors.Is(err, types.ErrLeaseLost) {
				s.leaseLostByRenewer.Store(true)
				cancelProc()
				return
			}

			if unhealthySince.IsZero() {
				unhealthySince = time.Now()
			}
			if s.unhealthyAfter > 0 && time.Since(unhealthySince) >= s.unhealthyAfter {
				s.emitHealth(ctx, types.SeverityCritical, types.OpRenewLease, err)
				s.leaseLostByRenewer.Store(true)
				cancelProc()
				return
			}
			s.emitHealth(ctx, types.SeverityTransient, types.OpRenewLease, err)
		}
	}
}

// cleanupTimeout bounds how long a post-exit lease mutation (release,
// delete, split materialization) is allowed to take. It runs on a context
// detached from the one that triggered the exit, since that context may
// already be cancelled (e.g. host shutdown) by the time cleanup starts.
const cleanupTimeout = 10 * time.Second

func (s *Supervisor) finalize(ctx context.Context, finalLease types.Lease, procErr error) (types.CloseReason, error) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	ctx = cleanupCtx

	partition := types.Partition{ID: finalLease.PartitionID}

	switch {
	case procErr == nil:
		return types.CloseShutdown, nil

	case errors.Is(procErr, types.ErrSplit):
		if s.splitter != nil {
			if _, err := s.splitter.SplitParent(ctx, finalLease); err != nil {
				s.emitHealth(ctx, types.SeverityWarning, types.OpSplit, err)
			}
		}
		if err := s.leases.Delete(ctx, finalLease); err != nil {
			s.emitHealth(ctx, types.SeverityWarning, types.OpSplit, err)
		}
		s.fireReleased(ctx, partition, types.CloseSplit)
		return types.CloseSplit, nil

	case errors.Is(procErr, types.ErrLeaseLost) || s.leaseLostByRenewer.Load():
		s.fireReleased(ctx, partition, types.CloseLeaseLost)
		return types.CloseLeaseLost, types.ErrLeaseLost

	case errors.Is(procErr, types.ErrObserverFailed):
		s.releaseLease(ctx, finalLease)
		s.fireReleased(ctx, partition, types.CloseObserverFailed)
		return types.CloseObserverFailed, fmt.Errorf("%w: %w", types.ErrObserverFailed, procErr)

	case errors.Is(procErr, types.ErrFatal):
		s.releaseLease(ctx, finalLease)
		s.emitHealth(ctx, types.SeverityFatal, types.OpGeneral, procErr)
		s.fireReleased(ctx, partition, types.CloseShutdown)
		return types.CloseShutdown, procErr

	case errors.Is(procErr, types.ErrCancelled):
		s.releaseLease(ctx, finalLease)
		s.fireReleased(ctx, partition, types.CloseShutdown)
		return types.CloseShutdown, nil

	default:
		s.releaseLease(ctx, finalLease)
		s.fireReleased(ctx, partition, types.CloseShutdown)
		return types.CloseShutdown, procErr
	}
}

func (s *Supervisor) releaseLease(ctx context.Context, lease types.Lease) {
	if _, err := s.leases.Release(ctx, lease); err != nil && !errors.Is(err, types.ErrLeaseLost) {
		s.emitHealth(ctx, types.SeverityWarning, types.OpReleaseLease, err)
	}
}

func (s *Supervisor) fireReleased(ctx context.Context, partition types.Partition, reason types.CloseReason) {
	if s.hooks.OnLeaseReleased == nil {
		return
	}
	if err := s.hooks.OnLeaseReleased(ctx, partition, reason); err != nil {
		s.emitHealth(ctx, types.SeverityWarning, types.OpGeneral, err)
	}
}

func (s *Supervisor) emitHealth(ctx context.Context, severity types.Severity, op types.Operation, err error) {
	if s.logger != nil {
		s.logger.Warn("partition supervisor health event", "partition_id", s.currentLease().PartitionID, "severity", severity, "operation", op, "error", err)
	}
	if s.health != nil {
		s.health.Report(ctx, severity, op, s.currentLease().PartitionID, err)
	}
}
