// Package controller implements the controller (C6): it holds the set of
// partitions currently owned by this host, starting a supervisor (C5) for
// each one the load balancer (C7) assigns it and tearing one down when
// asked to release it or when its supervisor exits on its own.
//
// The running-task bookkeeping (a map keyed by identity, each entry
// carrying its own cancel func, joined through a shared WaitGroup on
// Shutdown) follows the same lifecycle-management shape the teacher uses
// for its own ctx/cancel/wg triad, just keyed per partition instead of
// global to the host.
package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/feedflow/cfp/internal/types"
)

// SupervisorRunner runs a supervised partition until its lease is given up,
// stolen, split, or the context is cancelled. *supervisor.Supervisor
// satisfies this.
type SupervisorRunner interface {
	Run(ctx context.Context, lease types.Lease, observer types.Observer) (types.CloseReason, error)
}

// LeaseAcquirer is the subset of the lease manager the controller needs to
// claim a lease before starting a supervisor for it.
type LeaseAcquirer interface {
	Acquire(ctx context.Context, lease types.Lease) (types.Lease, error)
}

// HealthReporter receives classified failures. internal/health implements
// this (C9).
type HealthReporter interface {
	Report(ctx context.Context, severity types.Severity, operation types.Operation, partitionID string, err error)
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller implements C6.
type Controller struct {
	acquirer        LeaseAcquirer
	newSupervisor   func() SupervisorRunner
	observerFactory types.ObserverFactory
	hooks           types.Hooks
	health          HealthReporter
	logger          types.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	tasks    map[string]*running
	owned    atomic.Int64

	wg sync.WaitGroup
}

// New creates a controller. newSupervisor is called once per Add, so each
// supervised partition gets its own *supervisor.Supervisor instance.
func New(acquirer LeaseAcquirer, newSupervisor func() SupervisorRunner, observerFactory types.ObserverFactory, health HealthReporter, logger types.Logger, hooks types.Hooks) *Controller {
	return &Controller{
		acquirer:        acquirer,
		newSupervisor:   newSupervisor,
		observerFactory: observerFactory,
		hooks:           hooks,
		health:          health,
		logger:          logger,
		inFlight:        make(map[string]struct{}),
		tasks:           make(map[string]*running),
	}
}

// OwnedCount returns the number of partitions this controller currently
// supervises; leases still being acquired are not counted.
func (c *Controller) OwnedCount() int {
	return int(c.owned.Load())
}

// IsOwned reports whether partitionID already has a running or
// in-flight-acquiring supervisor on this host.
func (c *Controller) IsOwned(partitionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, running := c.tasks[partitionID]
	_, acquiring := c.inFlight[partitionID]
	return running || acquiring
}

// Add acquires lease and, on success, starts a supervisor for it in the
// background. Add is a no-op if the partition is already owned or being
// acquired. A LeaseLost or NotFound acquisition failure is dropped
// silently (another host won the race, or the lease was retired by a
// split); any other acquisition failure is returned to the caller, which
// for the load balancer means "try again next tick".
func (c *Controller) Add(ctx context.Context, lease types.Lease) error {
	c.mu.Lock()
	if _, exists := c.tasks[lease.PartitionID]; exists {
		c.mu.Unlock()
		return nil
	}
	if _, exists := c.inFlight[lease.PartitionID]; exists {
		c.mu.Unlock()
		return nil
	}
	c.inFlight[lease.PartitionID] = struct{}{}
	c.mu.Unlock()

	acquired, err := c.acquirer.Acquire(ctx, lease)

	c.mu.Lock()
	delete(c.inFlight, lease.PartitionID)
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, types.ErrLeaseLost) || errors.Is(err, types.ErrNotFound) {
			return nil
		}
		if c.health != nil {
			c.health.Report(ctx, types.SeverityWarning, types.OpAcquireLease, lease.PartitionID, err)
		}
		return err
	}

	partition := types.Partition{ID: acquired.PartitionID}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	if _, exists := c.tasks[lease.PartitionID]; exists {
		// Raced with a concurrent Add for the same partition; keep the
		// winner's supervisor and give this one up.
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.tasks[lease.PartitionID] = &running{cancel: cancel, done: make(chan struct{})}
	c.mu.Unlock()

	c.owned.Add(1)
	if c.hooks.OnLeaseAcquired != nil {
		if hookErr := c.hooks.OnLeaseAcquired(ctx, partition); hookErr != nil && c.health != nil {
			c.health.Report(ctx, types.SeverityWarning, types.OpGeneral, lease.PartitionID, hookErr)
		}
	}
	c.fireOwnedCountChanged(ctx)

	c.wg.Add(1)
	go c.supervise(taskCtx, acquired, partition)

	return nil
}

func (c *Controller) supervise(ctx context.Context, lease types.Lease, partition types.Partition) {
	defer c.wg.Done()

	sup := c.newSupervisor()
	var observer types.Observer
	if c.observerFactory != nil {
		observer = c.observerFactory(partition)
	}

	_, err := sup.Run(ctx, lease, observer)
	if err != nil && c.health != nil && c.logger != nil {
		c.logger.Warn("supervisor exited with error", "partition_id", partition.ID, "error", err)
	}

	c.mu.Lock()
	task, exists := c.tasks[partition.ID]
	if exists {
		delete(c.tasks, partition.ID)
	}
	c.mu.Unlock()

	if exists {
		c.owned.Add(-1)
		close(task.done)
		c.fireOwnedCountChanged(context.WithoutCancel(ctx))
	}
}

// Remove cancels the supervisor for partitionID, if running, and blocks
// until it has fully exited (including releasing the lease) or ctx is
// done, whichever comes first. Remove is a no-op if partitionID is not
// currently owned.
func (c *Controller) Remove(ctx context.Context, partitionID string) {
	c.mu.Lock()
	task, exists := c.tasks[partitionID]
	c.mu.Unlock()
	if !exists {
		return
	}

	task.cancel()

	select {
	case <-task.done:
	case <-ctx.Done():
	}
}

// Shutdown cancels every running supervisor and waits for all of them to
// exit.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	tasks := make([]*running, 0, len(c.tasks))
	for _, t := range c.tasks {
		tasks = append(tasks, t)
	}
	c.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	c.wg.Wait()
}

func (c *Controller) fireOwnedCountChanged(ctx context.Context) {
	if c.hooks.OnPartitionCountChanged == nil {
		return
	}
	if err := c.hooks.OnPartitionCountChanged(ctx, c.OwnedCount()); err != nil && c.health != nil {
		c.health.Report(ctx, types.SeverityWarning, types.OpGeneral, "", err)
	}
}
