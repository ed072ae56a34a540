package cfp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/feedflow/cfp/internal/balancer"
	"github.com/feedflow/cfp/internal/bootstrap"
	"github.com/feedflow/cfp/internal/controller"
	"github.com/feedflow/cfp/internal/feedproc"
	"github.com/feedflow/cfp/internal/health"
	"github.com/feedflow/cfp/internal/hooks"
	"github.com/feedflow/cfp/internal/leasemgr"
	"github.com/feedflow/cfp/internal/leasestore"
	"github.com/feedflow/cfp/internal/logging"
	"github.com/feedflow/cfp/internal/metrics"
	"github.com/feedflow/cfp/internal/natskv"
	"github.com/feedflow/cfp/internal/partsync"
	"github.com/feedflow/cfp/internal/presence"
	"github.com/feedflow/cfp/internal/supervisor"
	"github.com/feedflow/cfp/internal/types"
)

// balancerStrategy is an unexported alias so options.go can reference the
// balancer's Strategy interface without importing internal/balancer
// directly in a public-facing type signature; options.go (processorOptions
// and WithBalancerStrategy) is the only place it is named.
type balancerStrategy = balancer.Strategy

// Processor coordinates this host's participation in the partition fleet.
//
// Processor is the main entry point of this library. It handles:
//   - Exactly-once bootstrap of the lease collection
//   - Host presence publication
//   - Periodic load-balancing ticks that acquire this host's fair share
//   - Supervision of a per-partition read/dispatch/checkpoint loop
//
// Thread safety: all public methods are safe for concurrent use.
//
// Lifecycle:
//   - Create with NewProcessor()
//   - Call Start() to bootstrap and begin coordination
//   - Use Hooks to react to lease and health events
//   - Call Stop() for graceful shutdown
type Processor struct {
	cfg   Config
	conn  *nats.Conn
	feed  FeedStoreClient
	owner string

	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger

	leaseClient     LeaseStoreClient
	observerFactory types.ObserverFactory

	bootstrapStore *leasestore.Store
	leases         *leasemgr.Manager
	sync           *partsync.Synchronizer
	health         *health.DefaultMonitor
	controller     *controller.Controller
	bal            *balancer.Balancer
	presencePub    *presence.Publisher
	strategy       balancer.Strategy

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewProcessor creates a new Processor instance with the provided
// configuration.
//
// Parameters:
//   - cfg: runtime configuration
//   - conn: NATS connection used for the lease store and presence registry
//     (ignored if WithLeaseStoreClient is supplied)
//   - feed: feed-store client this host reads changes from
//   - observerFactory: creates an Observer for each partition this host
//     acquires
//   - opts: optional configuration (owner, hooks, metrics, logger, strategy)
//
// Returns a concrete *Processor following the "accept interfaces, return
// structs" principle.
func NewProcessor(cfg *Config, conn *nats.Conn, feed FeedStoreClient, observerFactory ObserverFactory, opts ...Option) (*Processor, error) {
	if cfg == nil {
		return nil, ErrInvalidConfiguration
	}
	if feed == nil {
		return nil, ErrFeedClientRequired
	}
	if observerFactory == nil {
		return nil, ErrObserverFactoryRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	options := &processorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.leaseStoreClient == nil && conn == nil {
		return nil, ErrNATSConnectionRequired
	}

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}
	cfg.ValidateWithWarnings(loggerInstance)

	hooksInstance := options.hooks
	if hooksInstance == nil {
		nopHooks := hooks.NewNop()
		hooksInstance = &nopHooks
	}

	owner := options.owner
	if owner == "" {
		owner = uuid.NewString()
	}

	p := &Processor{
		cfg:             *cfg,
		conn:            conn,
		feed:            feed,
		owner:           owner,
		hooks:           hooksInstance,
		metrics:         metricsCollector,
		logger:          loggerInstance,
		leaseClient:     options.leaseStoreClient,
		strategy:        options.strategy,
		observerFactory: types.ObserverFactory(observerFactory),
	}

	return p, nil
}

// Start bootstraps the lease collection (exactly once across the fleet),
// begins presence publication, and starts the load-balancing tick loop
// and per-partition controller.
//
// Blocks until bootstrap completes and the first balancing tick has run.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.mu.Unlock()

	startupCtx := ctx
	if p.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = context.WithTimeout(ctx, p.cfg.StartupTimeout)
		defer cancel()
	}

	leaseClient := p.leaseClient
	var presenceKV jetstream.KeyValue
	if leaseClient == nil {
		js, err := jetstream.New(p.conn)
		if err != nil {
			return fmt.Errorf("failed to create jetstream context: %w", err)
		}

		leaseKV, err := natskv.EnsureBucket(startupCtx, js, p.cfg.LeasePrefix+"-leases", 0, 5)
		if err != nil {
			return fmt.Errorf("failed to create lease KV bucket: %w", err)
		}
		leaseClient = natskv.New(leaseKV)

		presenceKV, err = natskv.EnsureBucket(startupCtx, js, p.cfg.LeasePrefix+"-presence", p.cfg.LeaseExpirationInterval, 5)
		if err != nil {
			return fmt.Errorf("failed to create presence KV bucket: %w", err)
		}
	}

	p.bootstrapStore = leasestore.New(leaseClient, p.cfg.LeasePrefix, p.owner)
	p.leases = leasemgr.New(leaseClient, p.cfg.LeasePrefix, p.owner, p.cfg.LeaseExpirationInterval, p.logger, p.metrics)
	p.sync = partsync.New(p.feed, p.leases, partsync.Config{
		DegreeOfParallelism: p.cfg.DegreeOfParallelism,
		MaxBatchSize:        p.cfg.QueryPartitionsMaxBatchSize,
		StartFromBeginning:  p.cfg.StartFromBeginning,
		StartTime:           p.cfg.StartTime,
		StartContinuation:   p.cfg.StartContinuation,
	}, p.logger, p.metrics)
	p.health = health.New(p.cfg.UnhealthinessDuration, 0, p.logger, p.metrics, *p.hooks)

	bsCfg := bootstrap.Config{LockTTL: p.cfg.BootstrapLockTTL, RetryWait: p.cfg.BootstrapRetryWait}
	if err := bootstrap.Run(startupCtx, p.bootstrapStore, p.sync, bsCfg, p.logger); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	procCfg := feedproc.Config{
		PollDelay:    p.cfg.FeedPollDelay,
		MaxItemCount: p.cfg.MaxItemCount,
	}
	switch p.cfg.CheckpointFrequency {
	case "every-n-batches":
		procCfg.CheckpointFrequency = feedproc.CheckpointEveryNBatches
		procCfg.CheckpointN = p.cfg.CheckpointN
	case "every-interval":
		procCfg.CheckpointFrequency = feedproc.CheckpointEveryInterval
		procCfg.CheckpointInterval = p.cfg.CheckpointInterval
	default:
		procCfg.CheckpointFrequency = feedproc.CheckpointEveryBatch
	}

	newSupervisor := func() controller.SupervisorRunner {
		return supervisor.NewWithProcessor(
			p.feed, procCfg, p.leases, p.sync, p.health,
			p.cfg.LeaseRenewInterval, p.cfg.UnhealthinessDuration,
			p.logger, p.metrics, *p.hooks,
		)
	}

	p.controller = controller.New(p.leases, newSupervisor, p.observerFactory, p.health, p.logger, *p.hooks)

	var hostLister balancer.HostLister
	if leaseClient != nil && presenceKV != nil {
		registry := presence.NewRegistry(presenceKV, "presence")
		hostLister = registry

		p.presencePub = presence.New(presenceKV, "presence", p.owner, p.cfg.LeaseRenewInterval)
		p.presencePub.SetMetrics(p.metrics)
	}

	if p.strategy == nil {
		p.strategy = balancer.NewEqualPartitions(p.cfg.LeaseExpirationInterval).WithBounds(p.cfg.MinPartitionCount, p.cfg.MaxPartitionCount)
	}

	balCfg := balancer.Config{
		Self:              p.owner,
		TickInterval:      p.cfg.LeaseAcquireInterval,
		MinPartitionCount: p.cfg.MinPartitionCount,
		MaxPartitionCount: p.cfg.MaxPartitionCount,
		LeaseExpiration:   p.cfg.LeaseExpirationInterval,
	}
	p.bal = balancer.New(p.leases, p.controller, p.strategy, hostLister, p.health, balCfg, p.logger, p.metrics)

	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.started = true
	p.mu.Unlock()

	if p.presencePub != nil {
		if err := p.presencePub.Start(p.ctx); err != nil {
			return fmt.Errorf("failed to start presence publisher: %w", err)
		}
	}

	if err := p.bal.Tick(startupCtx); err != nil {
		return fmt.Errorf("initial balancing tick failed: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.bal.Run(p.ctx)
	}()

	return nil
}

// Stop gracefully shuts down the processor: stops the balancing loop,
// releases every partition this host owns, and stops presence
// publication. Safe to call multiple times; subsequent calls return
// ErrNotStarted.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()

	if p.cfg.ShutdownTimeout > 0 {
		var shutdownCancel context.CancelFunc
		ctx, shutdownCancel = context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
		defer shutdownCancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.controller.Shutdown()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
	case <-ctx.Done():
		shutdownErr = ctx.Err()
	}

	if p.presencePub != nil {
		if err := p.presencePub.Stop(); err != nil {
			p.logger.Warn("failed to stop presence publisher", "error", err)
		}
	}

	return shutdownErr
}

// Owner returns this host's lease owner identity.
func (p *Processor) Owner() string {
	return p.owner
}

// OwnedPartitionCount returns the number of partitions currently
// supervised by this host.
func (p *Processor) OwnedPartitionCount() int {
	p.mu.Lock()
	ctrl := p.controller
	p.mu.Unlock()
	if ctrl == nil {
		return 0
	}
	return ctrl.OwnedCount()
}

// TriggerSync forces an out-of-band partition discovery pass: the
// synchronizer re-enumerates the feed store's partitions and creates
// leases for any not yet present. Load-balancing ticks only work on
// existing leases and never enumerate partitions; after bootstrap, a
// partition added to the feed store gets a lease through this call (or,
// for split children, through split handling).
//
// Use this when partitions are added dynamically (e.g. new shards).
func (p *Processor) TriggerSync(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	sync := p.sync
	p.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	if err := sync.CreateMissingLeases(ctx); err != nil {
		return fmt.Errorf("failed to create missing leases: %w", err)
	}

	return nil
}

// WaitForPartitionCount blocks until this host's owned partition count
// equals count, or timeout elapses.
//
// Useful for driving tests deterministically instead of polling with
// sleeps (mirrors the pattern of a state-wait helper on a coordination
// manager).
func (p *Processor) WaitForPartitionCount(count int, timeout time.Duration) error {
	if p.OwnedPartitionCount() == count {
		return nil
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ticker.C:
			if p.OwnedPartitionCount() == count {
				return nil
			}
		case <-timer.C:
			return context.DeadlineExceeded
		}
	}
}
