// Package balancer implements the load balancer (C7): on every tick, it
// lists the global lease set, asks a Strategy which leases
// self should hold, and reconciles the controller's owned set to match.
//
// The ticker-driven tick loop follows the same shape as the teacher's
// leadership monitor loop; the default equal-partitions strategy's
// tie-break hashing uses zeebo/xxh3, the same hashing library the pack
// uses for its own consistent-hash ring, for a deterministic final
// ordering when share and timestamp both tie.
package balancer

import (
	"context"
	"sort"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/feedflow/cfp/internal/types"
)

// LeaseLister is the subset of the lease manager the balancer needs.
type LeaseLister interface {
	ListAll(ctx context.Context) ([]types.Lease, error)
}

// ControllerOps is the subset of the controller the balancer drives.
type ControllerOps interface {
	Add(ctx context.Context, lease types.Lease) error
	Remove(ctx context.Context, partitionID string)
	IsOwned(partitionID string) bool
	OwnedCount() int
}

// HostLister reports the hosts currently known to be alive, independent
// of lease ownership. A host holding zero leases is otherwise invisible
// to every other host's fair-share computation; internal/presence
// implements this over a NATS KV presence bucket. Optional: when nil, the
// active host count is inferred purely from which hosts currently own at
// least one lease.
type HostLister interface {
	ActiveHosts(ctx context.Context) ([]string, error)
}

// Strategy selects, from the global lease set, which leases self should
// hold after this tick. activeHosts is the number of hosts known to be
// alive; 0 means "unknown, infer from lease ownership."
type Strategy interface {
	SelectLeasesToTake(self string, leases []types.Lease, now time.Time, activeHosts int) []types.Lease
}

// HealthSweeper is the subset of the health monitor the balancer drives to
// bound its dedup-state memory growth. internal/health.DefaultMonitor
// implements this. Optional: when nil, Tick never sweeps.
type HealthSweeper interface {
	Sweep()
}

// Config tunes one balancer.
type Config struct {
	Self              string
	TickInterval      time.Duration
	MinPartitionCount int
	MaxPartitionCount int
	LeaseExpiration   time.Duration
}

// Balancer implements C7.
type Balancer struct {
	leases     LeaseLister
	controller ControllerOps
	strategy   Strategy
	hosts      HostLister
	sweeper    HealthSweeper
	cfg        Config
	logger     types.Logger
	metrics    types.MetricsCollector
}

// New creates a balancer. A nil strategy defaults to EqualPartitions. hosts
// may be nil, in which case active host count is inferred from lease
// ownership alone. sweeper may be nil, in which case Tick never sweeps
// health dedup state; internal/health.DefaultMonitor satisfies it, and the
// balancer's own tick cadence doubles as the sweep cadence since both scale
// with fleet activity.
func New(leases LeaseLister, controller ControllerOps, strategy Strategy, hosts HostLister, sweeper HealthSweeper, cfg Config, logger types.Logger, metrics types.MetricsCollector) *Balancer {
	if strategy == nil {
		strategy = NewEqualPartitions(cfg.LeaseExpiration)
	}
	return &Balancer{leases: leases, controller: controller, strategy: strategy, hosts: hosts, sweeper: sweeper, cfg: cfg, logger: logger, metrics: metrics}
}

// Run ticks every cfg.TickInterval until ctx is cancelled, calling Tick on
// each fire (and once immediately, so a freshly started host doesn't wait
// a full interval before its first balance pass).
func (b *Balancer) Run(ctx context.Context) {
	if err := b.Tick(ctx); err != nil && b.logger != nil {
		b.logger.Warn("balance tick failed", "error", err)
	}

	if b.cfg.TickInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Tick(ctx); err != nil && b.logger != nil {
				b.logger.Warn("balance tick failed", "error", err)
			}
		}
	}
}

// Tick runs one balancing pass.
func (b *Balancer) Tick(ctx context.Context) error {
	start := time.Now()

	leases, err := b.leases.ListAll(ctx)
	if err != nil {
		return err
	}

	activeHosts := 0
	if b.hosts != nil {
		hosts, hostErr := b.hosts.ActiveHosts(ctx)
		if hostErr != nil {
			if b.logger != nil {
				b.logger.Warn("failed to list active hosts, falling back to lease-inferred count", "error", hostErr)
			}
		} else {
			activeHosts = len(hosts)
		}
	}

	target := b.strategy.SelectLeasesToTake(b.cfg.Self, leases, time.Now(), activeHosts)
	targetIDs := make(map[string]bool, len(target))
	for _, l := range target {
		targetIDs[l.PartitionID] = true
	}

	acquired, released := 0, 0

	for _, l := range target {
		if b.controller.IsOwned(l.PartitionID) {
			continue
		}
		if err := b.controller.Add(ctx, l); err != nil {
			if b.logger != nil {
				b.logger.Warn("failed to acquire lease during balance tick", "partition_id", l.PartitionID, "error", err)
			}
			continue
		}
		acquired++
	}

	for _, l := range leases {
		if l.Owner != b.cfg.Self {
			continue
		}
		if targetIDs[l.PartitionID] {
			continue
		}
		if !b.controller.IsOwned(l.PartitionID) {
			continue
		}
		b.controller.Remove(ctx, l.PartitionID)
		released++
	}

	if b.metrics != nil {
		b.metrics.RecordBalanceTick(time.Since(start).Seconds(), acquired, released)
		b.metrics.RecordTargetPartitionCount(len(target))
		b.metrics.RecordActiveHostCount(countActiveHosts(leases, time.Now(), b.cfg.LeaseExpiration))
		b.metrics.RecordOwnedLeaseCount(b.controller.OwnedCount())
	}

	if b.sweeper != nil {
		b.sweeper.Sweep()
	}

	return nil
}

func countActiveHosts(leases []types.Lease, now time.Time, expiration time.Duration) int {
	hosts := make(map[string]bool)
	for _, l := range leases {
		if l.IsOwned(now, expiration) {
			hosts[l.Owner] = true
		}
	}
	return len(hosts)
}

// EqualPartitions is the default Strategy: self takes leases until its
// share reaches ceil(total/active_hosts), bounded by
// [MinPartitionCount, MaxPartitionCount], preferring to take its own
// already-owned leases, then unowned leases, then expired leases, then
// leases stolen from the most-overloaded host.
type EqualPartitions struct {
	leaseExpiration time.Duration
	minCount        int
	maxCount        int
}

// NewEqualPartitions creates the default load-balancing strategy.
func NewEqualPartitions(leaseExpiration time.Duration) *EqualPartitions {
	return &EqualPartitions{leaseExpiration: leaseExpiration}
}

// WithBounds sets [min, max] bounds on self's target partition count. A
// zero value leaves that bound unconstrained.
func (e *EqualPartitions) WithBounds(min, max int) *EqualPartitions {
	e.minCount = min
	e.maxCount = max
	return e
}

func (e *EqualPartitions) SelectLeasesToTake(self string, leases []types.Lease, now time.Time, activeHosts int) []types.Lease {
	if len(leases) == 0 {
		return nil
	}

	hostsByOwnedLease := map[string]int{}
	var ownedBySelf, unowned, expired []types.Lease
	othersByHost := map[string][]types.Lease{}

	for _, l := range leases {
		owned := l.IsOwned(now, e.leaseExpiration)
		switch {
		case l.Owner == self && owned:
			ownedBySelf = append(ownedBySelf, l)
			hostsByOwnedLease[self]++
		case l.Owner == "":
			unowned = append(unowned, l)
		case !owned:
			expired = append(expired, l)
		default:
			othersByHost[l.Owner] = append(othersByHost[l.Owner], l)
			hostsByOwnedLease[l.Owner]++
		}
	}

	numActiveHosts := activeHosts
	if numActiveHosts <= 0 {
		numActiveHosts = len(hostsByOwnedLease)
		if _, ok := hostsByOwnedLease[self]; !ok {
			numActiveHosts++
		}
	}
	if numActiveHosts == 0 {
		numActiveHosts = 1
	}

	target := ceilDiv(len(leases), numActiveHosts)
	if e.minCount > 0 && target < e.minCount {
		target = e.minCount
	}
	if e.maxCount > 0 && target > e.maxCount {
		target = e.maxCount
	}

	sortByPartitionID(ownedBySelf)
	result := append([]types.Lease{}, ownedBySelf...)
	if len(result) >= target {
		return result[:target]
	}

	sortByPartitionID(unowned)
	for _, l := range unowned {
		if len(result) >= target {
			break
		}
		result = append(result, l)
	}
	if len(result) >= target {
		return result
	}

	expiredByOwner := make(map[string][]types.Lease, len(expired))
	for _, l := range expired {
		expiredByOwner[l.Owner] = append(expiredByOwner[l.Owner], l)
	}
	for _, owner := range mostOverloadedFirst(expiredByOwner) {
		candidates := expiredByOwner[owner]
		sortStealable(candidates)
		for _, l := range candidates {
			if len(result) >= target {
				break
			}
			result = append(result, l)
		}
		if len(result) >= target {
			break
		}
	}
	if len(result) >= target {
		return result
	}

	overloaded := mostOverloadedFirst(othersByHost)
	for _, host := range overloaded {
		candidates := othersByHost[host]
		sortStealable(candidates)
		for _, l := range candidates {
			if len(result) >= target {
				break
			}
			result = append(result, l)
		}
		if len(result) >= target {
			break
		}
	}

	return result
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

func sortByPartitionID(leases []types.Lease) {
	sort.Slice(leases, func(i, j int) bool { return leases[i].PartitionID < leases[j].PartitionID })
}

// sortStealable orders leases by the fairness tie-break: oldest timestamp
// first, falling back to a deterministic hash of the partition id when
// timestamps tie (e.g. leases created in the same bootstrap batch).
func sortStealable(leases []types.Lease) {
	sort.Slice(leases, func(i, j int) bool {
		if !leases[i].Timestamp.Equal(leases[j].Timestamp) {
			return leases[i].Timestamp.Before(leases[j].Timestamp)
		}
		return xxh3.HashString(leases[i].PartitionID) < xxh3.HashString(leases[j].PartitionID)
	})
}

// mostOverloadedFirst orders hosts by descending lease count, breaking
// ties by a hash of the host id for a stable but arbitrary order across
// balancers that can't otherwise agree.
func mostOverloadedFirst(byHost map[string][]types.Lease) []string {
	hosts := make([]string, 0, len(byHost))
	for h := range byHost {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool {
		ci, cj := len(byHost[hosts[i]]), len(byHost[hosts[j]])
		if ci != cj {
			return ci > cj
		}
		return xxh3.HashString(hosts[i]) < xxh3.HashString(hosts[j])
	})
	return hosts
}
