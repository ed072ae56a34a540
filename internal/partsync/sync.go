// Package partsync implements the partition synchronizer (C3): enumerating
// the monitored store's current partitions, creating missing leases with
// bounded concurrency, and materializing child leases after a split.
//
// Bounded fan-out uses golang.org/x/sync/errgroup, the same join idiom the
// pack's Spanner change-stream partition processor uses to fan out work
// per discovered child partition and wait for the whole batch.
package partsync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feedflow/cfp/internal/types"
)

// LeaseCreator is the subset of the lease manager partsync depends on.
type LeaseCreator interface {
	CreateIfAbsent(ctx context.Context, partitionID, continuationToken string) (bool, error)
}

// Config tunes one synchronizer's enumeration paging, fan-out, and the
// initial continuation token seeded into leases for newly discovered
// partitions.
type Config struct {
	// DegreeOfParallelism bounds concurrent lease creation in
	// CreateMissingLeases/SplitParent. Values <= 0 default to 1
	// (sequential).
	DegreeOfParallelism int

	// MaxBatchSize bounds the page size used when enumerating partitions
	// from the feed store. Values <= 0 leave the choice to the feed store.
	MaxBatchSize int

	// StartFromBeginning, StartTime, and StartContinuation seed the
	// continuation token of a newly created lease. Mutually exclusive,
	// checked in that order; if none is set the token defaults to empty
	// (equivalent to StartFromBeginning).
	StartFromBeginning bool
	StartTime          time.Time
	StartContinuation  string
}

// Synchronizer implements C3 against an injected types.FeedStoreClient and
// lease manager.
type Synchronizer struct {
	feed    types.FeedStoreClient
	leases  LeaseCreator
	cfg     Config
	logger  types.Logger
	metrics types.MetricsCollector
}

// New creates a partition synchronizer.
func New(feed types.FeedStoreClient, leases LeaseCreator, cfg Config, logger types.Logger, metrics types.MetricsCollector) *Synchronizer {
	if cfg.DegreeOfParallelism <= 0 {
		cfg.DegreeOfParallelism = 1
	}
	return &Synchronizer{
		feed:    feed,
		leases:  leases,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// ListPartitions queries the monitored store for its current partitions,
// following nextPageToken until the feed store reports enumeration is
// exhausted.
func (s *Synchronizer) ListPartitions(ctx context.Context) ([]types.Partition, error) {
	var all []types.Partition
	pageToken := ""
	for {
		page, nextPageToken, err := s.feed.ListPartitions(ctx, pageToken, s.cfg.MaxBatchSize)
		if err != nil {
			return nil, fmt.Errorf("%w: list partitions: %w", types.ErrTransient, err)
		}
		all = append(all, page...)
		if nextPageToken == "" {
			return all, nil
		}
		pageToken = nextPageToken
	}
}

// seedToken resolves the configured start position (Config.StartFromBeginning,
// then StartTime, then StartContinuation) into a literal continuation token
// for a newly discovered partition.
func (s *Synchronizer) seedToken(ctx context.Context, p types.Partition) (string, error) {
	switch {
	case s.cfg.StartFromBeginning:
		return "", nil
	case !s.cfg.StartTime.IsZero():
		resolver, ok := s.feed.(types.StartPositionResolver)
		if !ok {
			return "", fmt.Errorf("%w: feed store does not support StartTime seeding", types.ErrInvalidConfiguration)
		}
		return resolver.ResolveStartTime(ctx, p, s.cfg.StartTime)
	case s.cfg.StartContinuation != "":
		return s.cfg.StartContinuation, nil
	default:
		return "", nil
	}
}

// CreateMissingLeases creates a lease for every current partition that
// does not already have one, bounding concurrency to
// s.cfg.DegreeOfParallelism. Creation is conditional, so concurrent
// runners on different hosts never conflict destructively.
func (s *Synchronizer) CreateMissingLeases(ctx context.Context) error {
	partitions, err := s.ListPartitions(ctx)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.DegreeOfParallelism)

	for _, p := range partitions {
		p := p
		eg.Go(func() error {
			token, err := s.seedToken(egCtx, p)
			if err != nil {
				return err
			}
			_, err = s.leases.CreateIfAbsent(egCtx, p.ID, token)
			return err
		})
	}

	return eg.Wait()
}

// SplitParent enumerates the children of a split parent lease, creates a
// lease per child seeded with the parent's continuation token, and returns
// them. It does not delete the parent lease; that is the supervisor's
// responsibility once it has these child leases in hand.
func (s *Synchronizer) SplitParent(ctx context.Context, parent types.Lease) ([]types.Lease, error) {
	children, err := s.feed.ChildPartitions(ctx, types.Partition{ID: parent.PartitionID})
	if err != nil {
		return nil, fmt.Errorf("%w: child partitions of %s: %w", types.ErrTransient, parent.PartitionID, err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.DegreeOfParallelism)

	for _, c := range children {
		c := c
		eg.Go(func() error {
			_, err := s.leases.CreateIfAbsent(egCtx, c.ID, parent.ContinuationToken)
			return err
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	childLeases := make([]types.Lease, len(children))
	for i, c := range children {
		childLeases[i] = types.Lease{
			PartitionID:       c.ID,
			ContinuationToken: parent.ContinuationToken,
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSplit(parent.PartitionID, len(children))
	}

	return childLeases, nil
}
