// Package bootstrap implements the bootstrapper (C8): exactly one host in
// the fleet must materialize the initial lease set, gated by a lock so a
// concurrent race between hosts starting at once doesn't double-create
// leases (create_missing_leases is idempotent, so a retry is harmless;
// the lock just avoids wasted work, not correctness).
//
// The acquire-lock/do-work/release-with-defer shape follows the teacher's
// EnsureBucket retry-on-conflict idiom: treat "someone else is already
// doing this" as an expected outcome to wait out, not an error.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/feedflow/cfp/internal/types"
)

// Store is the subset of the lease store the bootstrapper needs.
type Store interface {
	IsInitialized(ctx context.Context) (bool, error)
	AcquireInitLock(ctx context.Context, ttl time.Duration) (bool, error)
	MarkInitialized(ctx context.Context) error
	ReleaseInitLock(ctx context.Context) error
}

// Synchronizer materializes the initial lease set.
type Synchronizer interface {
	CreateMissingLeases(ctx context.Context) error
}

// Config tunes the bootstrap loop's lock TTL and retry cadence.
type Config struct {
	LockTTL   time.Duration
	RetryWait time.Duration
}

// Run blocks until the lease set has been initialized, either by this
// host or by one that beat it to the lock, or until ctx is cancelled.
func Run(ctx context.Context, store Store, sync Synchronizer, cfg Config, logger types.Logger) error {
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}

	for {
		initialized, err := store.IsInitialized(ctx)
		if err != nil {
			return fmt.Errorf("check initialization: %w", err)
		}
		if initialized {
			return nil
		}

		acquired, err := store.AcquireInitLock(ctx, cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire init lock: %w", err)
		}

		if acquired {
			return doBootstrap(ctx, store, sync, logger)
		}

		if logger != nil {
			logger.Debug("bootstrap lock held by another host, waiting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.RetryWait):
		}
	}
}

func doBootstrap(ctx context.Context, store Store, sync Synchronizer, logger types.Logger) error {
	defer func() {
		if err := store.ReleaseInitLock(ctx); err != nil && logger != nil {
			logger.Warn("failed to release init lock", "error", err)
		}
	}()

	if err := sync.CreateMissingLeases(ctx); err != nil {
		return fmt.Errorf("create missing leases: %w", err)
	}

	if err := store.MarkInitialized(ctx); err != nil {
		return fmt.Errorf("mark initialized: %w", err)
	}

	return nil
}
