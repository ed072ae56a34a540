// Package leasestore implements the bootstrap marker and advisory lock
// described as the lease store (C1): a single durable "is this collection
// initialized" marker plus a TTL'd lock so at most one host bootstraps a
// lease collection.
package leasestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feedflow/cfp/internal/types"
)

// Store implements C1 against an injected types.LeaseStoreClient.
type Store struct {
	client types.LeaseStoreClient
	prefix string
	owner  string
}

// New creates a lease store scoped to prefix, identifying lock ownership as
// owner (used only as the lock record's value for diagnostics).
func New(client types.LeaseStoreClient, prefix, owner string) *Store {
	return &Store{client: client, prefix: prefix, owner: owner}
}

func (s *Store) markerKey() string { return s.prefix + ".info" }
func (s *Store) lockKey() string   { return s.prefix + ".lock" }

// IsInitialized reports whether the store-marker record exists.
func (s *Store) IsInitialized(ctx context.Context) (bool, error) {
	_, _, err := s.client.Get(ctx, s.markerKey())
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: check initialized: %w", types.ErrTransient, err)
	}
	return true, nil
}

// AcquireInitLock attempts to create the init-lock record with the given
// TTL. Returns false (not an error) if another host already holds it.
func (s *Store) AcquireInitLock(ctx context.Context, ttl time.Duration) (bool, error) {
	_, err := s.client.Create(ctx, s.lockKey(), []byte(s.owner), ttl)
	if errors.Is(err, types.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: acquire init lock: %w", types.ErrTransient, err)
	}
	return true, nil
}

// MarkInitialized creates the store-marker record. A pre-existing marker is
// treated as success since bootstrap is idempotent.
func (s *Store) MarkInitialized(ctx context.Context) error {
	_, err := s.client.Create(ctx, s.markerKey(), []byte(time.Now().UTC().Format(time.RFC3339)), 0)
	if err != nil && !errors.Is(err, types.ErrAlreadyExists) {
		return fmt.Errorf("%w: mark initialized: %w", types.ErrTransient, err)
	}
	return nil
}

// ReleaseInitLock deletes the init-lock record. A missing lock is success.
func (s *Store) ReleaseInitLock(ctx context.Context) error {
	if err := s.client.Delete(ctx, s.lockKey()); err != nil {
		return fmt.Errorf("%w: release init lock: %w", types.ErrTransient, err)
	}
	return nil
}
