// Package leasemgr implements the lease manager (C2): etag-guarded CRUD
// over per-partition lease records, following the same Create/Update
// (revision)/Delete idiom the teacher uses for leader election, just
// applied to per-partition ownership instead of a single leader key.
package leasemgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/feedflow/cfp/internal/types"
)

// leaseDoc is the wire representation of a lease record. The lease store
// client only moves opaque bytes; this is the only place that interprets
// the reserved field names the spec calls out (owner, continuation_token,
// timestamp, properties).
type leaseDoc struct {
	Owner             string            `json:"owner"`
	ContinuationToken string            `json:"continuation_token"`
	Timestamp         time.Time         `json:"timestamp"`
	Properties        map[string]string `json:"properties,omitempty"`
}

// Manager implements C2 against an injected types.LeaseStoreClient.
type Manager struct {
	client     types.LeaseStoreClient
	prefix     string
	owner      string
	expiration time.Duration
	logger     types.Logger
	metrics    types.MetricsCollector
}

// New creates a lease manager scoped to prefix, acting as host identity
// owner, treating a lease as expired once expiration has elapsed since its
// last timestamp.
func New(client types.LeaseStoreClient, prefix, owner string, expiration time.Duration, logger types.Logger, metrics types.MetricsCollector) *Manager {
	return &Manager{
		client:     client,
		prefix:     prefix,
		owner:      owner,
		expiration: expiration,
		logger:     logger,
		metrics:    metrics,
	}
}

func (m *Manager) key(partitionID string) string {
	return m.prefix + ".." + partitionID
}

func (m *Manager) keyPrefix() string {
	return m.prefix + ".."
}

func encodeLease(doc leaseDoc) ([]byte, error) {
	value, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode lease: %w", err)
	}
	return value, nil
}

func decodeLease(partitionID string, value []byte, etag string) (types.Lease, error) {
	var doc leaseDoc
	if err := json.Unmarshal(value, &doc); err != nil {
		return types.Lease{}, fmt.Errorf("decode lease %s: %w", partitionID, err)
	}
	return types.Lease{
		PartitionID:       partitionID,
		Owner:             doc.Owner,
		ContinuationToken: doc.ContinuationToken,
		Timestamp:         doc.Timestamp,
		Properties:        doc.Properties,
		ETag:              etag,
	}, nil
}

func partitionIDFromKey(prefix, key string) string {
	return key[len(prefix):]
}

// ListAll returns every lease in this manager's prefix, ordered by
// partition id.
func (m *Manager) ListAll(ctx context.Context) ([]types.Lease, error) {
	records, err := m.client.List(ctx, m.keyPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: list leases: %w", types.ErrTransient, err)
	}

	leases := make([]types.Lease, 0, len(records))
	for _, rec := range records {
		lease, err := decodeLease(partitionIDFromKey(m.keyPrefix(), rec.ID), rec.Value, rec.ETag)
		if err != nil {
			return nil, err
		}
		leases = append(leases, lease)
	}

	sort.Slice(leases, func(i, j int) bool { return leases[i].PartitionID < leases[j].PartitionID })
	return leases, nil
}

// ListOwnedBy returns every lease currently owned by host.
func (m *Manager) ListOwnedBy(ctx context.Context, host string) ([]types.Lease, error) {
	all, err := m.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	owned := make([]types.Lease, 0, len(all))
	for _, lease := range all {
		if lease.Owner == host {
			owned = append(owned, lease)
		}
	}
	return owned, nil
}

// CreateIfAbsent creates a lease record for partitionID seeded with
// continuationToken and no owner. Returns created=false (not an error) if
// a lease already exists for this partition.
func (m *Manager) CreateIfAbsent(ctx context.Context, partitionID, continuationToken string) (bool, error) {
	value, err := encodeLease(leaseDoc{ContinuationToken: continuationToken, Timestamp: time.Now()})
	if err != nil {
		return false, err
	}

	_, err = m.client.Create(ctx, m.key(partitionID), value, 0)
	if errors.Is(err, types.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: create lease %s: %w", types.ErrTransient, partitionID, err)
	}
	return true, nil
}

func (m *Manager) get(ctx context.Context, partitionID string) (types.Lease, error) {
	value, etag, err := m.client.Get(ctx, m.key(partitionID))
	if errors.Is(err, types.ErrNotFound) {
		return types.Lease{}, types.ErrNotFound
	}
	if err != nil {
		return types.Lease{}, fmt.Errorf("%w: get lease %s: %w", types.ErrTransient, partitionID, err)
	}
	return decodeLease(partitionID, value, etag)
}

func (m *Manager) isOwnable(lease types.Lease, now time.Time) bool {
	return !lease.IsOwned(now, m.expiration)
}

// Acquire claims lease for self: sets owner, bumps timestamp, refreshes
// etag. If the caller's etag is stale, it re-reads once and retries iff the
// fresh lease is still ownable (unowned or expired); otherwise it surfaces
// LeaseLost.
func (m *Manager) Acquire(ctx context.Context, lease types.Lease) (types.Lease, error) {
	updated, err := m.tryAcquire(ctx, lease)
	if err == nil {
		if m.metrics != nil {
			m.metrics.RecordLeaseAcquired(lease.PartitionID)
		}
		return updated, nil
	}
	if !errors.Is(err, types.ErrLeaseLost) {
		return types.Lease{}, err
	}

	fresh, getErr := m.get(ctx, lease.PartitionID)
	if getErr != nil {
		return types.Lease{}, getErr
	}
	if !m.isOwnable(fresh, time.Now()) {
		return types.Lease{}, types.ErrLeaseLost
	}

	updated, err = m.tryAcquire(ctx, fresh)
	if err != nil {
		return types.Lease{}, err
	}
	if m.metrics != nil {
		m.metrics.RecordLeaseAcquired(lease.PartitionID)
	}
	return updated, nil
}

func (m *Manager) tryAcquire(ctx context.Context, lease types.Lease) (types.Lease, error) {
	now := time.Now()
	value, err := encodeLease(leaseDoc{
		Owner:             m.owner,
		ContinuationToken: lease.ContinuationToken,
		Timestamp:         now,
		Properties:        lease.Properties,
	})
	if err != nil {
		return types.Lease{}, err
	}

	newEtag, err := m.client.Replace(ctx, m.key(lease.PartitionID), value, lease.ETag)
	if err != nil {
		return types.Lease{}, m.classifyReplaceErr(lease.PartitionID, err)
	}

	result := lease.Clone()
	result.Owner = m.owner
	result.Timestamp = now
	result.ETag = newEtag
	return result, nil
}

// Renew bumps the lease's timestamp. Because the write is etag-guarded and
// re-asserts self as owner, this naturally fails with LeaseLost if another
// host acquired the lease since the caller last read it.
func (m *Manager) Renew(ctx context.Context, lease types.Lease) (types.Lease, error) {
	updated, err := m.tryAcquire(ctx, lease)
	if err != nil {
		return types.Lease{}, err
	}
	if m.metrics != nil {
		m.metrics.RecordLeaseRenewed(lease.PartitionID)
	}
	return updated, nil
}

// Release clears the owner field.
func (m *Manager) Release(ctx context.Context, lease types.Lease) (types.Lease, error) {
	now := time.Now()
	value, err := encodeLease(leaseDoc{
		Owner:             "",
		ContinuationToken: lease.ContinuationToken,
		Timestamp:         now,
		Properties:        lease.Properties,
	})
	if err != nil {
		return types.Lease{}, err
	}

	newEtag, err := m.client.Replace(ctx, m.key(lease.PartitionID), value, lease.ETag)
	if err != nil {
		return types.Lease{}, m.classifyReplaceErr(lease.PartitionID, err)
	}

	result := lease.Clone()
	result.Owner = ""
	result.Timestamp = now
	result.ETag = newEtag
	if m.metrics != nil {
		m.metrics.RecordLeaseReleased(lease.PartitionID)
	}
	return result, nil
}

// Checkpoint advances the continuation token. Fails with LeaseLost on etag
// mismatch.
func (m *Manager) Checkpoint(ctx context.Context, lease types.Lease, continuationToken string) (types.Lease, error) {
	now := time.Now()
	value, err := encodeLease(leaseDoc{
		Owner:             lease.Owner,
		ContinuationToken: continuationToken,
		Timestamp:         now,
		Properties:        lease.Properties,
	})
	if err != nil {
		return types.Lease{}, err
	}

	newEtag, err := m.client.Replace(ctx, m.key(lease.PartitionID), value, lease.ETag)
	if err != nil {
		return types.Lease{}, m.classifyReplaceErr(lease.PartitionID, err)
	}

	result := lease.Clone()
	result.ContinuationToken = continuationToken
	result.Timestamp = now
	result.ETag = newEtag
	return result, nil
}

// UpdateProperties merges kv into the lease's property bag.
func (m *Manager) UpdateProperties(ctx context.Context, lease types.Lease, kv map[string]string) (types.Lease, error) {
	merged := lease.Clone().Properties
	if merged == nil {
		merged = make(map[string]string, len(kv))
	}
	for k, v := range kv {
		merged[k] = v
	}

	now := time.Now()
	value, err := encodeLease(leaseDoc{
		Owner:             lease.Owner,
		ContinuationToken: lease.ContinuationToken,
		Timestamp:         now,
		Properties:        merged,
	})
	if err != nil {
		return types.Lease{}, err
	}

	newEtag, err := m.client.Replace(ctx, m.key(lease.PartitionID), value, lease.ETag)
	if err != nil {
		return types.Lease{}, m.classifyReplaceErr(lease.PartitionID, err)
	}

	result := lease.Clone()
	result.Properties = merged
	result.Timestamp = now
	result.ETag = newEtag
	return result, nil
}

// Delete removes the lease record for lease.PartitionID.
func (m *Manager) Delete(ctx context.Context, lease types.Lease) error {
	if err := m.client.Delete(ctx, m.key(lease.PartitionID)); err != nil {
		return fmt.Errorf("%w: delete lease %s: %w", types.ErrTransient, lease.PartitionID, err)
	}
	return nil
}

func (m *Manager) classifyReplaceErr(partitionID string, err error) error {
	if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrLeaseLost) {
		return err
	}
	return fmt.Errorf("%w: replace lease %s: %w", types.ErrTransient, partitionID, err)
}
