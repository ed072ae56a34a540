// Package natskv implements types.LeaseStoreClient on top of a NATS
// JetStream KeyValue bucket, using revision numbers as the ETag mechanism:
// Create maps to KV Create, Replace maps to KV Update with the expected
// revision, and a stale revision naturally surfaces as ErrLeaseLost.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/feedflow/cfp/internal/types"
)

// Store implements types.LeaseStoreClient over a jetstream.KeyValue bucket.
type Store struct {
	kv jetstream.KeyValue
}

var _ types.LeaseStoreClient = (*Store)(nil)

// New wraps an already-open KV bucket as a LeaseStoreClient.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// EnsureBucket creates or opens the named KV bucket with retry, handling
// the race where two hosts both try to create it during bootstrap. ttl,
// when non-zero, is the bucket-wide key TTL; it is a ceiling, not the
// per-lease TTL, since JetStream KV TTL applies uniformly to the bucket.
// maxRetries <= 0 defaults to 3. cfp.go's Start also uses it to open the
// presence bucket.
func EnsureBucket(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration, maxRetries int) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	config := jetstream.KeyValueConfig{
		Bucket:  bucket,
		TTL:     ttl,
		Storage: jetstream.FileStorage,
	}

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		kv, err := js.CreateKeyValue(ctx, config)
		if err == nil {
			return kv, nil
		}

		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err := js.KeyValue(ctx, bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket %s exists but failed to open: %w", bucket, err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}

		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt is bounded by maxRetries, no overflow risk
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w", bucket, maxRetries, lastErr)
}

// Create stores value under id, returning types.ErrAlreadyExists if the key
// is present. ttl is not applied: the record stays until it is deleted or
// the bucket-wide TTL given to EnsureBucket removes it.
func (s *Store) Create(ctx context.Context, id string, value []byte, ttl time.Duration) (string, error) {
	revision, err := s.kv.Create(ctx, id, value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return "", types.ErrAlreadyExists
		}
		return "", fmt.Errorf("create %s: %w", id, err)
	}
	return etagFromRevision(revision), nil
}

func (s *Store) Replace(ctx context.Context, id string, value []byte, ifMatch string) (string, error) {
	revision, err := revisionFromEtag(ifMatch)
	if err != nil {
		return "", err
	}

	newRevision, err := s.kv.Update(ctx, id, value, revision)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", types.ErrNotFound
		}
		// Update reports a missing key with the same wrong-last-sequence
		// API error as a stale revision, so look the key up to tell the
		// two apart; any other failure is treated as a lost lease.
		if _, getErr := s.kv.Get(ctx, id); errors.Is(getErr, jetstream.ErrKeyNotFound) {
			return "", types.ErrNotFound
		}
		return "", fmt.Errorf("%w: %w", types.ErrLeaseLost, err)
	}

	return etagFromRevision(newRevision), nil
}

func (s *Store) Get(ctx context.Context, id string) ([]byte, string, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, "", types.ErrNotFound
		}
		return nil, "", fmt.Errorf("get %s: %w", id, err)
	}
	return entry.Value(), etagFromRevision(entry.Revision()), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.kv.Delete(ctx, id)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]types.LeaseRecord, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	records := make([]types.LeaseRecord, 0, len(keys))
	for _, key := range keys {
		if prefix != "" && !hasPrefix(key, prefix) {
			continue
		}
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		records = append(records, types.LeaseRecord{
			ID:    key,
			Value: entry.Value(),
			ETag:  etagFromRevision(entry.Revision()),
		})
	}
	return records, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func etagFromRevision(revision uint64) string {
	return strconv.FormatUint(revision, 10)
}

func revisionFromEtag(etag string) (uint64, error) {
	if etag == "" {
		return 0, fmt.Errorf("%w: empty etag", types.ErrInvalidConfiguration)
	}
	revision, err := strconv.ParseUint(etag, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid etag %q: %w", etag, err)
	}
	return revision, nil
}
