package testutil

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/feedflow/cfp/internal/types"
)

// MemStore is an in-memory types.LeaseStoreClient, for unit tests that
// exercise etag-guarded CRUD semantics without standing up NATS.
type MemStore struct {
	mu      sync.Mutex
	records map[string]memRecord
	seq     uint64
}

type memRecord struct {
	value    []byte
	etag     string
	expireAt time.Time
}

// NewMemStore creates an empty in-memory lease store client.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]memRecord)}
}

var _ types.LeaseStoreClient = (*MemStore)(nil)

func (m *MemStore) nextEtag() string {
	m.seq++
	return strconv.FormatUint(m.seq, 10)
}

func (m *MemStore) Create(ctx context.Context, id string, value []byte, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(id)
	if _, exists := m.records[id]; exists {
		return "", types.ErrAlreadyExists
	}

	etag := m.nextEtag()
	rec := memRecord{value: value, etag: etag}
	if ttl > 0 {
		rec.expireAt = time.Now().Add(ttl)
	}
	m.records[id] = rec
	return etag, nil
}

func (m *MemStore) Replace(ctx context.Context, id string, value []byte, ifMatch string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(id)
	rec, exists := m.records[id]
	if !exists {
		return "", types.ErrNotFound
	}
	if rec.etag != ifMatch {
		return "", types.ErrLeaseLost
	}

	etag := m.nextEtag()
	m.records[id] = memRecord{value: value, etag: etag}
	return etag, nil
}

func (m *MemStore) Get(ctx context.Context, id string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(id)
	rec, exists := m.records[id]
	if !exists {
		return nil, "", types.ErrNotFound
	}
	return rec.value, rec.etag, nil
}

func (m *MemStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	return nil
}

func (m *MemStore) List(ctx context.Context, prefix string) ([]types.LeaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id := range m.records {
		m.expireLocked(id)
		if _, exists := m.records[id]; !exists {
			continue
		}
		if prefix == "" || hasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	result := make([]types.LeaseRecord, 0, len(ids))
	for _, id := range ids {
		rec := m.records[id]
		result = append(result, types.LeaseRecord{ID: id, Value: rec.value, ETag: rec.etag})
	}
	return result, nil
}

func (m *MemStore) expireLocked(id string) {
	rec, exists := m.records[id]
	if exists && !rec.expireAt.IsZero() && time.Now().After(rec.expireAt) {
		delete(m.records, id)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
