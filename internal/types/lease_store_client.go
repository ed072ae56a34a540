package types

import (
	"context"
	"time"
)

// LeaseStoreClient is the injected collaborator giving CRUD access to named
// records in a logical collection, with the concurrency and TTL semantics
// the lease manager and bootstrapper need. It is the sole durable
// dependency of the partition-management core: no local persistence layer
// exists (spec §1 Non-goals).
//
// The wire format of documents is opaque; implementations only need to
// round-trip the byte payloads this package hands them. A NATS JetStream
// KeyValue-backed implementation is provided in internal/natskv; any store
// offering conditional create, conditional replace, delete, and read-by-id
// can satisfy this interface.
type LeaseStoreClient interface {
	// Create inserts a new record. Returns ErrAlreadyExists if id is
	// already present (the universal "someone else got here first"
	// signal, not an error callers should treat as failure). If ttl > 0,
	// the record is automatically removed after ttl elapses.
	Create(ctx context.Context, id string, value []byte, ttl time.Duration) (etag string, err error)

	// Replace performs a conditional update: the write only succeeds if
	// the record's current etag equals ifMatch. Returns ErrLeaseLost if
	// ifMatch is stale (another writer mutated the record since the
	// caller last read it), or ErrNotFound if the record no longer
	// exists.
	Replace(ctx context.Context, id string, value []byte, ifMatch string) (etag string, err error)

	// Get reads a record by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (value []byte, etag string, err error)

	// Delete removes a record by id. A missing record is not an error.
	Delete(ctx context.Context, id string) error

	// List returns every record id currently present whose id begins with
	// prefix, along with its value and etag.
	List(ctx context.Context, prefix string) ([]LeaseRecord, error)
}

// LeaseRecord is one (id, value, etag) tuple returned by List.
type LeaseRecord struct {
	ID    string
	Value []byte
	ETag  string
}
