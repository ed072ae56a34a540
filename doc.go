// Package cfp implements a distributed change-stream partition processor:
// a fleet of hosts cooperatively lease and process the partitions of a
// change feed (e.g. a database's change-data-capture stream), coordinated
// through NATS JetStream KV rather than a central leader.
//
// # Quick Start
//
// Basic usage with default settings:
//
//	import "github.com/feedflow/cfp"
//
//	cfg := cfp.DefaultConfig()
//	cfg.LeasePrefix = "orders"
//
//	proc, err := cfp.NewProcessor(&cfg, natsConn, feedClient, observerFactory)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := proc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer proc.Stop(context.Background())
//
// # Architecture
//
// Each host runs a Processor. The processor bootstraps the lease set
// (exactly once across the fleet, via a KV lock so a concurrent race
// between hosts starting at once doesn't double-create leases), then runs
// a load-balancing tick loop that acquires this host's fair share of
// partition leases and supervises a per-partition read/dispatch/checkpoint
// loop for each one it holds.
//
// Leases are time-bounded and etag-guarded: losing a lease to another host
// or to expiry stops that partition's processing immediately, with no
// further writes to the stale lease record. A lease that outlives its
// owner's heartbeat is eligible to be taken by any other host on its next
// balancing tick.
//
// # Advanced Usage
//
// Hooks let the host application react to lease and health events:
//
//	hooks := &cfp.Hooks{
//	    OnLeaseAcquired: func(ctx context.Context, p cfp.Partition) error {
//	        return nil
//	    },
//	}
//
//	proc, err := cfp.NewProcessor(&cfg, natsConn, feedClient, observerFactory,
//	    cfp.WithHooks(hooks),
//	)
package cfp
