package cfp

// Option configures a Processor with optional dependencies.
type Option func(*processorOptions)

// processorOptions holds optional Processor configuration.
type processorOptions struct {
	owner            string
	hooks            *Hooks
	metrics          MetricsCollector
	logger           Logger
	strategy         balancerStrategy
	leaseStoreClient LeaseStoreClient
}

// WithOwner sets an explicit host identity used as the lease owner value.
// If not set, NewProcessor generates a process-scoped UUID.
//
// Example:
//
//	proc, err := cfp.NewProcessor(&cfg, nc, feed, factory, cfp.WithOwner("host-a"))
func WithOwner(owner string) Option {
	return func(o *processorOptions) {
		o.owner = owner
	}
}

// WithHooks sets lifecycle event hooks.
//
// Example:
//
//	hooks := &cfp.Hooks{
//	    OnLeaseAcquired: func(ctx context.Context, p cfp.Partition) error {
//	        return handleAcquired(p)
//	    },
//	}
//	proc, err := cfp.NewProcessor(&cfg, nc, feed, factory, cfp.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *processorOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Example:
//
//	var collector cfp.MetricsCollector = myCollector{} // any MetricsCollector implementation
//	proc, err := cfp.NewProcessor(&cfg, nc, feed, factory, cfp.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *processorOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Example:
//
//	var logger cfp.Logger = myLogger{} // any Logger implementation
//	proc, err := cfp.NewProcessor(&cfg, nc, feed, factory, cfp.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *processorOptions) {
		o.logger = logger
	}
}

// WithBalancerStrategy overrides the default equal-partitions balancing
// strategy. Most callers do not need this.
func WithBalancerStrategy(strategy balancerStrategy) Option {
	return func(o *processorOptions) {
		o.strategy = strategy
	}
}

// WithLeaseStoreClient overrides the NATS JetStream KV-backed lease store
// client NewProcessor would otherwise create from the given *nats.Conn.
// Intended for tests that inject an in-memory LeaseStoreClient.
func WithLeaseStoreClient(client LeaseStoreClient) Option {
	return func(o *processorOptions) {
		o.leaseStoreClient = client
	}
}
