package cfp

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration for a Processor.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h"
// when loaded from YAML via LoadConfigFile.
type Config struct {
	// LeasePrefix namespaces leases/marker/lock records across logical
	// processors sharing a lease collection. Required.
	LeasePrefix string `yaml:"leasePrefix"`

	// LeaseExpirationInterval is the ownership expiry threshold: a lease
	// whose Timestamp is older than this is eligible to be taken by
	// another host.
	// Must be greater than LeaseRenewInterval.
	LeaseExpirationInterval time.Duration `yaml:"leaseExpirationInterval"`

	// LeaseRenewInterval is the period of the per-lease renewer task.
	// Recommended: LeaseExpirationInterval/3.
	LeaseRenewInterval time.Duration `yaml:"leaseRenewInterval"`

	// LeaseAcquireInterval is the period of the load balancer's tick.
	LeaseAcquireInterval time.Duration `yaml:"leaseAcquireInterval"`

	// MinPartitionCount is the minimum number of partitions this host's
	// balancing target may be clamped to (0 = unbounded).
	MinPartitionCount int `yaml:"minPartitionCount"`

	// MaxPartitionCount is the maximum number of partitions this host's
	// balancing target may be clamped to (0 = unbounded).
	MaxPartitionCount int `yaml:"maxPartitionCount"`

	// FeedPollDelay is the sleep between empty (NotModified) reads of a
	// partition's change feed.
	FeedPollDelay time.Duration `yaml:"feedPollDelay"`

	// MaxItemCount is the server batch size hint passed to ReadChanges.
	MaxItemCount int `yaml:"maxItemCount"`

	// StartFromBeginning seeds new leases' continuation token empty
	// (read from the start of the feed) rather than StartTime/
	// StartContinuation. Mutually exclusive with the other two; checked
	// in that order.
	StartFromBeginning bool `yaml:"startFromBeginning"`

	// StartTime, if set, seeds new leases to begin reading from this
	// point in time (feed-store-specific interpretation).
	StartTime time.Time `yaml:"startTime"`

	// StartContinuation, if set, seeds new leases with this literal
	// continuation token.
	StartContinuation string `yaml:"startContinuation"`

	// CheckpointFrequency controls when the processor persists a
	// checkpoint: "every-batch", "every-n-batches", or "every-interval".
	CheckpointFrequency string `yaml:"checkpointFrequency"`

	// CheckpointN is the batch count for CheckpointFrequency
	// "every-n-batches".
	CheckpointN int `yaml:"checkpointN"`

	// CheckpointInterval is the wall-clock interval for CheckpointFrequency
	// "every-interval".
	CheckpointInterval time.Duration `yaml:"checkpointInterval"`

	// DegreeOfParallelism bounds the concurrency of bulk lease creation
	// during bootstrap.
	DegreeOfParallelism int `yaml:"degreeOfParallelism"`

	// QueryPartitionsMaxBatchSize is the page size used when enumerating
	// partitions from the feed store.
	QueryPartitionsMaxBatchSize int `yaml:"queryPartitionsMaxBatchSize"`

	// UnhealthinessDuration is the health monitor's dedup window (repeated
	// reports of the same failure within it fire OnHealth once) and how
	// long a supervisor's lease renewal may keep failing before the lease
	// is treated as lost. SetDefaults replaces 0 with the default.
	UnhealthinessDuration time.Duration `yaml:"unhealthinessDuration"`

	// BootstrapLockTTL is the TTL given to the bootstrap init-lock record,
	// so another host may reclaim the lock if its holder dies
	// mid-bootstrap. The NATS KV lease store (internal/natskv) does not
	// apply per-record TTLs; with it the lock stays until it is released.
	BootstrapLockTTL time.Duration `yaml:"bootstrapLockTTL"`

	// BootstrapRetryWait is how long a host waits between polls of
	// is_initialized while another host holds the bootstrap lock.
	BootstrapRetryWait time.Duration `yaml:"bootstrapRetryWait"`

	// StartupTimeout bounds how long Start waits for bootstrap and the
	// first balancing tick to complete.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// ShutdownTimeout bounds how long Stop waits for all supervised
	// partitions to release their leases and exit.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		LeaseExpirationInterval:     60 * time.Second,
		LeaseRenewInterval:          15 * time.Second,
		LeaseAcquireInterval:        10 * time.Second,
		FeedPollDelay:               2 * time.Second,
		MaxItemCount:                100,
		CheckpointFrequency:         "every-batch",
		CheckpointN:                 10,
		CheckpointInterval:          5 * time.Second,
		DegreeOfParallelism:         8,
		QueryPartitionsMaxBatchSize: 100,
		UnhealthinessDuration:       time.Minute,
		BootstrapLockTTL:            30 * time.Second,
		BootstrapRetryWait:          time.Second,
		StartupTimeout:              30 * time.Second,
		ShutdownTimeout:             30 * time.Second,
	}
}

// SetDefaults fills in missing configuration values with production
// defaults, leaving explicitly-set fields untouched.
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.LeaseExpirationInterval == 0 {
		cfg.LeaseExpirationInterval = defaults.LeaseExpirationInterval
	}
	if cfg.LeaseRenewInterval == 0 {
		cfg.LeaseRenewInterval = defaults.LeaseRenewInterval
	}
	if cfg.LeaseAcquireInterval == 0 {
		cfg.LeaseAcquireInterval = defaults.LeaseAcquireInterval
	}
	if cfg.FeedPollDelay == 0 {
		cfg.FeedPollDelay = defaults.FeedPollDelay
	}
	if cfg.MaxItemCount == 0 {
		cfg.MaxItemCount = defaults.MaxItemCount
	}
	if cfg.CheckpointFrequency == "" {
		cfg.CheckpointFrequency = defaults.CheckpointFrequency
	}
	if cfg.CheckpointN == 0 {
		cfg.CheckpointN = defaults.CheckpointN
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = defaults.CheckpointInterval
	}
	if cfg.DegreeOfParallelism == 0 {
		cfg.DegreeOfParallelism = defaults.DegreeOfParallelism
	}
	if cfg.QueryPartitionsMaxBatchSize == 0 {
		cfg.QueryPartitionsMaxBatchSize = defaults.QueryPartitionsMaxBatchSize
	}
	if cfg.UnhealthinessDuration == 0 {
		cfg.UnhealthinessDuration = defaults.UnhealthinessDuration
	}
	if cfg.BootstrapLockTTL == 0 {
		cfg.BootstrapLockTTL = defaults.BootstrapLockTTL
	}
	if cfg.BootstrapRetryWait == 0 {
		cfg.BootstrapRetryWait = defaults.BootstrapRetryWait
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = defaults.StartupTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// Validate checks configuration constraints and returns an error for
// invalid values.
//
// Hard validation rules:
//   - LeasePrefix must be non-empty
//   - LeaseExpirationInterval must be > LeaseRenewInterval (renewal must
//     complete at least once before expiry)
//   - FeedPollDelay must be <= LeaseRenewInterval (avoid sleeping through
//     a renewal deadline)
//   - MinPartitionCount <= MaxPartitionCount when both are set
//   - DegreeOfParallelism must be > 0
func (cfg *Config) Validate() error {
	if cfg.LeasePrefix == "" {
		return fmt.Errorf("LeasePrefix must not be empty")
	}

	if cfg.LeaseExpirationInterval <= cfg.LeaseRenewInterval {
		return fmt.Errorf(
			"LeaseExpirationInterval (%v) must be > LeaseRenewInterval (%v)",
			cfg.LeaseExpirationInterval, cfg.LeaseRenewInterval,
		)
	}

	if cfg.FeedPollDelay > cfg.LeaseRenewInterval {
		return fmt.Errorf(
			"FeedPollDelay (%v) should not exceed LeaseRenewInterval (%v)",
			cfg.FeedPollDelay, cfg.LeaseRenewInterval,
		)
	}

	if cfg.MinPartitionCount > 0 && cfg.MaxPartitionCount > 0 && cfg.MinPartitionCount > cfg.MaxPartitionCount {
		return fmt.Errorf(
			"MinPartitionCount (%d) must be <= MaxPartitionCount (%d)",
			cfg.MinPartitionCount, cfg.MaxPartitionCount,
		)
	}

	if cfg.DegreeOfParallelism <= 0 {
		return fmt.Errorf("DegreeOfParallelism must be > 0, got %d", cfg.DegreeOfParallelism)
	}

	switch cfg.CheckpointFrequency {
	case "every-batch", "every-n-batches", "every-interval":
	default:
		return fmt.Errorf("CheckpointFrequency must be one of every-batch, every-n-batches, every-interval, got %q", cfg.CheckpointFrequency)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for
// non-recommended values. Called after Validate() in NewProcessor to
// provide operator guidance.
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if logger == nil {
		return
	}

	if cfg.LeaseRenewInterval*3 > cfg.LeaseExpirationInterval {
		logger.Warn(
			"LeaseRenewInterval is close to LeaseExpirationInterval, renewal may race expiry under load",
			"leaseRenewInterval", cfg.LeaseRenewInterval,
			"leaseExpirationInterval", cfg.LeaseExpirationInterval,
			"recommended", "LeaseRenewInterval <= LeaseExpirationInterval/3",
		)
	}

	if cfg.LeaseAcquireInterval < 5*time.Second {
		logger.Warn(
			"LeaseAcquireInterval is very short, may cause frequent rebalancing",
			"leaseAcquireInterval", cfg.LeaseAcquireInterval,
			"recommended", "10s or higher",
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Test timings are an order of magnitude faster than production defaults
// to enable rapid iteration without sacrificing test coverage.
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.LeasePrefix = "test"
	cfg.LeaseExpirationInterval = 600 * time.Millisecond
	cfg.LeaseRenewInterval = 100 * time.Millisecond
	cfg.LeaseAcquireInterval = 50 * time.Millisecond
	cfg.FeedPollDelay = 10 * time.Millisecond
	cfg.UnhealthinessDuration = 200 * time.Millisecond
	cfg.BootstrapLockTTL = time.Second
	cfg.BootstrapRetryWait = 10 * time.Millisecond
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second

	return cfg
}

// LoadConfigFile reads and parses a YAML configuration file at path.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}
