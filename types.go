package cfp

import "github.com/feedflow/cfp/internal/types"

// Re-export types from the internal types package.
//
// This file provides a stable public API for the library's core types and
// interfaces. It uses type aliases to re-export definitions from
// internal/types, which contains the actual implementations.
//
// This pattern solves the "import cycle" problem by allowing internal
// packages to depend on internal/types without depending on the root cfp
// package, while still providing a convenient cfp.Lease, cfp.Logger, etc.
// for users.
type (
	Partition      = types.Partition
	PartitionRange = types.PartitionRange
	ChangeRecord   = types.ChangeRecord
	ChangeBatch    = types.ChangeBatch
	Lease          = types.Lease
	CloseReason    = types.CloseReason
	FeedSignal     = types.FeedSignal
	HealthEvent    = types.HealthEvent
	Severity       = types.Severity
	Operation      = types.Operation
)

// Re-export interfaces from internal/types for convenience.
type (
	LeaseStoreClient = types.LeaseStoreClient
	LeaseRecord      = types.LeaseRecord
	FeedStoreClient  = types.FeedStoreClient
	Observer         = types.Observer
	ObserverFactory  = types.ObserverFactory
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
	Hooks            = types.Hooks
)

// Re-export CloseReason constants.
const (
	CloseShutdown       = types.CloseShutdown
	CloseLeaseLost      = types.CloseLeaseLost
	CloseSplit          = types.CloseSplit
	CloseObserverFailed = types.CloseObserverFailed
)

// Re-export FeedSignal constants.
const (
	FeedOK            = types.FeedOK
	FeedNotModified   = types.FeedNotModified
	FeedThrottled     = types.FeedThrottled
	FeedPartitionGone = types.FeedPartitionGone
	FeedTransient     = types.FeedTransient
	FeedFatal         = types.FeedFatal
)

// Re-export Severity constants.
const (
	SeverityTransient = types.SeverityTransient
	SeverityWarning   = types.SeverityWarning
	SeverityCritical  = types.SeverityCritical
	SeverityFatal     = types.SeverityFatal
)

// Re-export Operation constants.
const (
	OpAcquireLease = types.OpAcquireLease
	OpRenewLease   = types.OpRenewLease
	OpReleaseLease = types.OpReleaseLease
	OpReadChanges  = types.OpReadChanges
	OpObserver     = types.OpObserver
	OpSplit        = types.OpSplit
	OpBalance      = types.OpBalance
	OpGeneral      = types.OpGeneral
)
