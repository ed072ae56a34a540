package types

import "time"

// Severity classifies a HealthEvent.
type Severity int

const (
	// SeverityTransient indicates a retried, probably self-healing failure.
	SeverityTransient Severity = iota

	// SeverityWarning indicates a failure that did not block progress but
	// is worth surfacing (e.g. a renewal that succeeded only after retry).
	SeverityWarning

	// SeverityCritical indicates a failure that caused a partition to stop
	// being processed on this host (lease lost, observer failed).
	SeverityCritical

	// SeverityFatal indicates an unrecoverable partition failure (a
	// processor exit with ErrFatal), or a Critical failure the health
	// monitor escalated after it persisted for the monitor's fatalAfter
	// threshold; it does not by itself abort the host.
	SeverityFatal
)

// Operation identifies which part of the system produced a HealthEvent.
type Operation int

const (
	OpAcquireLease Operation = iota
	OpRenewLease
	OpReleaseLease
	OpReadChanges
	OpObserver
	OpSplit
	OpBalance
	OpGeneral
)

// HealthEvent records one classified failure observed by the health
// monitor, deduplicated over the configured UnhealthinessDuration so a
// single recurring failure does not flood the Hooks.OnHealth callback.
type HealthEvent struct {
	Severity    Severity
	Operation   Operation
	PartitionID string
	Err         error
	Occurrences int
	FirstSeen   time.Time
	LastSeen    time.Time
}
