// Package health implements the health monitor (C9): it classifies
// failures reported by other components, deduplicates recurring failures
// on the same (partition, operation) pair over a grace window, and
// forwards the first-seen-per-window event to types.Hooks.OnHealth.
//
// The dedup window follows the same first-seen-timestamp hysteresis the
// teacher uses to avoid flapping on transient worker disappearances,
// applied here to transient per-partition operation failures instead of
// worker presence.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/feedflow/cfp/internal/types"
)

type key struct {
	partitionID string
	operation   types.Operation
}

type entry struct {
	firstSeen      time.Time
	lastSeen       time.Time
	lastReportedAt time.Time
	occurrences    int
}

// DefaultMonitor implements C9.
type DefaultMonitor struct {
	mu                  sync.Mutex
	entries             map[key]*entry
	unhealthinessWindow time.Duration
	fatalAfter          time.Duration
	logger              types.Logger
	metrics             types.MetricsCollector
	hooks               types.Hooks
}

// New creates a health monitor. unhealthinessWindow bounds how long a
// recurring failure on the same (partition, operation) pair is suppressed
// from re-firing OnHealth after it was last reported; zero disables
// suppression (every Report call fires). fatalAfter, if positive,
// escalates a Critical report to Fatal once the same failure has recurred
// continuously for that long since it was first seen; zero disables
// escalation.
func New(unhealthinessWindow, fatalAfter time.Duration, logger types.Logger, metrics types.MetricsCollector, hooks types.Hooks) *DefaultMonitor {
	return &DefaultMonitor{
		entries:             make(map[key]*entry),
		unhealthinessWindow: unhealthinessWindow,
		fatalAfter:          fatalAfter,
		logger:              logger,
		metrics:             metrics,
		hooks:               hooks,
	}
}

// Report classifies and records one failure. Repeated reports for the
// same (partitionID, operation) within unhealthinessWindow of the last
// fired report only update Occurrences/LastSeen; OnHealth fires again
// once that window has elapsed, or immediately whenever fatalAfter
// escalates a report to Fatal.
func (m *DefaultMonitor) Report(ctx context.Context, severity types.Severity, operation types.Operation, partitionID string, err error) {
	now := time.Now()
	k := key{partitionID: partitionID, operation: operation}

	m.mu.Lock()
	e, exists := m.entries[k]
	if !exists {
		e = &entry{firstSeen: now}
		m.entries[k] = e
	}
	e.lastSeen = now
	e.occurrences++

	wasFatal := false
	if severity == types.SeverityCritical && m.fatalAfter > 0 && now.Sub(e.firstSeen) >= m.fatalAfter {
		severity = types.SeverityFatal
		wasFatal = true
	}

	windowElapsed := e.lastReportedAt.IsZero() || now.Sub(e.lastReportedAt) >= m.unhealthinessWindow
	shouldFire := wasFatal || windowElapsed || m.unhealthinessWindow <= 0
	if shouldFire {
		e.lastReportedAt = now
	}
	event := types.HealthEvent{
		Severity:    severity,
		Operation:   operation,
		PartitionID: partitionID,
		Err:         err,
		Occurrences: e.occurrences,
		FirstSeen:   e.firstSeen,
		LastSeen:    e.lastSeen,
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordHealthEvent(severityName(severity), operationName(operation))
	}
	if m.logger != nil {
		m.logger.Warn("health event", "partition_id", partitionID, "operation", operationName(operation), "severity", severityName(severity), "occurrences", event.Occurrences, "error", err)
	}

	if !shouldFire || m.hooks.OnHealth == nil {
		return
	}
	if hookErr := m.hooks.OnHealth(ctx, event); hookErr != nil && m.logger != nil {
		m.logger.Error("OnHealth hook failed", "error", hookErr)
	}
}

// Clear forgets a (partitionID, operation) pair's dedup state, so the next
// Report for it starts a fresh window. Call after a partition's
// supervisor exits cleanly or is reassigned.
func (m *DefaultMonitor) Clear(partitionID string, operation types.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key{partitionID: partitionID, operation: operation})
}

// Sweep removes dedup windows that have been quiet for longer than
// unhealthinessWindow, bounding memory growth across long-lived hosts that
// cycle through many partitions. It has no effect on whether a future
// Report fires; it only frees memory for pairs that are no longer active.
func (m *DefaultMonitor) Sweep() {
	if m.unhealthinessWindow <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.unhealthinessWindow)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			delete(m.entries, k)
		}
	}
}

func severityName(s types.Severity) string {
	switch s {
	case types.SeverityTransient:
		return "transient"
	case types.SeverityWarning:
		return "warning"
	case types.SeverityCritical:
		return "critical"
	case types.SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func operationName(op types.Operation) string {
	switch op {
	case types.OpAcquireLease:
		return "acquire_lease"
	case types.OpRenewLease:
		return "renew_lease"
	case types.OpReleaseLease:
		return "release_lease"
	case types.OpReadChanges:
		return "read_changes"
	case types.OpObserver:
		return "observer"
	case types.OpSplit:
		return "split"
	case types.OpBalance:
		return "balance"
	default:
		return "general"
	}
}
