package metrics

import "github.com/feedflow/cfp/internal/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// LeaseMetrics implementation

func (n *NopMetrics) RecordLeaseStoreOperationDuration(_ string, _ float64) {}
func (n *NopMetrics) RecordLeaseAcquired(_ string)                          {}
func (n *NopMetrics) RecordLeaseRenewed(_ string)                           {}
func (n *NopMetrics) RecordLeaseLost(_ string)                              {}
func (n *NopMetrics) RecordLeaseReleased(_ string)                          {}
func (n *NopMetrics) RecordOwnedLeaseCount(_ int)                           {}

// ProcessorMetrics implementation

func (n *NopMetrics) RecordBatchRead(_ string, _ string, _ int, _ float64) {}
func (n *NopMetrics) RecordCheckpoint(_ string)                            {}
func (n *NopMetrics) RecordObserverDuration(_ string, _ float64)           {}
func (n *NopMetrics) RecordSplit(_ string, _ int)                          {}

// BalancerMetrics implementation

func (n *NopMetrics) RecordBalanceTick(_ float64, _, _ int) {}
func (n *NopMetrics) RecordActiveHostCount(_ int)           {}
func (n *NopMetrics) RecordTargetPartitionCount(_ int)      {}
func (n *NopMetrics) RecordHeartbeat(_ string, _ bool)      {}

// HealthMetrics implementation

func (n *NopMetrics) RecordHealthEvent(_ string, _ string) {}
