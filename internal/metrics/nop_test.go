package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewNop(t *testing.T) {
	m := NewNop()

	require.NotNil(t, m)
	require.IsType(t, &NopMetrics{}, m)
}

func TestNopMetrics_LeaseMetrics(t *testing.T) {
	m := NewNop()

	require.NotPanics(t, func() {
		m.RecordLeaseStoreOperationDuration("create", 0.01)
		m.RecordLeaseAcquired("p-1")
		m.RecordLeaseRenewed("p-1")
		m.RecordLeaseLost("p-1")
		m.RecordLeaseReleased("p-1")
		m.RecordOwnedLeaseCount(3)
	})
}

func TestNopMetrics_ProcessorMetrics(t *testing.T) {
	m := NewNop()

	require.NotPanics(t, func() {
		m.RecordBatchRead("p-1", "ok", 10, 0.05)
		m.RecordCheckpoint("p-1")
		m.RecordObserverDuration("p-1", 0.02)
		m.RecordSplit("p-1", 2)
	})
}

func TestNopMetrics_BalancerMetrics(t *testing.T) {
	m := NewNop()

	require.NotPanics(t, func() {
		m.RecordBalanceTick(0.1, 2, 1)
		m.RecordActiveHostCount(4)
		m.RecordTargetPartitionCount(5)
		m.RecordHeartbeat("host-a", true)
	})
}

func TestNopMetrics_HealthMetrics(t *testing.T) {
	m := NewNop()

	require.NotPanics(t, func() {
		m.RecordHealthEvent("critical", "renew_lease")
	})
}

func BenchmarkNopMetrics_RecordLeaseAcquired(b *testing.B) {
	m := NewNop()
	for b.Loop() {
		m.RecordLeaseAcquired("p-1")
	}
}
