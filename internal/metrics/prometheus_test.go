package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheus_Defaults(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheus(reg, "")

	require.NotNil(t, c)
	require.Equal(t, "cfp", c.namespace)
}

func TestPrometheusCollector_RecordsWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheus(reg, "test")

	require.NotPanics(t, func() {
		c.RecordLeaseStoreOperationDuration("create", 0.01)
		c.RecordLeaseAcquired("p-1")
		c.RecordLeaseRenewed("p-1")
		c.RecordLeaseLost("p-1")
		c.RecordLeaseReleased("p-1")
		c.RecordOwnedLeaseCount(2)
		c.RecordBatchRead("p-1", "ok", 5, 0.03)
		c.RecordCheckpoint("p-1")
		c.RecordObserverDuration("p-1", 0.01)
		c.RecordSplit("p-1", 2)
		c.RecordBalanceTick(0.2, 1, 0)
		c.RecordActiveHostCount(3)
		c.RecordTargetPartitionCount(4)
		c.RecordHeartbeat("host-a", true)
		c.RecordHealthEvent("critical", "renew_lease")
	})
}

func TestPrometheusCollector_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheus(reg, "test")

	c.RecordLeaseAcquired("p-1")
	c.RecordLeaseAcquired("p-2")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
