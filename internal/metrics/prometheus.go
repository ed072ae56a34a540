package metrics

import (
	"sync"

	"github.com/feedflow/cfp/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements types.MetricsCollector backed by
// Prometheus. Metrics are registered lazily on first use so constructing a
// collector never fails even if the registerer already holds
// differently-configured metrics under the same names.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	leaseStoreOpDuration *prometheus.HistogramVec
	leaseAcquired        *prometheus.CounterVec
	leaseRenewed         *prometheus.CounterVec
	leaseLost            *prometheus.CounterVec
	leaseReleased        *prometheus.CounterVec
	ownedLeaseCount      prometheus.Gauge

	batchRead         *prometheus.CounterVec
	batchReadDuration *prometheus.HistogramVec
	checkpoint        *prometheus.CounterVec
	observerDuration  *prometheus.HistogramVec
	split             *prometheus.CounterVec

	balanceTickDuration prometheus.Histogram
	balanceAcquired     prometheus.Counter
	balanceReleased     prometheus.Counter
	activeHostCount     prometheus.Gauge
	targetPartitions    prometheus.Gauge

	healthEvents *prometheus.CounterVec
	heartbeats   *prometheus.CounterVec
}

var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
// reg defaults to prometheus.DefaultRegisterer if nil; namespace defaults
// to "cfp" if empty.
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "cfp"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.leaseStoreOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "lease_store",
			Name:      "operation_duration_seconds",
			Help:      "Lease store call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"})

		p.leaseAcquired = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lease",
			Name:      "acquired_total",
			Help:      "Total leases acquired, keyed by partition.",
		}, []string{"partition_id"})

		p.leaseRenewed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lease",
			Name:      "renewed_total",
			Help:      "Total lease renewals, keyed by partition.",
		}, []string{"partition_id"})

		p.leaseLost = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lease",
			Name:      "lost_total",
			Help:      "Total leases lost to another host, keyed by partition.",
		}, []string{"partition_id"})

		p.leaseReleased = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lease",
			Name:      "released_total",
			Help:      "Total voluntary lease releases, keyed by partition.",
		}, []string{"partition_id"})

		p.ownedLeaseCount = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "lease",
			Name:      "owned_current",
			Help:      "Current number of leases owned by this host.",
		})

		p.batchRead = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "batch_reads_total",
			Help:      "Total ReadChanges calls by partition and outcome signal.",
		}, []string{"partition_id", "signal"})

		p.batchReadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "batch_read_duration_seconds",
			Help:      "ReadChanges call latency by partition.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"partition_id"})

		p.checkpoint = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "checkpoints_total",
			Help:      "Total successful checkpoint writes by partition.",
		}, []string{"partition_id"})

		p.observerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "observer_duration_seconds",
			Help:      "Time spent in the observer's ProcessChanges by partition.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"partition_id"})

		p.split = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "splits_total",
			Help:      "Total detected partition splits by partition.",
		}, []string{"partition_id"})

		p.balanceTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "balancer",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one load-balancing pass.",
			Buckets:   prometheus.DefBuckets,
		})

		p.balanceAcquired = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "balancer",
			Name:      "acquired_total",
			Help:      "Total leases acquired by the balancer across all ticks.",
		})

		p.balanceReleased = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "balancer",
			Name:      "released_total",
			Help:      "Total leases released by the balancer across all ticks.",
		})

		p.activeHostCount = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "balancer",
			Name:      "active_hosts",
			Help:      "Number of hosts currently observed holding at least one lease.",
		})

		p.targetPartitions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "balancer",
			Name:      "target_partitions",
			Help:      "This host's computed fair-share target partition count.",
		})

		p.healthEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "health",
			Name:      "events_total",
			Help:      "Total classified health events by severity and operation.",
		}, []string{"severity", "operation"})

		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "balancer",
			Name:      "heartbeats_total",
			Help:      "Total presence key renewal attempts by host and outcome.",
		}, []string{"host", "result"})

		p.reg.MustRegister(
			p.leaseStoreOpDuration, p.leaseAcquired, p.leaseRenewed, p.leaseLost, p.leaseReleased, p.ownedLeaseCount,
			p.batchRead, p.batchReadDuration, p.checkpoint, p.observerDuration, p.split,
			p.balanceTickDuration, p.balanceAcquired, p.balanceReleased, p.activeHostCount, p.targetPartitions,
			p.healthEvents, p.heartbeats,
		)
	})
}

func (p *PrometheusCollector) RecordHeartbeat(host string, success bool) {
	p.ensureRegistered()
	result := "success"
	if !success {
		result = "failure"
	}
	p.heartbeats.WithLabelValues(host, result).Inc()
}

func (p *PrometheusCollector) RecordLeaseStoreOperationDuration(operation string, duration float64) {
	p.ensureRegistered()
	p.leaseStoreOpDuration.WithLabelValues(operation).Observe(duration)
}

func (p *PrometheusCollector) RecordLeaseAcquired(partitionID string) {
	p.ensureRegistered()
	p.leaseAcquired.WithLabelValues(partitionID).Inc()
}

func (p *PrometheusCollector) RecordLeaseRenewed(partitionID string) {
	p.ensureRegistered()
	p.leaseRenewed.WithLabelValues(partitionID).Inc()
}

func (p *PrometheusCollector) RecordLeaseLost(partitionID string) {
	p.ensureRegistered()
	p.leaseLost.WithLabelValues(partitionID).Inc()
}

func (p *PrometheusCollector) RecordLeaseReleased(partitionID string) {
	p.ensureRegistered()
	p.leaseReleased.WithLabelValues(partitionID).Inc()
}

func (p *PrometheusCollector) RecordOwnedLeaseCount(count int) {
	p.ensureRegistered()
	p.ownedLeaseCount.Set(float64(count))
}

func (p *PrometheusCollector) RecordBatchRead(partitionID string, signal string, recordCount int, duration float64) {
	p.ensureRegistered()
	p.batchRead.WithLabelValues(partitionID, signal).Inc()
	p.batchReadDuration.WithLabelValues(partitionID).Observe(duration)
}

func (p *PrometheusCollector) RecordCheckpoint(partitionID string) {
	p.ensureRegistered()
	p.checkpoint.WithLabelValues(partitionID).Inc()
}

func (p *PrometheusCollector) RecordObserverDuration(partitionID string, duration float64) {
	p.ensureRegistered()
	p.observerDuration.WithLabelValues(partitionID).Observe(duration)
}

func (p *PrometheusCollector) RecordSplit(partitionID string, children int) {
	p.ensureRegistered()
	p.split.WithLabelValues(partitionID).Inc()
}

func (p *PrometheusCollector) RecordBalanceTick(duration float64, acquired, released int) {
	p.ensureRegistered()
	p.balanceTickDuration.Observe(duration)
	p.balanceAcquired.Add(float64(acquired))
	p.balanceReleased.Add(float64(released))
}

func (p *PrometheusCollector) RecordActiveHostCount(count int) {
	p.ensureRegistered()
	p.activeHostCount.Set(float64(count))
}

func (p *PrometheusCollector) RecordTargetPartitionCount(count int) {
	p.ensureRegistered()
	p.targetPartitions.Set(float64(count))
}

func (p *PrometheusCollector) RecordHealthEvent(severity string, operation string) {
	p.ensureRegistered()
	p.healthEvents.WithLabelValues(severity, operation).Inc()
}
