package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dxbevents/eventkeeper/internal/models"
)

// LifecycleCollector exposes retention, dedup and storage metrics.
type LifecycleCollector struct {
	retentionAssigned *prometheus.CounterVec
	softDeleted       *prometheus.CounterVec
	batchFailures     *prometheus.CounterVec
	dedupChecks       *prometheus.CounterVec
	activeEvents      prometheus.Gauge
	estimatedBytes    prometheus.Gauge
	healthStatus      prometheus.Gauge
}

// NewLifecycleCollector registers lifecycle metrics on registry.
func NewLifecycleCollector(registry *prometheus.Registry) (*LifecycleCollector, error) {
	c := &LifecycleCollector{
		retentionAssigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "assigned_total",
			Help:      "Events stamped with delete_after, by source priority.",
		}, []string{"priority"}),
		softDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "events_soft_deleted_total",
			Help:      "Events soft-deleted by the cleanup sweep, by source priority.",
		}, []string{"priority"}),
		batchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "batch_failures_total",
			Help:      "Items or pages that failed inside a lifecycle batch.",
		}, []string{"operation"}),
		dedupChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "checks_total",
			Help:      "Duplicate screening outcomes.",
		}, []string{"decision"}),
		activeEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "active_events",
			Help:      "Active events at the last health report.",
		}),
		estimatedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "estimated_bytes",
			Help:      "Estimated events collection size at the last health report.",
		}),
		healthStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "health_status",
			Help:      "Storage health at the last report: 0 healthy, 1 degraded, 2 critical.",
		}),
	}

	for _, collector := range []prometheus.Collector{
		c.retentionAssigned, c.softDeleted, c.batchFailures, c.dedupChecks,
		c.activeEvents, c.estimatedBytes, c.healthStatus,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RetentionAssigned counts one delete_after stamp.
func (c *LifecycleCollector) RetentionAssigned(priority models.Priority) {
	c.retentionAssigned.WithLabelValues(string(priority)).Inc()
}

// EventsSoftDeleted counts events transitioned to deleted.
func (c *LifecycleCollector) EventsSoftDeleted(priority models.Priority, n int) {
	c.softDeleted.WithLabelValues(string(priority)).Add(float64(n))
}

// BatchFailure counts one failed item or page.
func (c *LifecycleCollector) BatchFailure(operation string) {
	c.batchFailures.WithLabelValues(operation).Inc()
}

// DedupDecision counts one screening outcome.
func (c *LifecycleCollector) DedupDecision(decision string) {
	c.dedupChecks.WithLabelValues(decision).Inc()
}

// StorageObserved records the gauges from a health report.
func (c *LifecycleCollector) StorageObserved(active, estimatedBytes int64, level models.HealthLevel) {
	c.activeEvents.Set(float64(active))
	c.estimatedBytes.Set(float64(estimatedBytes))
	c.healthStatus.Set(float64(level.Severity()))
}
