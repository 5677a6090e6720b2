// Package prommetrics provides a Prometheus implementation of the
// creditledger.Metrics interface.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements creditledger.Metrics using Prometheus.
type Metrics struct {
	grantsTotal        *prometheus.CounterVec
	grantDuration      prometheus.Histogram
	statusChangesTotal *prometheus.CounterVec
	versionConflicts   prometheus.Counter
	storeErrorsTotal   *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation registered
// with reg under the given namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		grantsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_grants_total",
			Help:      "Total number of grant applications by result.",
		}, []string{"result"}),

		grantDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_grant_duration_seconds",
			Help:      "Latency of grant applications.",
			Buckets:   prometheus.DefBuckets,
		}),

		statusChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_status_changes_total",
			Help:      "Total number of applied account status changes.",
		}, []string{"status"}),

		versionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_version_conflicts_total",
			Help:      "Total number of conditional-write conflicts.",
		}),

		storeErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_store_errors_total",
			Help:      "Total number of record-store failures by operation.",
		}, []string{"operation"}),
	}
}

// DefaultMetrics creates metrics registered with the default Prometheus
// registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

func (m *Metrics) RecordGrant(result string) {
	m.grantsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordGrantDuration(d time.Duration) {
	m.grantDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordStatusChange(status string) {
	m.statusChangesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordVersionConflict() {
	m.versionConflicts.Inc()
}

func (m *Metrics) RecordStoreError(op string) {
	m.storeErrorsTotal.WithLabelValues(op).Inc()
}
