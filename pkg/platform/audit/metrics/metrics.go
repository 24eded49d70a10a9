package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit pipeline. All methods are
// safe on a nil receiver.
type Metrics struct {
	Recorded        *prometheus.CounterVec
	Dropped         prometheus.Counter
	PersistFailures prometheus.Counter
	SinkFailures    *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	Purged          prometheus.Counter
}

// New creates audit metrics registered on the default registry.
func New() *Metrics {
	return &Metrics{
		Recorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_audit_entries_recorded_total",
			Help: "Total number of audit entries persisted, by risk level",
		}, []string{"risk_level"}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medgate_audit_entries_dropped_total",
			Help: "Total number of audit entries dropped because the queue stayed full",
		}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medgate_audit_persist_failures_total",
			Help: "Total number of audit entry persistence failures",
		}),
		SinkFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_audit_sink_failures_total",
			Help: "Total number of audit sink write failures, by sink",
		}, []string{"sink"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "medgate_audit_queue_depth",
			Help: "Audit entries waiting to be persisted",
		}),
		Purged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medgate_audit_entries_purged_total",
			Help: "Total number of audit entries removed by retention",
		}),
	}
}

// IncRecorded increments the recorded counter for a risk level.
func (m *Metrics) IncRecorded(riskLevel string) {
	if m == nil {
		return
	}
	m.Recorded.WithLabelValues(riskLevel).Inc()
}

// IncDropped increments the dropped counter.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

// IncPersistFailures increments the persist failures counter.
func (m *Metrics) IncPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

// IncSinkFailures increments the failure counter for a sink.
func (m *Metrics) IncSinkFailures(sink string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink).Inc()
}

// SetQueueDepth sets the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// AddPurged adds n to the purged counter.
func (m *Metrics) AddPurged(n int64) {
	if m == nil {
		return
	}
	m.Purged.Add(float64(n))
}
