package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
)

// Metrics holds the Prometheus collectors for the dispatch pipeline.
type Metrics struct {
	outcomesTotal  *prometheus.CounterVec
	dispatchTotal  *prometheus.CounterVec
	triggerLag     prometheus.Histogram
	pendingRecords prometheus.Gauge
}

// NewMetrics registers the collectors on reg (prometheus.DefaultRegisterer
// when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crosspost_publish_outcomes_total",
			Help: "Per-destination publish outcomes by result",
		}, []string{"result"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crosspost_dispatches_total",
			Help: "Post-level dispatches by final status",
		}, []string{"status"}),
		triggerLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crosspost_trigger_lag_seconds",
			Help:    "Delay between a record's scheduled time and its claim",
			Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900},
		}),
		pendingRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crosspost_pending_schedule_records",
			Help: "Schedule records waiting for their trigger",
		}),
	}
	reg.MustRegister(m.outcomesTotal, m.dispatchTotal, m.triggerLag, m.pendingRecords)
	return m
}

func (m *Metrics) ObserveOutcome(o dispatch.Outcome) {
	if m == nil {
		return
	}
	result := "success"
	if !o.Succeeded {
		result = string(o.ErrorKind)
	}
	m.outcomesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDispatch(status content.Status) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveTriggerLag(lagSeconds float64) {
	if m == nil {
		return
	}
	m.triggerLag.Observe(lagSeconds)
}

func (m *Metrics) SetPendingRecords(n int) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(n))
}
