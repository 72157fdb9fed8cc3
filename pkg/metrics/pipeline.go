package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics tracks the inbound event pipeline from ingress to terminal
// outcome. All methods tolerate a nil receiver so wiring stays optional in
// tests.
type PipelineMetrics struct {
	received      *prometheus.CounterVec
	applied       prometheus.Counter
	retried       prometheus.Counter
	deadLettered  *prometheus.CounterVec
	sigFailures   prometheus.Counter
	applyDuration prometheus.Histogram
	staleTxs      prometheus.Gauge
	extendedStale prometheus.Gauge
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received_total",
		Help: "Inbound events accepted for processing, by source.",
	}, []string{"source"})
	applied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_applied_total",
		Help: "Events applied to transaction state.",
	})
	retried := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_retried_total",
		Help: "Event apply attempts rescheduled after a transient failure.",
	})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_dead_lettered_total",
		Help: "Events moved to the dead letter queue, by reason.",
	}, []string{"reason"})
	sigFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_signature_failures_total",
		Help: "Webhook deliveries rejected for an invalid signature.",
	})
	applyDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_apply_duration_seconds",
		Help:    "Duration of single event apply attempts.",
		Buckets: prometheus.DefBuckets,
	})
	staleTxs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reconciliation_stale_transactions",
		Help: "Non-terminal transactions past the staleness threshold at last sweep.",
	})
	extendedStale := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reconciliation_extended_stale_transactions",
		Help: "Non-terminal transactions past the extended staleness threshold at last sweep.",
	})
	reg.MustRegister(received, applied, retried, deadLettered, sigFailures, applyDuration, staleTxs, extendedStale)
	return &PipelineMetrics{
		received:      received,
		applied:       applied,
		retried:       retried,
		deadLettered:  deadLettered,
		sigFailures:   sigFailures,
		applyDuration: applyDuration,
		staleTxs:      staleTxs,
		extendedStale: extendedStale,
	}
}

// IncReceived counts an accepted inbound event for the given source.
func (p *PipelineMetrics) IncReceived(source string) {
	if p == nil || p.received == nil {
		return
	}
	p.received.WithLabelValues(normalizeLabel(source)).Inc()
}

// IncApplied counts a successfully applied event.
func (p *PipelineMetrics) IncApplied() {
	if p == nil || p.applied == nil {
		return
	}
	p.applied.Inc()
}

// IncRetried counts an event rescheduled for another attempt.
func (p *PipelineMetrics) IncRetried() {
	if p == nil || p.retried == nil {
		return
	}
	p.retried.Inc()
}

// IncDeadLettered counts an event parked in the DLQ for the given reason.
func (p *PipelineMetrics) IncDeadLettered(reason string) {
	if p == nil || p.deadLettered == nil {
		return
	}
	p.deadLettered.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncSignatureFailure counts a rejected webhook delivery.
func (p *PipelineMetrics) IncSignatureFailure() {
	if p == nil || p.sigFailures == nil {
		return
	}
	p.sigFailures.Inc()
}

// ObserveApplyDuration records how long a single apply attempt took.
func (p *PipelineMetrics) ObserveApplyDuration(duration time.Duration) {
	if p == nil || p.applyDuration == nil {
		return
	}
	p.applyDuration.Observe(duration.Seconds())
}

// SetStaleTransactions records the stale transaction count from the last sweep.
func (p *PipelineMetrics) SetStaleTransactions(count int) {
	if p == nil || p.staleTxs == nil {
		return
	}
	p.staleTxs.Set(float64(count))
}

// SetExtendedStaleTransactions records the extended-stale count from the last sweep.
func (p *PipelineMetrics) SetExtendedStaleTransactions(count int) {
	if p == nil || p.extendedStale == nil {
		return
	}
	p.extendedStale.Set(float64(count))
}
