package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IdempotencyMetrics records idempotent execution outcomes.
type IdempotencyMetrics struct {
	outcomes *prometheus.CounterVec
}

// NewIdempotencyMetrics registers the idempotency metrics on the provided registerer.
func NewIdempotencyMetrics(reg prometheus.Registerer) *IdempotencyMetrics {
	if reg == nil {
		return &IdempotencyMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idempotency_outcomes_total",
		Help: "Idempotent execution outcomes (executed, replayed, conflict, in_progress).",
	}, []string{"outcome"})
	reg.MustRegister(outcomes)
	return &IdempotencyMetrics{outcomes: outcomes}
}

// IncOutcome increments the counter for the named outcome.
func (i *IdempotencyMetrics) IncOutcome(outcome string) {
	if i == nil || i.outcomes == nil {
		return
	}
	i.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}
