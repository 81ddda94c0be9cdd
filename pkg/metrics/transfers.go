package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TransferMetrics records workflow state transitions.
type TransferMetrics struct {
	transitions *prometheus.CounterVec
}

// NewTransferMetrics registers the transfer workflow metrics on the provided registerer.
func NewTransferMetrics(reg prometheus.Registerer) *TransferMetrics {
	if reg == nil {
		return &TransferMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_transitions_total",
		Help: "Transfer workflow transitions by resulting status.",
	}, []string{"status"})
	reg.MustRegister(transitions)
	return &TransferMetrics{transitions: transitions}
}

// IncTransition increments the transition counter for the resulting status.
func (t *TransferMetrics) IncTransition(status string) {
	if t == nil || t.transitions == nil {
		return
	}
	t.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}
