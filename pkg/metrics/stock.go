package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StockMetrics records ledger mutation outcomes.
type StockMetrics struct {
	movements    *prometheus.CounterVec
	reservations *prometheus.CounterVec
}

// NewStockMetrics registers the stock ledger metrics on the provided registerer.
func NewStockMetrics(reg prometheus.Registerer) *StockMetrics {
	if reg == nil {
		return &StockMetrics{}
	}
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_movements_total",
		Help: "Applied stock ledger movements by kind.",
	}, []string{"kind"})
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservation_outcomes_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(movements, reservations)
	return &StockMetrics{
		movements:    movements,
		reservations: reservations,
	}
}

// IncMovement increments the movement counter for the given kind.
func (s *StockMetrics) IncMovement(kind string) {
	if s == nil || s.movements == nil {
		return
	}
	s.movements.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncReservation increments the reservation outcome counter ("granted" or "insufficient").
func (s *StockMetrics) IncReservation(outcome string) {
	if s == nil || s.reservations == nil {
		return
	}
	s.reservations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
