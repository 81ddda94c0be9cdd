package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestStockMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewStockMetrics(reg)
	metrics.IncMovement("adjust")
	metrics.IncMovement("adjust")
	metrics.IncReservation("insufficient")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "stock_movements_total", "kind", "adjust"); err != nil {
		t.Fatalf("fetch movements: %v", err)
	} else if got != 2 {
		t.Fatalf("expected movements=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "stock_reservation_outcomes_total", "outcome", "insufficient"); err != nil {
		t.Fatalf("fetch reservations: %v", err)
	} else if got != 1 {
		t.Fatalf("expected reservations=1, got %f", got)
	}
}

func TestIdempotencyMetricsExportsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewIdempotencyMetrics(reg)
	metrics.IncOutcome("replayed")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "idempotency_outcomes_total", "outcome", "replayed"); err != nil {
		t.Fatalf("fetch outcomes: %v", err)
	} else if got != 1 {
		t.Fatalf("expected replayed=1, got %f", got)
	}
}

func TestTransferMetricsExportsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewTransferMetrics(reg)
	metrics.IncTransition("approved")
	metrics.IncTransition("")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "transfer_transitions_total", "status", "approved"); err != nil {
		t.Fatalf("fetch transitions: %v", err)
	} else if got != 1 {
		t.Fatalf("expected approved=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "transfer_transitions_total", "status", "unknown"); err != nil {
		t.Fatalf("fetch unknown transitions: %v", err)
	} else if got != 1 {
		t.Fatalf("expected unknown=1, got %f", got)
	}
}

func TestNilRegistererIsNoOp(t *testing.T) {
	stock := NewStockMetrics(nil)
	stock.IncMovement("adjust")
	idem := NewIdempotencyMetrics(nil)
	idem.IncOutcome("executed")
	transfers := NewTransferMetrics(nil)
	transfers.IncTransition("closed")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
