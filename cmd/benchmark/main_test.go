package main

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

func TestMetrics(t *testing.T) {
	m := newMetrics()

	m.Record(true, domain.ActionBlock, 2*time.Millisecond)  // TP
	m.Record(true, domain.ActionBlock, 4*time.Millisecond)  // TP
	m.Record(true, domain.ActionHold, 6*time.Millisecond)   // FN: hold is not a fraud prediction
	m.Record(false, domain.ActionBlock, 8*time.Millisecond) // FP
	m.Record(false, domain.ActionAllow, 10*time.Millisecond)
	m.RecordError()

	if m.Total() != 5 || m.Errors != 1 {
		t.Fatalf("expected 5 assessed and 1 error, got %d and %d", m.Total(), m.Errors)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"precision", m.Precision(), 2.0 / 3.0},
		{"recall", m.Recall(), 2.0 / 3.0},
		{"f1", m.F1(), 2.0 / 3.0},
		{"accuracy", m.Accuracy(), 3.0 / 5.0},
		{"p50", m.LatencyQuantile(0.5), 6},
		{"max", m.LatencyQuantile(1), 10},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	if m.Actions[domain.ActionBlock] != 3 {
		t.Errorf("expected 3 blocks, got %d", m.Actions[domain.ActionBlock])
	}
}

func TestMetricsEmpty(t *testing.T) {
	m := newMetrics()
	if m.Precision() != 0 || m.Recall() != 0 || m.F1() != 0 || m.Accuracy() != 0 || m.LatencyQuantile(0.5) != 0 {
		t.Error("expected zero metrics for an empty run")
	}
}
