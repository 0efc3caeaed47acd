package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestEdgeTickedIncrementsByDomainAndPolarity(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.EdgeTicked(1, true)
	c.EdgeTicked(1, true)
	c.EdgeTicked(1, false)

	m := &dto.Metric{}
	if err := c.edgesTicked.WithLabelValues("1", "rising").Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Fatalf("rising count = %v, want 2", got)
	}
}

func TestStepDurationObserves(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.StepDuration(5 * time.Millisecond)

	m := &dto.Metric{}
	if err := c.stepSeconds.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("sample count = %d, want 1", got)
	}
}
