package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersOnIsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IndexRebuildsTotal.WithLabelValues("stale").Add(2)
	m.IndexGeneration.Set(7)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				values[mf.GetName()] = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				values[mf.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}
	if values["index_rebuilds_total"] != 2 {
		t.Errorf("expected 2 rebuilds, got %v", values["index_rebuilds_total"])
	}
	if values["index_published_generation"] != 7 {
		t.Errorf("expected generation 7, got %v", values["index_published_generation"])
	}

	// a second registry must not collide with the first
	_ = New(prometheus.NewRegistry())
}
