package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsRegistersCleanly(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics("", registry)

	m.SearchesStarted.Inc()
	m.RecordSearchFinished("completed", 12.5)
	m.RecordDroppedSample("computation")
	m.SamplesEvaluated.Add(100)

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Fatal("no metric families gathered")
	}

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, want := range []string{
		"rebalance_backend_search_runs_started_total",
		"rebalance_backend_search_runs_finished_total",
		"rebalance_backend_search_samples_dropped_total",
		"rebalance_backend_search_duration_seconds",
	} {
		if !found[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestNewMetricsSeparateRegistries(t *testing.T) {
	// Two instances must not collide when given distinct registries.
	NewMetrics("", prometheus.NewRegistry())
	NewMetrics("", prometheus.NewRegistry())
}
