package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.InstallTotal.WithLabelValues("ok").Inc()
	m.InstallDuration.Observe(0.25)
	m.IPCRoundTrip.WithLabelValues("infer").Observe(0.01)
	m.ShmPoolHits.Inc()
	m.ShmPoolMisses.Inc()
	m.ActiveModels.Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"carton_registry_installs_total",
		"carton_registry_install_duration_seconds",
		"carton_ipc_round_trip_seconds",
		"carton_shmpool_hits_total",
		"carton_shmpool_misses_total",
		"carton_orchestrator_active_models",
	} {
		if !names[want] {
			t.Errorf("missing metric family %q in %v", want, names)
		}
	}
}

func TestActiveModelsGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ActiveModels.Set(5)

	var out dto.Metric
	if err := m.ActiveModels.Write(&out); err != nil {
		t.Fatal(err)
	}
	if got := out.GetGauge().GetValue(); got != 5 {
		t.Errorf("ActiveModels = %v, want 5", got)
	}
}
