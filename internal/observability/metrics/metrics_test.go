package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestVisitMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewVisitMetrics(reg)
	m.ObserveCreated("ok")
	m.ObserveTransition("start", "ok")
	m.ObserveTransition("start", "conflict")
	m.ObserveTransition("start", "conflict")
	m.ObserveNotification("inbox", "ok")
	m.SetLiveClients(3)
	m.ObserveOutbox("visit.started.v1", "delivered")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	conflicts := counterValue(families, "homecare_visits_transitions_total", map[string]string{"transition": "start", "result": "conflict"})
	if conflicts != 2 {
		t.Fatalf("expected 2 start conflicts, got %v", conflicts)
	}
	if got := gaugeValue(families, "homecare_notifications_live_clients"); got != 3 {
		t.Fatalf("expected 3 live clients, got %v", got)
	}
}

func TestVisitMetricsDefaultRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	prev := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	defer func() { prometheus.DefaultRegisterer = prev }()

	m := NewVisitMetrics(nil)
	m.ObserveCreated("validation")
}

func TestVisitMetricsNilSafe(t *testing.T) {
	var m *VisitMetrics
	m.ObserveCreated("ok")
	m.ObserveTransition("finish", "ok")
	m.ObserveNotification("live", "dropped")
	m.SetLiveClients(1)
	m.ObserveOutbox("visit.completed.v1", "failed")
}

func counterValue(families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func gaugeValue(families []*dto.MetricFamily, name string) float64 {
	for _, fam := range families {
		if fam.GetName() == name && len(fam.GetMetric()) > 0 {
			return fam.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok && v == p.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
