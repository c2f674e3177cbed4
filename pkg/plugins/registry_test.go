package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

type stubPlugin struct {
	id       string
	caps     Capabilities
	process  func(ctx context.Context, pc models.PluginContext) (models.PluginResult, error)
	runOrder *[]string
}

func (s *stubPlugin) ID() string                 { return s.id }
func (s *stubPlugin) Capabilities() Capabilities { return s.caps }
func (s *stubPlugin) Process(ctx context.Context, pc models.PluginContext) (models.PluginResult, error) {
	if s.runOrder != nil {
		*s.runOrder = append(*s.runOrder, s.id)
	}
	if s.process != nil {
		return s.process(ctx, pc)
	}
	return models.PluginResult{}, nil
}

func TestRegisterRejectsMissingFlag(t *testing.T) {
	r := NewRegistry(map[string]bool{"cardiology_pack": true})
	ok := &stubPlugin{id: "cardio", caps: Capabilities{RequiredFlags: []string{"cardiology_pack"}}}
	if err := r.Register(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gated := &stubPlugin{id: "onco", caps: Capabilities{RequiredFlags: []string{"oncology_pack"}}}
	if err := r.Register(gated); err == nil {
		t.Fatal("expected registration to fail on disabled flag")
	}
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&stubPlugin{id: "dup"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(&stubPlugin{id: "dup"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestProcessAllPriorityOrderAndSpecialtyFilter(t *testing.T) {
	r := NewRegistry(nil)
	var order []string
	mustRegister(t, r, &stubPlugin{id: "second", caps: Capabilities{Priority: 20, Specialties: []string{"cardiology"}}, runOrder: &order})
	mustRegister(t, r, &stubPlugin{id: "first", caps: Capabilities{Priority: 10}, runOrder: &order})
	mustRegister(t, r, &stubPlugin{id: "skipped", caps: Capabilities{Priority: 5, Specialties: []string{"oncology"}}, runOrder: &order})

	results := r.ProcessAll(context.Background(), models.PluginContext{Specialty: "cardiology"})
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("run order = %v", order)
	}
}

func TestCriticalAlertShortCircuits(t *testing.T) {
	r := NewRegistry(nil)
	var order []string
	critical := func(ctx context.Context, pc models.PluginContext) (models.PluginResult, error) {
		return models.PluginResult{Alerts: []models.ClinicalAlert{{Severity: models.SeverityCritical}}}, nil
	}
	mustRegister(t, r, &stubPlugin{id: "alerting", caps: Capabilities{Priority: 1}, process: critical, runOrder: &order})
	mustRegister(t, r, &stubPlugin{id: "never-runs", caps: Capabilities{Priority: 2}, runOrder: &order})

	results := r.ProcessAll(context.Background(), models.PluginContext{})
	if len(results) != 1 || results[0].PluginID != "alerting" {
		t.Fatalf("results = %+v", results)
	}
	if len(order) != 1 {
		t.Fatalf("run order = %v", order)
	}
}

func TestFailingPluginSkipped(t *testing.T) {
	r := NewRegistry(nil)
	failing := func(ctx context.Context, pc models.PluginContext) (models.PluginResult, error) {
		return models.PluginResult{}, errors.New("boom")
	}
	mustRegister(t, r, &stubPlugin{id: "broken", caps: Capabilities{Priority: 1}, process: failing})
	mustRegister(t, r, &stubPlugin{id: "healthy", caps: Capabilities{Priority: 2}})

	results := r.ProcessAll(context.Background(), models.PluginContext{})
	if len(results) != 1 || results[0].PluginID != "healthy" {
		t.Fatalf("results = %+v", results)
	}
}

func TestDispatchEventByType(t *testing.T) {
	r := NewRegistry(nil)
	var order []string
	mustRegister(t, r, &stubPlugin{id: "listener", caps: Capabilities{EventTypes: []string{"context.clinical_alert"}}, runOrder: &order})
	mustRegister(t, r, &stubPlugin{id: "other", caps: Capabilities{EventTypes: []string{"phi.detected"}}, runOrder: &order})

	results := r.DispatchEvent(context.Background(), models.Event{Type: "context.clinical_alert", SessionID: "s1"})
	if len(results) != 1 || results[0].PluginID != "listener" {
		t.Fatalf("results = %+v", results)
	}
}

func TestVocabularyBoostsMergeStrongest(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, &stubPlugin{id: "a", caps: Capabilities{VocabularyBoosts: map[string]float64{"troponin": 1.2, "stent": 1.5}}})
	mustRegister(t, r, &stubPlugin{id: "b", caps: Capabilities{VocabularyBoosts: map[string]float64{"troponin": 1.8}}})

	boosts := r.VocabularyBoosts("cardiology")
	if boosts["troponin"] != 1.8 {
		t.Fatalf("troponin boost = %g, want 1.8", boosts["troponin"])
	}
	if boosts["stent"] != 1.5 {
		t.Fatalf("stent boost = %g, want 1.5", boosts["stent"])
	}
}

func mustRegister(t *testing.T, r *Registry, p Plugin) {
	t.Helper()
	if err := r.Register(p); err != nil {
		t.Fatalf("register %s: %v", p.ID(), err)
	}
}
