package reasoning

import (
	"context"
	"testing"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

type capturePublisher struct {
	events []map[string]interface{}
}

func (c *capturePublisher) PublishEvent(ctx context.Context, eventType, sessionID, sourceEngine string, data map[string]interface{}, priority int) error {
	c.events = append(c.events, data)
	return nil
}

func TestWarfarinAspirinMajorInteraction(t *testing.T) {
	engine := NewEngine(nil)
	interactions := engine.CheckDrugInteractions(context.Background(), "sess-1", []string{"warfarin", "aspirin"})
	if len(interactions) == 0 {
		t.Fatal("expected at least one interaction")
	}
	found := false
	for _, in := range interactions {
		if in.Severity == models.InteractionMajor {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a major interaction, got %+v", interactions)
	}
}

func TestContraindicatedSortsBeforeMajor(t *testing.T) {
	engine := NewEngine(nil)
	meds := []string{"warfarin", "aspirin", "nitroglycerin", "sildenafil"}
	interactions := engine.CheckDrugInteractions(context.Background(), "sess-1", meds)
	if len(interactions) < 2 {
		t.Fatalf("expected at least two interactions, got %d", len(interactions))
	}
	if interactions[0].Severity != models.InteractionContraindicated {
		t.Fatalf("expected contraindicated first, got %s", interactions[0].Severity)
	}
	seenMajor := false
	for _, in := range interactions {
		if in.Severity == models.InteractionMajor {
			seenMajor = true
		}
		if seenMajor && in.Severity == models.InteractionContraindicated {
			t.Fatal("contraindicated interaction sorted after a major one")
		}
	}
}

func TestOnePairReportsMostSevereMatchOnly(t *testing.T) {
	engine := NewEngine(nil)
	// warfarin/aspirin matches both the drug-level pair and two class pairs;
	// only one result should come back for the pair.
	interactions := engine.CheckDrugInteractions(context.Background(), "s", []string{"warfarin", "aspirin"})
	if len(interactions) != 1 {
		t.Fatalf("expected one interaction for one pair, got %d", len(interactions))
	}
}

func TestSevereInteractionsPublishAlerts(t *testing.T) {
	pub := &capturePublisher{}
	engine := NewEngine(pub)
	engine.CheckDrugInteractions(context.Background(), "sess-9", []string{"phenelzine", "sertraline", "metformin", "prednisone"})
	if len(pub.events) != 1 {
		t.Fatalf("expected one alert for the contraindicated pair, got %d", len(pub.events))
	}
	if pub.events[0]["severity"] != string(models.InteractionContraindicated) {
		t.Fatalf("unexpected alert severity %v", pub.events[0]["severity"])
	}
}

func TestNoInteractionForUnknownDrugs(t *testing.T) {
	engine := NewEngine(nil)
	if got := engine.CheckDrugInteractions(context.Background(), "s", []string{"placebo", "saline"}); len(got) != 0 {
		t.Fatalf("expected no interactions, got %+v", got)
	}
}

func TestContraindicationByClass(t *testing.T) {
	engine := NewEngine(nil)
	results := engine.CheckContraindications([]string{"Ibuprofen"}, []string{"Chronic Kidney Disease stage 3"})
	if len(results) != 1 {
		t.Fatalf("expected one contraindication, got %d", len(results))
	}
	if results[0].Drug != "ibuprofen" || results[0].Condition != "chronic kidney disease" {
		t.Fatalf("unexpected contraindication %+v", results[0])
	}
}

func TestAllergyCrossReactivityTiers(t *testing.T) {
	engine := NewEngine(nil)
	alerts := engine.CheckAllergyCrossReactivity(context.Background(), "sess-1", []string{"penicillin"}, []string{"amoxicillin", "cephalexin", "ceftriaxone", "azithromycin"})
	if len(alerts) != 3 {
		t.Fatalf("expected three alerts, got %d", len(alerts))
	}
	byMed := map[string]models.AllergyRisk{}
	for _, a := range alerts {
		byMed[a.Medication] = a.Risk
	}
	if byMed["amoxicillin"] != models.AllergyRiskHigh {
		t.Fatalf("amoxicillin risk = %s, want high", byMed["amoxicillin"])
	}
	if byMed["cephalexin"] != models.AllergyRiskModerate {
		t.Fatalf("cephalexin risk = %s, want moderate", byMed["cephalexin"])
	}
	if byMed["ceftriaxone"] != models.AllergyRiskLow {
		t.Fatalf("ceftriaxone risk = %s, want low", byMed["ceftriaxone"])
	}
	for _, a := range alerts {
		if len(a.SafeAlternatives) == 0 {
			t.Fatalf("expected safe alternatives on %s alert", a.Medication)
		}
	}
}

func TestHighRiskAllergyPublishesAlert(t *testing.T) {
	pub := &capturePublisher{}
	engine := NewEngine(pub)
	engine.CheckAllergyCrossReactivity(context.Background(), "sess-2", []string{"penicillin"}, []string{"amoxicillin", "cephalexin"})
	// Only the high-risk amoxicillin hit alerts, not the moderate cephalexin one.
	if len(pub.events) != 1 {
		t.Fatalf("expected one published alert, got %d", len(pub.events))
	}
	if pub.events[0]["alert_kind"] != "allergy_cross_reactivity" {
		t.Fatalf("unexpected alert kind %v", pub.events[0]["alert_kind"])
	}
	if pub.events[0]["medication"] != "amoxicillin" || pub.events[0]["risk"] != string(models.AllergyRiskHigh) {
		t.Fatalf("unexpected alert payload %+v", pub.events[0])
	}
}

func TestDosingGuidanceRenalBands(t *testing.T) {
	engine := NewEngine(nil)
	guidance := engine.GetDosingGuidance("metformin", 25, 50, 80)
	if guidance == nil {
		t.Fatal("expected renal guidance for eGFR 25")
	}
	if guidance.Adjustments[0] != "Contraindicated below eGFR 30" {
		t.Fatalf("unexpected adjustment %q", guidance.Adjustments[0])
	}
}

func TestDosingGuidanceBandGapReturnsNil(t *testing.T) {
	engine := NewEngine(nil)
	// metformin bands stop at eGFR 45; above that no adjustment applies.
	if g := engine.GetDosingGuidance("metformin", 60, 50, 80); g != nil {
		t.Fatalf("expected nil guidance, got %+v", g)
	}
}

func TestDosingGuidanceLayersAgeAndRenal(t *testing.T) {
	engine := NewEngine(nil)
	guidance := engine.GetDosingGuidance("metformin", 40, 82, 70)
	if guidance == nil {
		t.Fatal("expected guidance")
	}
	if len(guidance.Adjustments) != 2 {
		t.Fatalf("expected renal and age adjustments, got %+v", guidance.Adjustments)
	}
}
