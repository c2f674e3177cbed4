package engine

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dictamed-ai/compliance/pkg/common/config"
	"github.com/dictamed-ai/compliance/pkg/common/models"
	"github.com/dictamed-ai/compliance/pkg/phi"
	"github.com/dictamed-ai/compliance/pkg/plugins"
)

type capturePublisher struct {
	types []string
	data  []map[string]interface{}
}

func (c *capturePublisher) PublishEvent(ctx context.Context, eventType, sessionID, sourceEngine string, data map[string]interface{}, priority int) error {
	c.types = append(c.types, eventType)
	c.data = append(c.data, data)
	return nil
}

// nameClassifier tags consecutive capitalized words as person entities.
type nameClassifier struct{}

var capitalizedRun = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`)

func (nameClassifier) Classify(ctx context.Context, text string) ([]phi.Entity, error) {
	var entities []phi.Entity
	for _, loc := range capitalizedRun.FindAllStringIndex(text, -1) {
		entities = append(entities, phi.Entity{Label: "PER", Start: loc[0], End: loc[1], Score: 0.92})
	}
	return entities, nil
}

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.EnsembleEnabled = true
	cfg.EnsembleABRate = 1.0
	return cfg
}

func TestDetectEndToEnd(t *testing.T) {
	pub := &capturePublisher{}
	e := New(Options{Config: testConfig(), Publisher: pub, Classifier: nameClassifier{}})

	text := "Patient Robert Smith, DOB 01/02/1980, SSN 123-45-6789 presents with sepsis."
	patient := &models.PatientContext{FirstName: "Robert", LastName: "Smith", DOB: "01/02/1980"}

	detections, err := e.Detect(context.Background(), "sess-1", "user-1", text, patient, nil)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	var name, dob, ssn *models.Detection
	for i := range detections {
		d := &detections[i]
		switch {
		case d.Category == models.CategoryName && strings.Contains(d.Text, "Robert"):
			name = d
		case d.Category == models.CategoryDate || d.Category == models.CategoryDOB:
			dob = d
		case d.Category == models.CategorySSN:
			ssn = d
		}
	}
	if name == nil || !name.Suppressed {
		t.Fatalf("patient name should be detected and suppressed, got %+v", name)
	}
	if dob == nil || !dob.Suppressed {
		t.Fatalf("patient DOB should be detected and suppressed, got %+v", dob)
	}
	if ssn == nil || ssn.Suppressed {
		t.Fatalf("SSN should be detected and never suppressed, got %+v", ssn)
	}
	if ssn.CalibratedConfidence <= 0 || ssn.CalibratedConfidence > 1 {
		t.Fatalf("calibrated confidence out of range: %g", ssn.CalibratedConfidence)
	}

	if pub.types[0] != "phi.detected" {
		t.Fatalf("first event = %s", pub.types[0])
	}
	sawSuppressed := false
	for _, typ := range pub.types {
		if typ == "phi.suppressed" {
			sawSuppressed = true
		}
	}
	if !sawSuppressed {
		t.Fatal("expected phi.suppressed event")
	}

	alerts := e.ScanHighImpact(context.Background(), "sess-1", text)
	if len(alerts) == 0 || alerts[0].Severity != models.SeverityCritical {
		t.Fatalf("expected critical sepsis alert, got %+v", alerts)
	}
}

func TestVariantRoutingDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.EnsembleABRate = 0.5
	e := New(Options{Config: cfg, Classifier: nameClassifier{}})
	first := e.resolveVariant("user-42")
	for i := 0; i < 10; i++ {
		if e.resolveVariant("user-42") != first {
			t.Fatal("variant assignment must be stable per user")
		}
	}
}

func TestVariantLegacyWithoutClassifier(t *testing.T) {
	e := New(Options{Config: testConfig()})
	if e.resolveVariant("anyone") != variantLegacy {
		t.Fatal("no classifier must force the legacy path")
	}
}

func TestDeidentifyRoundTrip(t *testing.T) {
	e := New(Options{Config: testConfig()})
	text := "SSN 123-45-6789 on file."
	result, err := e.Deidentify(context.Background(), text, "sess-2", models.MethodToken, nil)
	if err != nil {
		t.Fatalf("deidentify: %v", err)
	}
	if !result.Reversible || strings.Contains(result.DeidentifiedText, "123-45-6789") {
		t.Fatalf("result = %+v", result)
	}
	restored, ok := e.Reidentify(result.DeidentifiedText, "sess-2")
	if !ok || restored != text {
		t.Fatalf("restored = %q ok = %v", restored, ok)
	}
	if _, ok := e.Reidentify(result.DeidentifiedText, "unknown-session"); ok {
		t.Fatal("unknown session must not reidentify")
	}
}

func TestFeedbackReachesCalibrator(t *testing.T) {
	e := New(Options{Config: testConfig()})
	before, err := e.CalibrationParameters()
	if err != nil {
		t.Fatalf("parameters: %v", err)
	}
	for i := 0; i < e.cfg.CalibrationMinSamples; i++ {
		if err := e.RecordPHIFeedback(context.Background(), models.CategorySSN, 0.9, true); err != nil {
			t.Fatalf("feedback: %v", err)
		}
	}
	after, _ := e.CalibrationParameters()
	if after[models.CategorySSN].SampleCount == before[models.CategorySSN].SampleCount {
		t.Fatal("feedback batch should update sample count")
	}
}

func TestDelegationsAcrossComponents(t *testing.T) {
	e := New(Options{Config: testConfig()})

	interactions := e.CheckInteractions(context.Background(), "s", []string{"warfarin", "aspirin"})
	if len(interactions) == 0 {
		t.Fatal("expected interaction")
	}

	result := e.Reconcile(context.Background(), "s", []string{"lisinopril 10mg daily"}, nil)
	if len(result.Discrepancies) != 1 {
		t.Fatalf("discrepancies = %+v", result.Discrepancies)
	}

	alert := e.CheckLabValue(context.Background(), "s", models.LabValue{TestName: "potassium", Value: 6.8}, nil)
	if alert == nil || alert.Severity != models.SeverityCritical {
		t.Fatalf("lab alert = %+v", alert)
	}

	summary := e.DetectCareGaps(context.Background(), "s", models.PatientData{PatientID: "p", Age: 70}, time.Now())
	if summary.GapN == 0 {
		t.Fatal("expected care gaps for an unscreened 70-year-old")
	}

	codes := e.ExtractCodes("History of hypertension.", nil)
	if len(codes) == 0 {
		t.Fatal("expected hypertension code")
	}
}

func countType(types []string, want string) int {
	n := 0
	for _, typ := range types {
		if typ == want {
			n++
		}
	}
	return n
}

func TestCriticalLabValuePublishesClinicalAlert(t *testing.T) {
	pub := &capturePublisher{}
	e := New(Options{Config: testConfig(), Publisher: pub})

	alert := e.CheckLabValue(context.Background(), "sess-lab", models.LabValue{TestName: "potassium", Value: 6.8}, nil)
	if alert == nil || alert.Severity != models.SeverityCritical {
		t.Fatalf("lab alert = %+v", alert)
	}
	if countType(pub.types, "context.clinical_alert") != 1 {
		t.Fatalf("expected one clinical alert event, got %v", pub.types)
	}
	if pub.data[0]["alert_kind"] != "lab" || pub.data[0]["test_name"] != "potassium" {
		t.Fatalf("unexpected alert payload %+v", pub.data[0])
	}

	// A value inside the reference range publishes nothing.
	if a := e.CheckLabValue(context.Background(), "sess-lab", models.LabValue{TestName: "potassium", Value: 4.2}, nil); a != nil {
		t.Fatalf("expected no alert, got %+v", a)
	}
	if countType(pub.types, "context.clinical_alert") != 1 {
		t.Fatalf("normal value must not publish, got %v", pub.types)
	}
}

func TestSignificantTrendPublishesClinicalAlert(t *testing.T) {
	pub := &capturePublisher{}
	e := New(Options{Config: testConfig(), Publisher: pub})

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	series := []models.LabValue{
		{TestName: "creatinine", Value: 1.0, ObservedAt: base},
		{TestName: "creatinine", Value: 1.5, ObservedAt: base.AddDate(0, 0, 1)},
		{TestName: "creatinine", Value: 2.0, ObservedAt: base.AddDate(0, 0, 2)},
	}
	trend, err := e.AnalyzeLabTrend(context.Background(), "sess-lab", "creatinine", series)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if trend.Direction != models.TrendIncreasing || !trend.Significant {
		t.Fatalf("trend = %+v", trend)
	}
	if countType(pub.types, "context.clinical_alert") != 1 {
		t.Fatalf("expected one clinical alert event, got %v", pub.types)
	}

	// A stable series stays silent.
	flat := []models.LabValue{
		{TestName: "creatinine", Value: 1.0, ObservedAt: base},
		{TestName: "creatinine", Value: 1.0, ObservedAt: base.AddDate(0, 0, 1)},
	}
	if _, err := e.AnalyzeLabTrend(context.Background(), "sess-lab", "creatinine", flat); err != nil {
		t.Fatalf("trend: %v", err)
	}
	if countType(pub.types, "context.clinical_alert") != 1 {
		t.Fatalf("stable trend must not publish, got %v", pub.types)
	}
}

func TestHighConfidenceDetectionRaisesPHIAlert(t *testing.T) {
	pub := &capturePublisher{}
	e := New(Options{Config: testConfig(), Publisher: pub})

	// An unsuppressed SSN calibrates above the alert threshold.
	_, err := e.Detect(context.Background(), "sess-phi", "user-1", "SSN 123-45-6789 on file.", nil, nil)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if countType(pub.types, "context.phi_alert") != 1 {
		t.Fatalf("expected one phi alert event, got %v", pub.types)
	}
	var payload map[string]interface{}
	for i, typ := range pub.types {
		if typ == "context.phi_alert" {
			payload = pub.data[i]
		}
	}
	categories, _ := payload["categories"].([]string)
	if len(categories) != 1 || categories[0] != string(models.CategorySSN) {
		t.Fatalf("unexpected phi alert payload %+v", payload)
	}

	// A phone match calibrates below the threshold and stays quiet.
	pub2 := &capturePublisher{}
	e2 := New(Options{Config: testConfig(), Publisher: pub2})
	if _, err := e2.Detect(context.Background(), "sess-phi", "user-1", "Callback 555-123-4567.", nil, nil); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if countType(pub2.types, "context.phi_alert") != 0 {
		t.Fatalf("below-threshold detection must not raise a phi alert, got %v", pub2.types)
	}
	if countType(pub2.types, "phi.detected") != 1 {
		t.Fatalf("expected detection event, got %v", pub2.types)
	}
}

type flagPlugin struct{}

func (flagPlugin) ID() string { return "gated" }
func (flagPlugin) Capabilities() plugins.Capabilities {
	return plugins.Capabilities{RequiredFlags: []string{"specialty_pack"}}
}
func (flagPlugin) Process(ctx context.Context, pc models.PluginContext) (models.PluginResult, error) {
	return models.PluginResult{}, nil
}

func TestPluginRegistrationHonorsFlags(t *testing.T) {
	e := New(Options{Config: testConfig()})
	if err := e.RegisterPlugin(flagPlugin{}); err == nil {
		t.Fatal("expected registration to fail without the flag")
	}
	e = New(Options{Config: testConfig(), FeatureFlags: map[string]bool{"specialty_pack": true}})
	if err := e.RegisterPlugin(flagPlugin{}); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if results := e.ProcessPlugins(context.Background(), models.PluginContext{}); len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
}
