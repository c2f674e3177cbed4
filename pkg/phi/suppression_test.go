package phi

import (
	"testing"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

func TestSuppressNicknameMatch(t *testing.T) {
	suppressor := NewSuppressor(0.85)
	patient := &models.PatientContext{FirstName: "Robert"}
	detections := []models.Detection{
		{Text: "Bob", Category: models.CategoryName, Start: 0, End: 3},
	}

	out := suppressor.Apply(detections, patient, nil)
	if !out[0].Suppressed {
		t.Fatal("expected nickname match to be suppressed")
	}
	if !out[0].IsCurrentPatient {
		t.Fatal("expected is_current_patient flag")
	}
	if out[0].SuppressionReason == "" {
		t.Fatal("expected suppression reason to be recorded")
	}
}

func TestSuppressFuzzyNameMatch(t *testing.T) {
	suppressor := NewSuppressor(0.85)
	patient := &models.PatientContext{LastName: "Smith"}
	// Transcription noise: "Smyth" for "Smith".
	detections := suppressor.Apply([]models.Detection{
		{Text: "Smyth", Category: models.CategoryName},
	}, patient, nil)
	if !detections[0].Suppressed {
		t.Fatal("expected fuzzy name match to be suppressed")
	}
}

func TestSuppressDOBReordering(t *testing.T) {
	suppressor := NewSuppressor(0.85)
	patient := &models.PatientContext{DOB: "01/02/1980"}

	for _, text := range []string{"01/02/1980", "1980-01-02"} {
		detections := suppressor.Apply([]models.Detection{
			{Text: text, Category: models.CategoryDate},
		}, patient, nil)
		if !detections[0].Suppressed {
			t.Fatalf("expected %q to match patient DOB", text)
		}
	}
}

func TestSuppressPhoneCountryCode(t *testing.T) {
	suppressor := NewSuppressor(0.85)
	patient := &models.PatientContext{Phone: "555-123-4567"}
	detections := suppressor.Apply([]models.Detection{
		{Text: "1-555-123-4567", Category: models.CategoryPhone},
	}, patient, nil)
	if !detections[0].Suppressed {
		t.Fatal("expected leading country code to be tolerated")
	}
}

func TestSuppressMRNDigits(t *testing.T) {
	suppressor := NewSuppressor(0.85)
	patient := &models.PatientContext{MRN: "MRN 12345678"}
	detections := suppressor.Apply([]models.Detection{
		{Text: "12345678", Category: models.CategoryMRN},
	}, patient, nil)
	if !detections[0].Suppressed {
		t.Fatal("expected digit-only MRN comparison to match")
	}
}

func TestDenyListCatchesDosingAbbreviations(t *testing.T) {
	suppressor := NewSuppressor(0.85)
	detections := suppressor.Apply([]models.Detection{
		{Text: "BID", Category: models.CategoryDate},
	}, nil, nil)
	if !detections[0].Suppressed {
		t.Fatal("expected deny-list suppression")
	}
	if detections[0].SuppressionReason != "deny_list" {
		t.Fatalf("unexpected reason %q", detections[0].SuppressionReason)
	}
	if detections[0].IsCurrentPatient {
		t.Fatal("deny-list hits are not patient matches")
	}
}

func TestUnrelatedSSNNotSuppressed(t *testing.T) {
	suppressor := NewSuppressor(0.85)
	patient := &models.PatientContext{FirstName: "Robert", LastName: "Smith", DOB: "01/02/1980"}
	detections := suppressor.Apply([]models.Detection{
		{Text: "123-45-6789", Category: models.CategorySSN},
	}, patient, nil)
	if detections[0].Suppressed {
		t.Fatal("SSN should never be suppressed by identity context")
	}
}

func TestProviderNameSuppression(t *testing.T) {
	suppressor := NewSuppressor(0.85)
	provider := &models.ProviderContext{LastName: "Jones"}
	detections := suppressor.Apply([]models.Detection{
		{Text: "Dr. Jones", Category: models.CategoryName},
	}, nil, provider)
	if !detections[0].Suppressed {
		t.Fatal("expected provider name to be suppressed")
	}
	if detections[0].IsCurrentPatient {
		t.Fatal("provider match must not flag current patient")
	}
}

func TestJaroWinklerBounds(t *testing.T) {
	cases := []struct {
		a, b string
	}{
		{"robert", "robert"},
		{"robert", "rupert"},
		{"", "x"},
		{"a", ""},
		{"smith", "smyth"},
	}
	for _, c := range cases {
		score := jaroWinkler(c.a, c.b)
		if score < 0 || score > 1 {
			t.Fatalf("similarity %f out of bounds for %q/%q", score, c.a, c.b)
		}
	}
	if jaroWinkler("smith", "smyth") < 0.85 {
		t.Fatal("expected smith/smyth above fuzzy threshold")
	}
}
