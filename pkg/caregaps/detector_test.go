package caregaps

import (
	"context"
	"testing"
	"time"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

type capturePublisher struct {
	types []string
}

func (c *capturePublisher) PublishEvent(ctx context.Context, eventType, sessionID, sourceEngine string, data map[string]interface{}, priority int) error {
	c.types = append(c.types, eventType)
	return nil
}

func assessDate() time.Time {
	return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
}

func TestDiabeticPatientGaps(t *testing.T) {
	d := NewDetector(nil)
	patient := models.PatientData{
		PatientID:  "pt-1",
		Age:        58,
		Sex:        "male",
		Conditions: []string{"Type 2 Diabetes Mellitus"},
		LastDone: map[string]time.Time{
			"a1c_monitoring":    assessDate().AddDate(0, 0, -90), // current
			"influenza_vaccine": assessDate().AddDate(0, 0, -400),
		},
	}
	summary := d.Assess(context.Background(), "sess-1", patient, assessDate())

	if summary.PatientID != "pt-1" {
		t.Fatalf("patient id = %q", summary.PatientID)
	}
	gapIDs := map[string]models.CareGap{}
	for _, gap := range summary.Gaps {
		gapIDs[gap.MeasureID] = gap
	}
	if _, ok := gapIDs["a1c_monitoring"]; ok {
		t.Fatal("a1c done 90 days ago should not be a gap")
	}
	for _, want := range []string{"diabetic_eye_exam", "influenza_vaccine", "colorectal_screening", "nephropathy_screening"} {
		if _, ok := gapIDs[want]; !ok {
			t.Fatalf("expected gap %s, have %v", want, summary.Gaps)
		}
	}
	if _, ok := gapIDs["mammography"]; ok {
		t.Fatal("mammography should not apply to a male patient")
	}
}

func TestChronicGapsAreHighPriority(t *testing.T) {
	d := NewDetector(nil)
	patient := models.PatientData{PatientID: "pt-2", Age: 50, Conditions: []string{"diabetes"}}
	summary := d.Assess(context.Background(), "s", patient, assessDate())
	for _, gap := range summary.Gaps {
		switch gap.Category {
		case "chronic":
			if gap.Priority != models.SeverityHigh {
				t.Fatalf("chronic gap %s priority = %s", gap.MeasureID, gap.Priority)
			}
		case "preventive":
			if gap.Priority != models.SeverityModerate {
				t.Fatalf("preventive gap %s priority = %s", gap.MeasureID, gap.Priority)
			}
		}
	}
}

func TestDaysOverdueComputation(t *testing.T) {
	d := NewDetector(nil)
	patient := models.PatientData{
		PatientID:  "pt-3",
		Age:        40,
		Conditions: []string{"diabetes"},
		LastDone: map[string]time.Time{
			"a1c_monitoring": assessDate().AddDate(0, 0, -200),
		},
	}
	summary := d.Assess(context.Background(), "s", patient, assessDate())
	for _, gap := range summary.Gaps {
		if gap.MeasureID == "a1c_monitoring" {
			if gap.DaysOverdue != 20 {
				t.Fatalf("days overdue = %d, want 20", gap.DaysOverdue)
			}
			return
		}
	}
	t.Fatal("expected a1c gap")
}

func TestNeverDoneOverdueByFullInterval(t *testing.T) {
	d := NewDetector(nil)
	patient := models.PatientData{PatientID: "pt-4", Age: 70}
	summary := d.Assess(context.Background(), "s", patient, assessDate())
	for _, gap := range summary.Gaps {
		if gap.MeasureID == "influenza_vaccine" {
			if gap.DaysOverdue != 365 {
				t.Fatalf("days overdue = %d, want 365", gap.DaysOverdue)
			}
			return
		}
	}
	t.Fatal("expected influenza gap")
}

func TestSummaryCounts(t *testing.T) {
	d := NewDetector(nil)
	patient := models.PatientData{
		PatientID: "pt-5",
		Age:       30,
		Sex:       "male",
		LastDone: map[string]time.Time{
			"influenza_vaccine": assessDate().AddDate(0, 0, -30),
		},
	}
	summary := d.Assess(context.Background(), "s", patient, assessDate())
	// only influenza applies to a healthy 30-year-old male
	if summary.ApplicableN != 1 || summary.MetN != 1 || summary.GapN != 0 {
		t.Fatalf("counts = applicable %d met %d gaps %d", summary.ApplicableN, summary.MetN, summary.GapN)
	}
	if len(summary.Measures) != len(Measures()) {
		t.Fatalf("measures reported = %d, want %d", len(summary.Measures), len(Measures()))
	}
}

func TestGapEventsPublished(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDetector(pub)
	patient := models.PatientData{PatientID: "pt-6", Age: 66}
	summary := d.Assess(context.Background(), "sess-6", patient, assessDate())
	if len(pub.types) != summary.GapN {
		t.Fatalf("published %d events for %d gaps", len(pub.types), summary.GapN)
	}
	d.MarkClosed(context.Background(), "sess-6", "pt-6", "influenza_vaccine")
	if pub.types[len(pub.types)-1] != "care_gap.closed" {
		t.Fatalf("last event = %s", pub.types[len(pub.types)-1])
	}
}
