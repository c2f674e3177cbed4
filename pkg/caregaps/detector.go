package caregaps

import (
	"context"
	"time"

	"github.com/dictamed-ai/compliance/pkg/common/events"
	"github.com/dictamed-ai/compliance/pkg/common/logger"
	"github.com/dictamed-ai/compliance/pkg/common/models"
)

// Detector evaluates a patient against the measure registry as of a given
// assessment date.
type Detector struct {
	publisher events.Publisher
}

func NewDetector(publisher events.Publisher) *Detector {
	return &Detector{publisher: publisher}
}

// Assess evaluates every registered measure. Chronic-disease measures
// produce high-priority gaps, preventive measures moderate-priority ones.
// A measure never completed is overdue by its full interval.
func (d *Detector) Assess(ctx context.Context, sessionID string, patient models.PatientData, assessmentDate time.Time) models.PatientGapSummary {
	if assessmentDate.IsZero() {
		assessmentDate = time.Now().UTC()
	}
	summary := models.PatientGapSummary{
		PatientID:      patient.PatientID,
		AssessmentDate: assessmentDate,
	}

	for _, measure := range Measures() {
		result := models.MeasureResult{MeasureID: measure.ID, Name: measure.Name}
		result.Applicable = measure.AppliesTo(patient)
		if result.Applicable {
			summary.ApplicableN++
			lastDone, done := patient.LastDone[measure.ID]
			dueBy := assessmentDate.AddDate(0, 0, -measure.IntervalDays)
			result.Met = done && lastDone.After(dueBy)
			if result.Met {
				summary.MetN++
			} else {
				gap := models.CareGap{
					MeasureID:   measure.ID,
					Name:        measure.Name,
					Category:    measure.Category,
					Priority:    gapPriority(measure),
					DaysOverdue: daysOverdue(measure, lastDone, done, assessmentDate),
					Description: measure.Description,
				}
				summary.Gaps = append(summary.Gaps, gap)
				d.publishGap(ctx, sessionID, patient.PatientID, gap)
			}
		}
		summary.Measures = append(summary.Measures, result)
	}
	summary.GapN = len(summary.Gaps)
	return summary
}

func gapPriority(measure Measure) models.AlertSeverity {
	if measure.Category == "chronic" {
		return models.SeverityHigh
	}
	return models.SeverityModerate
}

func daysOverdue(measure Measure, lastDone time.Time, done bool, asOf time.Time) int {
	if !done {
		return measure.IntervalDays
	}
	due := lastDone.AddDate(0, 0, measure.IntervalDays)
	overdue := int(asOf.Sub(due).Hours() / 24)
	if overdue < 0 {
		return 0
	}
	return overdue
}

func (d *Detector) publishGap(ctx context.Context, sessionID, patientID string, gap models.CareGap) {
	if d.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"patient_id":   patientID,
		"measure_id":   gap.MeasureID,
		"category":     gap.Category,
		"priority":     string(gap.Priority),
		"days_overdue": gap.DaysOverdue,
	}
	if err := d.publisher.PublishEvent(ctx, events.TypeCareGapDetected, sessionID, "care_gaps", data, events.DefaultPriority); err != nil {
		logger.Log.WithField("error", err.Error()).Warn("failed to publish care gap event")
	}
}

// MarkClosed emits the closure event for a gap resolved during the
// encounter, for example a vaccine administered in office.
func (d *Detector) MarkClosed(ctx context.Context, sessionID, patientID, measureID string) {
	if d.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"patient_id": patientID,
		"measure_id": measureID,
	}
	if err := d.publisher.PublishEvent(ctx, events.TypeCareGapClosed, sessionID, "care_gaps", data, events.DefaultPriority); err != nil {
		logger.Log.WithField("error", err.Error()).Warn("failed to publish care gap closure")
	}
}
