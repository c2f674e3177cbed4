package medrec

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dictamed-ai/compliance/pkg/common/events"
	"github.com/dictamed-ai/compliance/pkg/common/logger"
	"github.com/dictamed-ai/compliance/pkg/common/models"
	"github.com/dictamed-ai/compliance/pkg/reasoning"
)

// brandAliases maps brand names to their generic equivalent so the same
// medication is matched regardless of which form a note uses.
var brandAliases = map[string]string{
	"coumadin":   "warfarin",
	"eliquis":    "apixaban",
	"xarelto":    "rivaroxaban",
	"glucophage": "metformin",
	"prinivil":   "lisinopril",
	"zestril":    "lisinopril",
	"cozaar":     "losartan",
	"lasix":      "furosemide",
	"zocor":      "simvastatin",
	"lipitor":    "atorvastatin",
	"zoloft":     "sertraline",
	"prozac":     "fluoxetine",
	"xanax":      "alprazolam",
	"ativan":     "lorazepam",
	"tylenol":    "acetaminophen",
	"motrin":     "ibuprofen",
	"advil":      "ibuprofen",
	"aleve":      "naproxen",
	"zithromax":  "azithromycin",
	"keflex":     "cephalexin",
	"amoxil":     "amoxicillin",
	"neurontin":  "gabapentin",
	"lanoxin":    "digoxin",
}

var (
	dosePattern      = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(mg|mcg|g|ml|units?)\b`)
	frequencyPattern = regexp.MustCompile(`(?i)\b(once daily|twice daily|three times daily|four times daily|daily|nightly|weekly|every \d+ hours|as needed|at bedtime|with meals|bid|tid|qid|qd|qhs|prn)\b`)
)

// ParseEntry splits a free-text medication mention into name, dose and
// frequency. The name is the text before the dose, normalized to its
// generic form.
func ParseEntry(raw string) models.MedicationEntry {
	entry := models.MedicationEntry{Raw: strings.TrimSpace(raw)}
	text := entry.Raw

	if loc := dosePattern.FindStringIndex(text); loc != nil {
		entry.Dose = strings.ToLower(strings.TrimSpace(text[loc[0]:loc[1]]))
		entry.Name = strings.TrimSpace(text[:loc[0]])
	} else {
		entry.Name = text
	}
	if m := frequencyPattern.FindString(text); m != "" {
		entry.Frequency = normalizeFrequency(m)
		if entry.Dose == "" {
			if idx := strings.Index(strings.ToLower(text), strings.ToLower(m)); idx > 0 {
				entry.Name = strings.TrimSpace(text[:idx])
			}
		}
	}
	entry.Name = strings.ToLower(strings.Trim(entry.Name, " ,.;"))
	entry.Generic = genericName(entry.Name)
	return entry
}

func genericName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if generic, ok := brandAliases[name]; ok {
		return generic
	}
	return name
}

var frequencyAliases = map[string]string{
	"bid": "twice daily",
	"tid": "three times daily",
	"qid": "four times daily",
	"qd":  "daily",
	"qhs": "at bedtime",
	"prn": "as needed",
}

func normalizeFrequency(freq string) string {
	freq = strings.ToLower(strings.TrimSpace(freq))
	if canonical, ok := frequencyAliases[freq]; ok {
		return canonical
	}
	if freq == "once daily" {
		return "daily"
	}
	return freq
}

// Reconciler diffs a dictated medication list against the EHR list.
type Reconciler struct {
	reasoner  *reasoning.Engine
	publisher events.Publisher
}

func NewReconciler(reasoner *reasoning.Engine, publisher events.Publisher) *Reconciler {
	return &Reconciler{reasoner: reasoner, publisher: publisher}
}

// Reconcile matches dictated medications against the EHR list by generic
// name and reports omissions, additions, dose and frequency changes, and
// duplicate therapy within the combined list. When a reasoning engine is
// configured the combined list is also screened for interactions.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string, ehrMeds, dictatedMeds []string) models.ReconciliationResult {
	result := models.ReconciliationResult{ComputedAt: time.Now().UTC()}

	ehrByGeneric := map[string]models.MedicationEntry{}
	var ehrOrder []string
	for _, raw := range ehrMeds {
		entry := ParseEntry(raw)
		if _, seen := ehrByGeneric[entry.Generic]; !seen {
			ehrOrder = append(ehrOrder, entry.Generic)
		}
		ehrByGeneric[entry.Generic] = entry
	}

	dictatedByGeneric := map[string]models.MedicationEntry{}
	for _, raw := range dictatedMeds {
		entry := ParseEntry(raw)
		dictatedByGeneric[entry.Generic] = entry

		ehrEntry, inEHR := ehrByGeneric[entry.Generic]
		if !inEHR {
			result.Discrepancies = append(result.Discrepancies, models.MedicationDiscrepancy{
				Kind:       models.DiscrepancyAddition,
				Medication: entry.Generic,
				NoteValue:  entry.Raw,
				Severity:   models.SeverityModerate,
				Detail:     "medication dictated but not on the EHR list",
			})
			continue
		}
		result.Matched = append(result.Matched, entry)
		if ehrEntry.Dose != "" && entry.Dose != "" && ehrEntry.Dose != entry.Dose {
			result.Discrepancies = append(result.Discrepancies, models.MedicationDiscrepancy{
				Kind:       models.DiscrepancyDoseChange,
				Medication: entry.Generic,
				EHRValue:   ehrEntry.Dose,
				NoteValue:  entry.Dose,
				Severity:   models.SeverityHigh,
			})
		}
		if ehrEntry.Frequency != "" && entry.Frequency != "" && ehrEntry.Frequency != entry.Frequency {
			result.Discrepancies = append(result.Discrepancies, models.MedicationDiscrepancy{
				Kind:       models.DiscrepancyFrequencyChange,
				Medication: entry.Generic,
				EHRValue:   ehrEntry.Frequency,
				NoteValue:  entry.Frequency,
				Severity:   models.SeverityModerate,
			})
		}
	}

	for _, generic := range ehrOrder {
		if _, dictated := dictatedByGeneric[generic]; !dictated {
			result.Discrepancies = append(result.Discrepancies, models.MedicationDiscrepancy{
				Kind:       models.DiscrepancyOmission,
				Medication: generic,
				EHRValue:   ehrByGeneric[generic].Raw,
				Severity:   models.SeverityHigh,
				Detail:     "EHR medication not mentioned in dictation",
			})
		}
	}

	combined := combinedGenerics(ehrByGeneric, dictatedByGeneric)
	result.Discrepancies = append(result.Discrepancies, duplicateTherapy(combined)...)

	if r.reasoner != nil {
		result.Interactions = r.reasoner.CheckDrugInteractions(ctx, sessionID, combined)
	}
	result.NeedsReview = r.needsReview(result)
	r.publishComplete(ctx, sessionID, result)
	return result
}

func combinedGenerics(ehr, dictated map[string]models.MedicationEntry) []string {
	seen := map[string]bool{}
	var combined []string
	for generic := range ehr {
		if !seen[generic] {
			seen[generic] = true
			combined = append(combined, generic)
		}
	}
	for generic := range dictated {
		if !seen[generic] {
			seen[generic] = true
			combined = append(combined, generic)
		}
	}
	return combined
}

// duplicateTherapy flags distinct medications sharing a pharmacologic class.
func duplicateTherapy(medications []string) []models.MedicationDiscrepancy {
	byClass := map[string][]string{}
	for _, med := range medications {
		for _, term := range reasoning.ClassesFor(med)[1:] {
			byClass[term] = append(byClass[term], med)
		}
	}
	classes := make([]string, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	var discrepancies []models.MedicationDiscrepancy
	reported := map[string]bool{}
	for _, class := range classes {
		members := byClass[class]
		if len(members) < 2 || reported[strings.Join(members, "|")] {
			continue
		}
		reported[strings.Join(members, "|")] = true
		discrepancies = append(discrepancies, models.MedicationDiscrepancy{
			Kind:       models.DiscrepancyDuplicate,
			Medication: strings.Join(members, ", "),
			Severity:   models.SeverityHigh,
			Detail:     "multiple agents in class " + class,
		})
	}
	return discrepancies
}

func (r *Reconciler) needsReview(result models.ReconciliationResult) bool {
	for _, d := range result.Discrepancies {
		if d.Severity == models.SeverityHigh || d.Severity == models.SeverityCritical {
			return true
		}
	}
	for _, in := range result.Interactions {
		if in.Severity == models.InteractionContraindicated || in.Severity == models.InteractionMajor {
			return true
		}
	}
	return false
}

func (r *Reconciler) publishComplete(ctx context.Context, sessionID string, result models.ReconciliationResult) {
	if r.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"matched_count":     len(result.Matched),
		"discrepancy_count": len(result.Discrepancies),
		"interaction_count": len(result.Interactions),
		"needs_review":      result.NeedsReview,
	}
	if err := r.publisher.PublishEvent(ctx, events.TypeReconciliationComplete, sessionID, "medrec", data, events.DefaultPriority); err != nil {
		logger.Log.WithField("error", err.Error()).Warn("failed to publish reconciliation event")
	}
}
