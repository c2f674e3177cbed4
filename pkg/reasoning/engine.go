package reasoning

import (
	"context"
	"strings"

	"github.com/dictamed-ai/compliance/pkg/common/events"
	"github.com/dictamed-ai/compliance/pkg/common/logger"
	"github.com/dictamed-ai/compliance/pkg/common/models"
)

// Engine evaluates medication lists against the static interaction,
// contraindication, allergy and dosing tables.
type Engine struct {
	publisher events.Publisher
}

func NewEngine(publisher events.Publisher) *Engine {
	return &Engine{publisher: publisher}
}

// CheckDrugInteractions evaluates every unordered pair of medications.
// Each pair reports at most one interaction, the most severe one found
// across drug-level and class-level matches. Results are ordered
// contraindicated, major, moderate, minor.
func (e *Engine) CheckDrugInteractions(ctx context.Context, sessionID string, medications []string) []models.DrugInteraction {
	var interactions []models.DrugInteraction
	for i := 0; i < len(medications); i++ {
		for j := i + 1; j < len(medications); j++ {
			if hit := lookupInteraction(medications[i], medications[j]); hit != nil {
				interactions = append(interactions, *hit)
			}
		}
	}
	sortBySeverity(interactions)
	for _, in := range interactions {
		if in.Severity == models.InteractionContraindicated || in.Severity == models.InteractionMajor {
			e.publishAlert(ctx, sessionID, in)
		}
	}
	return interactions
}

func lookupInteraction(drug1, drug2 string) *models.DrugInteraction {
	var best *models.DrugInteraction
	for _, term1 := range ClassesFor(drug1) {
		for _, term2 := range ClassesFor(drug2) {
			entry, ok := interactionTable[pairKey(term1, term2)]
			if !ok {
				continue
			}
			if best == nil || severityRank[entry.severity] < severityRank[best.Severity] {
				best = &models.DrugInteraction{
					Drug1:          strings.ToLower(strings.TrimSpace(drug1)),
					Drug2:          strings.ToLower(strings.TrimSpace(drug2)),
					Severity:       entry.severity,
					Description:    entry.description,
					Recommendation: entry.recommendation,
				}
			}
		}
	}
	return best
}

// CheckContraindications flags medications against the patient's documented
// condition list. Condition matching is case-insensitive substring in either
// direction so "CKD stage 4, chronic kidney disease" matches the table term.
func (e *Engine) CheckContraindications(medications, conditions []string) []models.Contraindication {
	var results []models.Contraindication
	for _, med := range medications {
		for _, term := range ClassesFor(med) {
			entries, ok := contraindicationTable[term]
			if !ok {
				continue
			}
			for _, entry := range entries {
				for _, condition := range conditions {
					if conditionMatches(condition, entry.condition) {
						results = append(results, models.Contraindication{
							Drug:      strings.ToLower(strings.TrimSpace(med)),
							Condition: entry.condition,
							Severity:  entry.severity,
							Rationale: entry.rationale,
						})
					}
				}
			}
		}
	}
	return results
}

func conditionMatches(documented, tableTerm string) bool {
	documented = strings.ToLower(strings.TrimSpace(documented))
	return strings.Contains(documented, tableTerm) || strings.Contains(tableTerm, documented) && documented != ""
}

// CheckAllergyCrossReactivity tiers each candidate medication against the
// patient's allergy list. High-risk hits also publish a clinical alert.
func (e *Engine) CheckAllergyCrossReactivity(ctx context.Context, sessionID string, allergies, medications []string) []models.AllergyAlert {
	var alerts []models.AllergyAlert
	for _, allergen := range allergies {
		entry, ok := allergyTable[strings.ToLower(strings.TrimSpace(allergen))]
		if !ok {
			continue
		}
		for _, med := range medications {
			normalized := strings.ToLower(strings.TrimSpace(med))
			risk, found := entry.riskFor(normalized)
			if !found {
				continue
			}
			alert := models.AllergyAlert{
				Allergen:         strings.ToLower(strings.TrimSpace(allergen)),
				Medication:       normalized,
				Risk:             risk,
				Mechanism:        entry.mechanism,
				SafeAlternatives: entry.alternatives,
			}
			alerts = append(alerts, alert)
			if risk == models.AllergyRiskHigh {
				e.publishAllergyAlert(ctx, sessionID, alert)
			}
		}
	}
	return alerts
}

func (a allergyEntry) riskFor(med string) (models.AllergyRisk, bool) {
	for _, term := range ClassesFor(med) {
		if containsTerm(a.high, term) {
			return models.AllergyRiskHigh, true
		}
	}
	for _, term := range ClassesFor(med) {
		if containsTerm(a.moderate, term) {
			return models.AllergyRiskModerate, true
		}
	}
	for _, term := range ClassesFor(med) {
		if containsTerm(a.low, term) {
			return models.AllergyRiskLow, true
		}
	}
	return "", false
}

func containsTerm(list []string, term string) bool {
	for _, item := range list {
		if item == term {
			return true
		}
	}
	return false
}

// GetDosingGuidance layers renal, age and weight rules for one drug.
// A nil result means no adjustment applies; eGFR values outside every
// configured band deliberately produce no renal adjustment.
func (e *Engine) GetDosingGuidance(drug string, eGFR float64, age int, weightKg float64) *models.DosingGuidance {
	normalized := strings.ToLower(strings.TrimSpace(drug))
	var adjustments []string
	var rationales []string

	if eGFR > 0 {
		for _, rule := range renalRules[normalized] {
			if eGFR >= rule.minEGFR && eGFR < rule.maxEGFR {
				adjustments = append(adjustments, rule.adjustment)
				rationales = append(rationales, "renal function")
				break
			}
		}
	}
	if age > 0 {
		for _, rule := range ageRules[normalized] {
			if age >= rule.minAge {
				adjustments = append(adjustments, rule.adjustment)
				rationales = append(rationales, "patient age")
				break
			}
		}
	}
	if weightKg > 0 {
		for _, rule := range weightRules[normalized] {
			if weightKg <= rule.maxWeightKg {
				adjustments = append(adjustments, rule.adjustment)
				rationales = append(rationales, "body weight")
				break
			}
		}
	}

	if len(adjustments) == 0 {
		return nil
	}
	return &models.DosingGuidance{
		Drug:        normalized,
		Adjustments: adjustments,
		Rationale:   strings.Join(rationales, ", "),
	}
}

func (e *Engine) publishAlert(ctx context.Context, sessionID string, interaction models.DrugInteraction) {
	if e.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"alert_kind":     "drug_interaction",
		"drug1":          interaction.Drug1,
		"drug2":          interaction.Drug2,
		"severity":       string(interaction.Severity),
		"description":    interaction.Description,
		"recommendation": interaction.Recommendation,
	}
	if err := e.publisher.PublishEvent(ctx, events.TypeClinicalAlert, sessionID, "reasoning_engine", data, 1); err != nil {
		logger.Log.WithField("error", err.Error()).Warn("failed to publish interaction alert")
	}
}

func (e *Engine) publishAllergyAlert(ctx context.Context, sessionID string, alert models.AllergyAlert) {
	if e.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"alert_kind":        "allergy_cross_reactivity",
		"allergen":          alert.Allergen,
		"medication":        alert.Medication,
		"risk":              string(alert.Risk),
		"mechanism":         alert.Mechanism,
		"safe_alternatives": alert.SafeAlternatives,
	}
	if err := e.publisher.PublishEvent(ctx, events.TypeClinicalAlert, sessionID, "reasoning_engine", data, 1); err != nil {
		logger.Log.WithField("error", err.Error()).Warn("failed to publish allergy alert")
	}
}
