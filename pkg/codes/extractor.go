package codes

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dictamed-ai/compliance/pkg/common/events"
	"github.com/dictamed-ai/compliance/pkg/common/logger"
	"github.com/dictamed-ai/compliance/pkg/common/models"
)

var (
	icd10Pattern = regexp.MustCompile(`\b[A-TV-Z][0-9][0-9A-Z](?:\.[0-9A-Z]{1,4})?\b`)
	cptPattern   = regexp.MustCompile(`\b\d{5}\b`)
	ndcPattern   = regexp.MustCompile(`\b\d{4,5}-\d{3,4}-\d{1,2}\b`)
)

// cptRange maps a CPT numeric band to its section label. Ordered ascending
// for linear search.
type cptRange struct {
	low   int
	high  int
	label string
}

var cptRanges = []cptRange{
	{100, 1999, "Anesthesia"},
	{10004, 69990, "Surgery"},
	{70010, 79999, "Radiology"},
	{80047, 89398, "Pathology and Laboratory"},
	{90281, 99607, "Medicine and E/M"},
}

func cptSection(code int) (string, bool) {
	for _, r := range cptRanges {
		if code >= r.low && code <= r.high {
			return r.label, true
		}
	}
	return "", false
}

// highImpactEntry defines a curated life-threatening condition and the
// protocol recommendations attached to its alert.
type highImpactEntry struct {
	condition       string
	code            string
	severity        models.AlertSeverity
	phrases         []string
	recommendations []string
}

var highImpactTable = []highImpactEntry{
	{
		condition: "sepsis", code: "A41.9", severity: models.SeverityCritical,
		phrases: []string{"sepsis", "septic shock", "septicemia"},
		recommendations: []string{
			"Initiate sepsis bundle within 1 hour",
			"Obtain blood cultures before antibiotics",
			"Begin broad-spectrum antibiotics",
			"Measure serum lactate",
		},
	},
	{
		condition: "stemi", code: "I21.3", severity: models.SeverityCritical,
		phrases: []string{"stemi", "st elevation myocardial infarction", "st-elevation mi"},
		recommendations: []string{
			"Activate cardiac catheterization lab",
			"Door-to-balloon target under 90 minutes",
			"Administer aspirin and P2Y12 inhibitor",
		},
	},
	{
		condition: "stroke", code: "I63.9", severity: models.SeverityCritical,
		phrases: []string{"acute stroke", "cva", "cerebrovascular accident", "ischemic stroke"},
		recommendations: []string{
			"Activate stroke team",
			"Obtain non-contrast head CT immediately",
			"Assess thrombolysis eligibility window",
		},
	},
	{
		condition: "pulmonary embolism", code: "I26.99", severity: models.SeverityCritical,
		phrases: []string{"pulmonary embolism", "pulmonary embolus", "massive pe"},
		recommendations: []string{
			"Assess hemodynamic stability",
			"Obtain CT pulmonary angiogram",
			"Consider anticoagulation or thrombolysis",
		},
	},
	{
		condition: "cardiac arrest", code: "I46.9", severity: models.SeverityCritical,
		phrases: []string{"cardiac arrest", "pulseless arrest"},
		recommendations: []string{
			"Begin ACLS protocol",
			"Minimize chest compression interruptions",
		},
	},
	{
		condition: "respiratory failure", code: "J96.00", severity: models.SeverityCritical,
		phrases: []string{"respiratory failure", "acute hypoxic respiratory failure"},
		recommendations: []string{
			"Assess airway and oxygenation",
			"Prepare for ventilatory support",
		},
	},
	{
		condition: "diabetic ketoacidosis", code: "E11.10", severity: models.SeverityCritical,
		phrases: []string{"diabetic ketoacidosis", "dka"},
		recommendations: []string{
			"Begin insulin infusion protocol",
			"Aggressive fluid resuscitation",
			"Monitor potassium closely",
		},
	},
	{
		condition: "anaphylaxis", code: "T78.2", severity: models.SeverityCritical,
		phrases: []string{"anaphylaxis", "anaphylactic shock", "anaphylactic reaction"},
		recommendations: []string{
			"Administer intramuscular epinephrine immediately",
			"Secure airway",
			"Observe for biphasic reaction",
		},
	},
	{
		condition: "gi bleed", code: "K92.2", severity: models.SeverityHigh,
		phrases: []string{"gi bleed", "gastrointestinal bleeding", "upper gi bleed", "melena"},
		recommendations: []string{
			"Type and crossmatch",
			"Establish two large-bore IVs",
			"Urgent GI consult",
		},
	},
	{
		condition: "intracranial hemorrhage", code: "I62.9", severity: models.SeverityCritical,
		phrases: []string{"intracranial hemorrhage", "ich", "subdural hematoma", "subarachnoid hemorrhage"},
		recommendations: []string{
			"Stat head CT",
			"Reverse anticoagulation if present",
			"Neurosurgical consult",
		},
	},
}

// Extractor pulls diagnosis/procedure/medication codes out of dictation and
// raises critical alerts for the curated high-impact table.
type Extractor struct {
	catalog   Catalog
	publisher events.Publisher
}

func NewExtractor(catalog Catalog, publisher events.Publisher) *Extractor {
	if len(catalog.Phrases) == 0 {
		catalog = DefaultCatalog()
	}
	return &Extractor{catalog: catalog, publisher: publisher}
}

// Extract returns codes found by direct pattern match plus phrase lookup.
// codeSystems filters the result when non-empty.
func (e *Extractor) Extract(text string, codeSystems []string) []models.ClinicalCode {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var out []models.ClinicalCode
	seen := make(map[string]struct{})

	add := func(code models.ClinicalCode) {
		key := code.System + ":" + code.Code
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, code)
	}

	for _, match := range icd10Pattern.FindAllString(text, -1) {
		add(models.ClinicalCode{Code: match, System: "ICD-10", Display: "Directly documented code", Confidence: 0.95, MatchedText: match})
	}
	for _, match := range ndcPattern.FindAllString(text, -1) {
		add(models.ClinicalCode{Code: match, System: "NDC", Display: "National drug code", Confidence: 0.9, MatchedText: match})
	}
	for _, match := range cptPattern.FindAllString(text, -1) {
		numeric, err := strconv.Atoi(match)
		if err != nil {
			continue
		}
		if label, ok := cptSection(numeric); ok {
			add(models.ClinicalCode{Code: match, System: "CPT", Display: label, Confidence: 0.7, MatchedText: match})
		}
	}

	for phrase, entry := range e.catalog.Phrases {
		if containsPhrase(lower, phrase) {
			add(models.ClinicalCode{
				Code:        entry.Code,
				System:      entry.System,
				Display:     entry.Display,
				Confidence:  phraseConfidence(phrase),
				MatchedText: phrase,
			})
		}
	}

	if len(codeSystems) > 0 {
		wanted := make(map[string]struct{}, len(codeSystems))
		for _, system := range codeSystems {
			wanted[strings.ToUpper(system)] = struct{}{}
		}
		filtered := out[:0]
		for _, code := range out {
			if _, ok := wanted[strings.ToUpper(code.System)]; ok {
				filtered = append(filtered, code)
			}
		}
		out = filtered
	}
	return out
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
// Short entries like "ich" or "pe" must not fire inside ordinary words.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for from := 0; from+len(phrase) <= len(text); {
		i := strings.Index(text[from:], phrase)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(phrase)
		if !wordByte(text, start-1) && !wordByte(text, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func wordByte(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return false
	}
	c := text[i]
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// phraseConfidence scores specificity: longer phrases are more specific,
// capped at 0.95.
func phraseConfidence(phrase string) float64 {
	confidence := 0.6 + 0.02*float64(len(phrase))
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}

// ExtractWithSuggestions ranks phrase matches descending by confidence and
// assigns sequential ranks.
func (e *Extractor) ExtractWithSuggestions(text string) []models.CodeSuggestion {
	extracted := e.Extract(text, nil)
	sort.SliceStable(extracted, func(i, j int) bool {
		return extracted[i].Confidence > extracted[j].Confidence
	})

	suggestions := make([]models.CodeSuggestion, 0, len(extracted))
	for i, code := range extracted {
		suggestions = append(suggestions, models.CodeSuggestion{
			Code:       code,
			Rank:       i + 1,
			Confidence: code.Confidence,
		})
	}
	return suggestions
}

// ScanHighImpact scans for curated life-threatening conditions, returning
// alerts and pushing each through the event publisher.
func (e *Extractor) ScanHighImpact(ctx context.Context, text, sessionID string) []models.ClinicalAlert {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var alerts []models.ClinicalAlert

	for _, entry := range highImpactTable {
		matched := ""
		for _, phrase := range entry.phrases {
			if containsPhrase(lower, phrase) {
				matched = phrase
				break
			}
		}
		if matched == "" && containsPhrase(text, entry.code) {
			matched = entry.code
		}
		if matched == "" {
			continue
		}

		alert := models.ClinicalAlert{
			AlertType:       "high_impact_code",
			Condition:       entry.condition,
			Severity:        entry.severity,
			Message:         "Documentation suggests " + entry.condition,
			Recommendations: entry.recommendations,
			Code:            entry.code,
			Timestamp:       time.Now().UTC(),
		}
		alerts = append(alerts, alert)
		e.publishAlert(ctx, sessionID, alert)
	}
	return alerts
}

func (e *Extractor) publishAlert(ctx context.Context, sessionID string, alert models.ClinicalAlert) {
	if e.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"alert_type":      alert.AlertType,
		"condition":       alert.Condition,
		"severity":        string(alert.Severity),
		"code":            alert.Code,
		"recommendations": alert.Recommendations,
	}
	if err := e.publisher.PublishEvent(ctx, events.TypeClinicalAlert, sessionID, "code_extractor", data, 1); err != nil {
		logger.Log.WithError(err).WithField("condition", alert.Condition).Warn("Failed to publish clinical alert")
	}
}
