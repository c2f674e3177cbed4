package reasoning

import (
	"sort"
	"strings"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

// drugClasses expands a specific drug to its pharmacologic classes for
// interaction and contraindication matching.
var drugClasses = map[string][]string{
	"warfarin":                      {"anticoagulant", "vitamin-k-antagonist"},
	"apixaban":                      {"anticoagulant", "doac"},
	"rivaroxaban":                   {"anticoagulant", "doac"},
	"heparin":                       {"anticoagulant"},
	"aspirin":                       {"antiplatelet", "nsaid", "salicylate"},
	"clopidogrel":                   {"antiplatelet"},
	"ibuprofen":                     {"nsaid"},
	"naproxen":                      {"nsaid"},
	"ketorolac":                     {"nsaid"},
	"lisinopril":                    {"ace-inhibitor"},
	"enalapril":                     {"ace-inhibitor"},
	"losartan":                      {"arb"},
	"valsartan":                     {"arb"},
	"spironolactone":                {"potassium-sparing-diuretic"},
	"furosemide":                    {"loop-diuretic"},
	"metformin":                     {"biguanide"},
	"glipizide":                     {"sulfonylurea"},
	"insulin":                       {"insulin"},
	"simvastatin":                   {"statin"},
	"atorvastatin":                  {"statin"},
	"clarithromycin":                {"macrolide", "cyp3a4-inhibitor"},
	"erythromycin":                  {"macrolide", "cyp3a4-inhibitor"},
	"azithromycin":                  {"macrolide"},
	"fluconazole":                   {"azole-antifungal", "cyp3a4-inhibitor"},
	"ketoconazole":                  {"azole-antifungal", "cyp3a4-inhibitor"},
	"amoxicillin":                   {"penicillin", "beta-lactam"},
	"ampicillin":                    {"penicillin", "beta-lactam"},
	"cephalexin":                    {"cephalosporin", "beta-lactam"},
	"ceftriaxone":                   {"cephalosporin", "beta-lactam"},
	"sertraline":                    {"ssri"},
	"fluoxetine":                    {"ssri"},
	"paroxetine":                    {"ssri"},
	"tramadol":                      {"opioid", "serotonergic"},
	"fentanyl":                      {"opioid"},
	"morphine":                      {"opioid"},
	"oxycodone":                     {"opioid"},
	"alprazolam":                    {"benzodiazepine"},
	"lorazepam":                     {"benzodiazepine"},
	"diazepam":                      {"benzodiazepine"},
	"phenelzine":                    {"maoi"},
	"selegiline":                    {"maoi"},
	"lithium":                       {"mood-stabilizer"},
	"digoxin":                       {"cardiac-glycoside"},
	"amiodarone":                    {"antiarrhythmic", "cyp3a4-inhibitor"},
	"sildenafil":                    {"pde5-inhibitor"},
	"nitroglycerin":                 {"nitrate"},
	"isosorbide":                    {"nitrate"},
	"prednisone":                    {"corticosteroid"},
	"methotrexate":                  {"antimetabolite", "immunosuppressant"},
	"sulfamethoxazole-trimethoprim": {"sulfonamide"},
}

// interactionEntry is keyed by the sorted unordered pair of its terms, each
// term a specific drug or a class.
type interactionEntry struct {
	severity       models.InteractionSeverity
	description    string
	recommendation string
}

func pairKey(term1, term2 string) string {
	if term1 > term2 {
		term1, term2 = term2, term1
	}
	return term1 + "|" + term2
}

var interactionTable = map[string]interactionEntry{
	pairKey("warfarin", "aspirin"): {
		severity:       models.InteractionMajor,
		description:    "Combined anticoagulant and antiplatelet effect markedly increases bleeding risk",
		recommendation: "Avoid combination unless mechanical valve or recent ACS; monitor INR closely",
	},
	pairKey("warfarin", "nsaid"): {
		severity:       models.InteractionMajor,
		description:    "NSAIDs potentiate warfarin and injure gastric mucosa",
		recommendation: "Prefer acetaminophen; add GI protection if unavoidable",
	},
	pairKey("anticoagulant", "antiplatelet"): {
		severity:       models.InteractionMajor,
		description:    "Dual antithrombotic therapy increases major bleeding risk",
		recommendation: "Document indication and reassess duration",
	},
	pairKey("anticoagulant", "nsaid"): {
		severity:       models.InteractionMajor,
		description:    "NSAID use on anticoagulation raises GI bleeding risk",
		recommendation: "Avoid routine NSAID use; consider topical alternatives",
	},
	pairKey("nitrate", "pde5-inhibitor"): {
		severity:       models.InteractionContraindicated,
		description:    "Profound refractory hypotension",
		recommendation: "Never co-administer; separate by at least 24-48 hours",
	},
	pairKey("maoi", "ssri"): {
		severity:       models.InteractionContraindicated,
		description:    "Serotonin syndrome risk",
		recommendation: "Washout of at least 14 days required between agents",
	},
	pairKey("maoi", "serotonergic"): {
		severity:       models.InteractionContraindicated,
		description:    "Serotonin syndrome risk",
		recommendation: "Avoid combination",
	},
	pairKey("ssri", "tramadol"): {
		severity:       models.InteractionMajor,
		description:    "Additive serotonergic activity and lowered seizure threshold",
		recommendation: "Use lowest effective doses; counsel on serotonin syndrome symptoms",
	},
	pairKey("simvastatin", "cyp3a4-inhibitor"): {
		severity:       models.InteractionMajor,
		description:    "CYP3A4 inhibition raises statin levels and rhabdomyolysis risk",
		recommendation: "Hold statin during short courses or switch to pravastatin",
	},
	pairKey("ace-inhibitor", "potassium-sparing-diuretic"): {
		severity:       models.InteractionModerate,
		description:    "Additive hyperkalemia risk",
		recommendation: "Monitor potassium within one week of initiation",
	},
	pairKey("ace-inhibitor", "arb"): {
		severity:       models.InteractionMajor,
		description:    "Dual RAAS blockade increases renal failure and hyperkalemia risk",
		recommendation: "Avoid combination",
	},
	pairKey("lithium", "nsaid"): {
		severity:       models.InteractionMajor,
		description:    "NSAIDs reduce lithium clearance toward toxicity",
		recommendation: "Avoid or monitor lithium level within 5 days",
	},
	pairKey("lithium", "loop-diuretic"): {
		severity:       models.InteractionModerate,
		description:    "Diuretics alter lithium excretion",
		recommendation: "Monitor lithium level after diuretic changes",
	},
	pairKey("digoxin", "amiodarone"): {
		severity:       models.InteractionMajor,
		description:    "Amiodarone doubles digoxin exposure",
		recommendation: "Halve digoxin dose and follow levels",
	},
	pairKey("benzodiazepine", "opioid"): {
		severity:       models.InteractionMajor,
		description:    "Additive respiratory depression",
		recommendation: "Avoid concurrent use; if unavoidable use lowest doses",
	},
	pairKey("azithromycin", "warfarin"): {
		severity:       models.InteractionModerate,
		description:    "Macrolides can potentiate warfarin",
		recommendation: "Check INR during and after the course",
	},
	pairKey("metformin", "prednisone"): {
		severity:       models.InteractionMinor,
		description:    "Corticosteroids raise blood glucose",
		recommendation: "Increase glucose monitoring during steroid course",
	},
	pairKey("methotrexate", "nsaid"): {
		severity:       models.InteractionMajor,
		description:    "NSAIDs reduce methotrexate clearance",
		recommendation: "Avoid with high-dose methotrexate",
	},
	pairKey("methotrexate", "sulfonamide"): {
		severity:       models.InteractionMajor,
		description:    "Additive antifolate toxicity and marrow suppression",
		recommendation: "Avoid combination",
	},
}

// contraindicationEntry maps a drug or class term to condition rules.
type contraindicationEntry struct {
	condition string
	severity  models.InteractionSeverity
	rationale string
}

var contraindicationTable = map[string][]contraindicationEntry{
	"nsaid": {
		{condition: "chronic kidney disease", severity: models.InteractionMajor, rationale: "NSAIDs worsen renal perfusion"},
		{condition: "peptic ulcer disease", severity: models.InteractionMajor, rationale: "GI bleeding risk"},
		{condition: "heart failure", severity: models.InteractionMajor, rationale: "Sodium retention worsens heart failure"},
	},
	"metformin": {
		{condition: "severe renal impairment", severity: models.InteractionContraindicated, rationale: "Lactic acidosis risk with eGFR below 30"},
	},
	"beta-lactam": {
		{condition: "penicillin anaphylaxis", severity: models.InteractionContraindicated, rationale: "Anaphylaxis history to the class"},
	},
	"ace-inhibitor": {
		{condition: "pregnancy", severity: models.InteractionContraindicated, rationale: "Fetal renal toxicity"},
		{condition: "angioedema history", severity: models.InteractionContraindicated, rationale: "Recurrent angioedema risk"},
	},
	"benzodiazepine": {
		{condition: "severe respiratory insufficiency", severity: models.InteractionMajor, rationale: "Respiratory depression"},
	},
	"statin": {
		{condition: "active liver disease", severity: models.InteractionMajor, rationale: "Hepatotoxicity"},
	},
}

// allergyEntry tiers cross-reactive medications for a documented allergen.
type allergyEntry struct {
	high         []string
	moderate     []string
	low          []string
	mechanism    string
	alternatives []string
}

var allergyTable = map[string]allergyEntry{
	"penicillin": {
		high:         []string{"amoxicillin", "ampicillin", "piperacillin"},
		moderate:     []string{"cephalexin", "cefazolin"},
		low:          []string{"ceftriaxone", "cefepime"},
		mechanism:    "Shared beta-lactam ring and side-chain similarity",
		alternatives: []string{"azithromycin", "levofloxacin", "doxycycline"},
	},
	"sulfa": {
		high:         []string{"sulfamethoxazole-trimethoprim", "sulfasalazine"},
		moderate:     []string{"sulfonylurea", "glipizide"},
		low:          []string{"furosemide", "hydrochlorothiazide"},
		mechanism:    "Sulfonamide group cross-reactivity",
		alternatives: []string{"nitrofurantoin", "ciprofloxacin"},
	},
	"aspirin": {
		high:         []string{"ibuprofen", "naproxen", "ketorolac"},
		moderate:     []string{"celecoxib"},
		mechanism:    "COX-1 inhibition cross-reactivity",
		alternatives: []string{"acetaminophen"},
	},
	"codeine": {
		high:         []string{"morphine", "hydrocodone"},
		moderate:     []string{"oxycodone", "hydromorphone"},
		low:          []string{"fentanyl", "tramadol"},
		mechanism:    "Opioid structural similarity",
		alternatives: []string{"acetaminophen", "ketorolac"},
	},
}

// renalRule applies when eGFR falls inside [minEGFR, maxEGFR). Bands with
// gaps intentionally fall through to no adjustment.
type renalRule struct {
	minEGFR    float64
	maxEGFR    float64
	adjustment string
}

var renalRules = map[string][]renalRule{
	"metformin": {
		{minEGFR: 0, maxEGFR: 30, adjustment: "Contraindicated below eGFR 30"},
		{minEGFR: 30, maxEGFR: 45, adjustment: "Maximum 1000 mg daily; do not initiate"},
	},
	"apixaban": {
		{minEGFR: 0, maxEGFR: 25, adjustment: "Reduce to 2.5 mg twice daily"},
	},
	"gabapentin": {
		{minEGFR: 0, maxEGFR: 15, adjustment: "Maximum 300 mg daily"},
		{minEGFR: 15, maxEGFR: 30, adjustment: "Maximum 700 mg daily"},
		{minEGFR: 30, maxEGFR: 60, adjustment: "Maximum 1400 mg daily"},
	},
	"enoxaparin": {
		{minEGFR: 0, maxEGFR: 30, adjustment: "Reduce treatment dose to 1 mg/kg daily"},
	},
	"ceftriaxone": {},
}

type ageRule struct {
	minAge     int
	adjustment string
}

var ageRules = map[string][]ageRule{
	"diazepam":        {{minAge: 65, adjustment: "Avoid in older adults (Beers criteria)"}},
	"diphenhydramine": {{minAge: 65, adjustment: "Avoid anticholinergics in older adults"}},
	"digoxin":         {{minAge: 70, adjustment: "Keep dose at or below 0.125 mg daily"}},
	"metformin":       {{minAge: 80, adjustment: "Verify renal function before continuing"}},
}

type weightRule struct {
	maxWeightKg float64
	adjustment  string
}

var weightRules = map[string][]weightRule{
	"enoxaparin": {{maxWeightKg: 45, adjustment: "Use weight-based dosing with anti-Xa monitoring"}},
	"vancomycin": {{maxWeightKg: 50, adjustment: "Dose on actual body weight with level monitoring"}},
}

var severityRank = map[models.InteractionSeverity]int{
	models.InteractionContraindicated: 0,
	models.InteractionMajor:           1,
	models.InteractionModerate:        2,
	models.InteractionMinor:           3,
}

func sortBySeverity(interactions []models.DrugInteraction) {
	sort.SliceStable(interactions, func(i, j int) bool {
		return severityRank[interactions[i].Severity] < severityRank[interactions[j].Severity]
	})
}

// ClassesFor returns the normalized drug name followed by its known
// pharmacologic classes.
func ClassesFor(drug string) []string {
	normalized := strings.ToLower(strings.TrimSpace(drug))
	return append([]string{normalized}, drugClasses[normalized]...)
}
