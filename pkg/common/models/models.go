package models

import "time"

// PHI detection

type PHICategory string

const (
	CategorySSN          PHICategory = "ssn"
	CategoryPhone        PHICategory = "phone"
	CategoryDate         PHICategory = "date"
	CategoryDOB          PHICategory = "dob"
	CategoryEmail        PHICategory = "email"
	CategoryMRN          PHICategory = "mrn"
	CategoryZip          PHICategory = "zip"
	CategoryAge          PHICategory = "age"
	CategoryName         PHICategory = "name"
	CategoryAddress      PHICategory = "address"
	CategoryOrganization PHICategory = "organization"
	CategoryUnknown      PHICategory = "unknown"
)

type DetectionSource string

const (
	SourceRegex    DetectionSource = "regex"
	SourceModel    DetectionSource = "model"
	SourceEnsemble DetectionSource = "ensemble"
)

type Detection struct {
	Text                 string          `json:"text"`
	Category             PHICategory     `json:"category"`
	Start                int             `json:"start"`
	End                  int             `json:"end"`
	RawConfidence        float64         `json:"raw_confidence"`
	CalibratedConfidence float64         `json:"calibrated_confidence"`
	Source               DetectionSource `json:"source"`
	IsCurrentPatient     bool            `json:"is_current_patient"`
	Suppressed           bool            `json:"suppressed"`
	SuppressionReason    string          `json:"suppression_reason,omitempty"`
}

type CalibrationParameters struct {
	Category    PHICategory `json:"category"`
	A           float64     `json:"a"`
	B           float64     `json:"b"`
	SampleCount int         `json:"n_samples"`
	LastUpdated time.Time   `json:"last_updated"`
}

// Identity context passed per detection call. Snapshots, never cached.

type PatientContext struct {
	FirstName  string   `json:"first_name,omitempty"`
	LastName   string   `json:"last_name,omitempty"`
	MiddleName string   `json:"middle_name,omitempty"`
	DOB        string   `json:"dob,omitempty"`
	MRN        string   `json:"mrn,omitempty"`
	Phone      string   `json:"phone,omitempty"`
	Address    []string `json:"address,omitempty"`
}

type ProviderContext struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Specialty string `json:"specialty,omitempty"`
	Facility  string `json:"facility,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// De-identification

type DeidMethod string

const (
	MethodRedact    DeidMethod = "REDACT"
	MethodMask      DeidMethod = "MASK"
	MethodSurrogate DeidMethod = "SURROGATE"
	MethodToken     DeidMethod = "TOKEN"
	MethodShift     DeidMethod = "SHIFT"
)

type Replacement struct {
	Original    string      `json:"original"`
	Replacement string      `json:"replacement"`
	Category    PHICategory `json:"category"`
	Start       int         `json:"start"`
	End         int         `json:"end"`
}

type DeidentificationResult struct {
	OriginalText     string            `json:"original_text"`
	DeidentifiedText string            `json:"deidentified_text"`
	PHICount         int               `json:"phi_count"`
	Method           DeidMethod        `json:"method"`
	Replacements     []Replacement     `json:"replacements"`
	Reversible       bool              `json:"reversible"`
	TokenMap         map[string]string `json:"token_map,omitempty"`
}

// Clinical codes and alerting

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityHigh     AlertSeverity = "high"
	SeverityModerate AlertSeverity = "moderate"
	SeverityLow      AlertSeverity = "low"
)

type ClinicalCode struct {
	Code        string  `json:"code"`
	System      string  `json:"system"` // ICD-10, CPT, RxNorm, NDC
	Display     string  `json:"display"`
	Confidence  float64 `json:"confidence"`
	MatchedText string  `json:"matched_text,omitempty"`
}

type CodeSuggestion struct {
	Code       ClinicalCode `json:"code"`
	Rank       int          `json:"rank"`
	Confidence float64      `json:"confidence"`
}

type ClinicalAlert struct {
	AlertType       string        `json:"alert_type"`
	Condition       string        `json:"condition"`
	Severity        AlertSeverity `json:"severity"`
	Message         string        `json:"message"`
	Recommendations []string      `json:"recommendations"`
	Code            string        `json:"code,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Clinical reasoning

type InteractionSeverity string

const (
	InteractionContraindicated InteractionSeverity = "contraindicated"
	InteractionMajor           InteractionSeverity = "major"
	InteractionModerate        InteractionSeverity = "moderate"
	InteractionMinor           InteractionSeverity = "minor"
)

type DrugInteraction struct {
	Drug1          string              `json:"drug1"`
	Drug2          string              `json:"drug2"`
	Severity       InteractionSeverity `json:"severity"`
	Description    string              `json:"description"`
	Recommendation string              `json:"recommendation"`
}

type Contraindication struct {
	Drug      string              `json:"drug"`
	Condition string              `json:"condition"`
	Severity  InteractionSeverity `json:"severity"`
	Rationale string              `json:"rationale"`
}

type AllergyRisk string

const (
	AllergyRiskHigh     AllergyRisk = "high"
	AllergyRiskModerate AllergyRisk = "moderate"
	AllergyRiskLow      AllergyRisk = "low"
)

type AllergyAlert struct {
	Allergen         string      `json:"allergen"`
	Medication       string      `json:"medication"`
	Risk             AllergyRisk `json:"risk"`
	Mechanism        string      `json:"mechanism"`
	SafeAlternatives []string    `json:"safe_alternatives,omitempty"`
}

type DosingGuidance struct {
	Drug        string   `json:"drug"`
	Adjustments []string `json:"adjustments"`
	Rationale   string   `json:"rationale"`
}

// Medication reconciliation

type MedicationEntry struct {
	Name      string `json:"name"`
	Generic   string `json:"generic"`
	Dose      string `json:"dose,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Raw       string `json:"raw"`
}

type DiscrepancyKind string

const (
	DiscrepancyOmission        DiscrepancyKind = "omission"
	DiscrepancyAddition        DiscrepancyKind = "addition"
	DiscrepancyDoseChange      DiscrepancyKind = "dose_change"
	DiscrepancyFrequencyChange DiscrepancyKind = "frequency_change"
	DiscrepancyDuplicate       DiscrepancyKind = "duplicate_therapy"
)

type MedicationDiscrepancy struct {
	Kind       DiscrepancyKind `json:"kind"`
	Medication string          `json:"medication"`
	EHRValue   string          `json:"ehr_value,omitempty"`
	NoteValue  string          `json:"note_value,omitempty"`
	Severity   AlertSeverity   `json:"severity"`
	Detail     string          `json:"detail,omitempty"`
}

type ReconciliationResult struct {
	Matched       []MedicationEntry       `json:"matched"`
	Discrepancies []MedicationDiscrepancy `json:"discrepancies"`
	Interactions  []DrugInteraction       `json:"interactions,omitempty"`
	NeedsReview   bool                    `json:"needs_review"`
	ComputedAt    time.Time               `json:"computed_at"`
}

// Lab values and trending

type LabValue struct {
	TestName   string    `json:"test_name"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	ObservedAt time.Time `json:"observed_at"`
}

type TrendDirection string

const (
	TrendIncreasing  TrendDirection = "increasing"
	TrendDecreasing  TrendDirection = "decreasing"
	TrendStable      TrendDirection = "stable"
	TrendFluctuating TrendDirection = "fluctuating"
)

type LabTrend struct {
	TestName      string         `json:"test_name"`
	Direction     TrendDirection `json:"direction"`
	PercentChange float64        `json:"percent_change"`
	Significant   bool           `json:"significant"`
	SampleCount   int            `json:"sample_count"`
}

type LabAlert struct {
	TestName       string        `json:"test_name"`
	Value          float64       `json:"value"`
	Unit           string        `json:"unit"`
	Severity       AlertSeverity `json:"severity"`
	Message        string        `json:"message"`
	ReferenceRange string        `json:"reference_range,omitempty"`
}

// Care gaps

type PatientData struct {
	PatientID  string               `json:"patient_id"`
	Age        int                  `json:"age"`
	Sex        string               `json:"sex"`
	Conditions []string             `json:"conditions,omitempty"`
	LastDone   map[string]time.Time `json:"last_done,omitempty"` // measure id -> last completion
}

type MeasureResult struct {
	MeasureID  string `json:"measure_id"`
	Name       string `json:"name"`
	Applicable bool   `json:"applicable"`
	Met        bool   `json:"met"`
}

type CareGap struct {
	MeasureID   string        `json:"measure_id"`
	Name        string        `json:"name"`
	Category    string        `json:"category"`
	Priority    AlertSeverity `json:"priority"`
	DaysOverdue int           `json:"days_overdue"`
	Description string        `json:"description"`
}

type PatientGapSummary struct {
	PatientID      string          `json:"patient_id"`
	AssessmentDate time.Time       `json:"assessment_date"`
	Measures       []MeasureResult `json:"measures"`
	Gaps           []CareGap       `json:"gaps"`
	ApplicableN    int             `json:"applicable_count"`
	MetN           int             `json:"met_count"`
	GapN           int             `json:"gap_count"`
}

// Plugin extension point

type PluginContext struct {
	SessionID  string                 `json:"session_id"`
	Specialty  string                 `json:"specialty,omitempty"`
	Text       string                 `json:"text,omitempty"`
	Detections []Detection            `json:"detections,omitempty"`
	Codes      []ClinicalCode         `json:"codes,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type PluginResult struct {
	PluginID string                 `json:"plugin_id"`
	Alerts   []ClinicalAlert        `json:"alerts,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Event bus envelope

type Event struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	SessionID    string                 `json:"session_id,omitempty"`
	SourceEngine string                 `json:"source_engine"`
	Priority     int                    `json:"priority"`
	Data         map[string]interface{} `json:"data"`
	Timestamp    time.Time              `json:"timestamp"`
}
