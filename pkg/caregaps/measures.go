package caregaps

import (
	"strings"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

// Measure is one preventive-care or chronic-disease quality measure. A
// patient is in scope when the applicability predicate passes; the measure
// is met when it was last completed within IntervalDays of the assessment
// date.
type Measure struct {
	ID           string
	Name         string
	Category     string
	IntervalDays int
	Description  string
	AppliesTo    func(patient models.PatientData) bool
}

func hasCondition(patient models.PatientData, condition string) bool {
	for _, c := range patient.Conditions {
		if strings.Contains(strings.ToLower(c), condition) {
			return true
		}
	}
	return false
}

var registry = []Measure{
	{
		ID:           "a1c_monitoring",
		Name:         "HbA1c monitoring",
		Category:     "chronic",
		IntervalDays: 180,
		Description:  "HbA1c every 6 months for patients with diabetes",
		AppliesTo: func(p models.PatientData) bool {
			return hasCondition(p, "diabetes")
		},
	},
	{
		ID:           "diabetic_eye_exam",
		Name:         "Diabetic retinal exam",
		Category:     "chronic",
		IntervalDays: 365,
		Description:  "Annual dilated eye exam for patients with diabetes",
		AppliesTo: func(p models.PatientData) bool {
			return hasCondition(p, "diabetes")
		},
	},
	{
		ID:           "inr_monitoring",
		Name:         "INR monitoring",
		Category:     "chronic",
		IntervalDays: 30,
		Description:  "Monthly INR for patients on warfarin",
		AppliesTo: func(p models.PatientData) bool {
			return hasCondition(p, "warfarin") || hasCondition(p, "atrial fibrillation")
		},
	},
	{
		ID:           "colorectal_screening",
		Name:         "Colorectal cancer screening",
		Category:     "preventive",
		IntervalDays: 3650,
		Description:  "Colonoscopy every 10 years from age 45 to 75",
		AppliesTo: func(p models.PatientData) bool {
			return p.Age >= 45 && p.Age <= 75
		},
	},
	{
		ID:           "mammography",
		Name:         "Breast cancer screening",
		Category:     "preventive",
		IntervalDays: 730,
		Description:  "Mammogram every 2 years for women aged 40 to 74",
		AppliesTo: func(p models.PatientData) bool {
			return strings.EqualFold(p.Sex, "female") && p.Age >= 40 && p.Age <= 74
		},
	},
	{
		ID:           "cervical_screening",
		Name:         "Cervical cancer screening",
		Category:     "preventive",
		IntervalDays: 1095,
		Description:  "Cervical cytology every 3 years for women aged 21 to 65",
		AppliesTo: func(p models.PatientData) bool {
			return strings.EqualFold(p.Sex, "female") && p.Age >= 21 && p.Age <= 65
		},
	},
	{
		ID:           "influenza_vaccine",
		Name:         "Influenza vaccination",
		Category:     "preventive",
		IntervalDays: 365,
		Description:  "Annual influenza vaccine for adults",
		AppliesTo: func(p models.PatientData) bool {
			return p.Age >= 18
		},
	},
	{
		ID:           "pneumococcal_vaccine",
		Name:         "Pneumococcal vaccination",
		Category:     "preventive",
		IntervalDays: 36500,
		Description:  "Pneumococcal vaccine once at age 65 or older",
		AppliesTo: func(p models.PatientData) bool {
			return p.Age >= 65
		},
	},
	{
		ID:           "nephropathy_screening",
		Name:         "Diabetic nephropathy screening",
		Category:     "chronic",
		IntervalDays: 365,
		Description:  "Annual urine albumin for patients with diabetes",
		AppliesTo: func(p models.PatientData) bool {
			return hasCondition(p, "diabetes")
		},
	},
	{
		ID:           "lipid_panel",
		Name:         "Lipid panel",
		Category:     "chronic",
		IntervalDays: 365,
		Description:  "Annual lipid panel for patients with cardiovascular disease or diabetes",
		AppliesTo: func(p models.PatientData) bool {
			return hasCondition(p, "diabetes") || hasCondition(p, "coronary") || hasCondition(p, "hyperlipidemia")
		},
	},
}

// Measures returns the registered measure set.
func Measures() []Measure {
	return registry
}
