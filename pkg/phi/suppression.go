package phi

import (
	"strings"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

// nicknameSets groups equivalent given names so a transcribed "Bob" still
// matches a chart that says "Robert".
var nicknameSets = [][]string{
	{"robert", "bob", "bobby", "rob", "robbie"},
	{"william", "bill", "billy", "will", "willie"},
	{"james", "jim", "jimmy", "jamie"},
	{"john", "jack", "johnny"},
	{"richard", "rick", "ricky", "dick"},
	{"michael", "mike", "mikey"},
	{"elizabeth", "liz", "beth", "betsy", "eliza", "lizzie"},
	{"margaret", "maggie", "meg", "peggy"},
	{"katherine", "kate", "katie", "kathy", "kat"},
	{"jennifer", "jen", "jenny"},
	{"patricia", "pat", "patty", "trish"},
	{"thomas", "tom", "tommy"},
	{"christopher", "chris"},
	{"daniel", "dan", "danny"},
	{"anthony", "tony"},
	{"edward", "ed", "eddie", "ted", "teddy"},
	{"charles", "charlie", "chuck"},
	{"joseph", "joe", "joey"},
	{"david", "dave", "davey"},
	{"susan", "sue", "susie"},
}

// denyList catches category-independent false positives: dosing frequency
// abbreviations that resemble date or number patterns.
var denyList = map[string]struct{}{
	"bid": {}, "tid": {}, "qid": {}, "qd": {}, "qod": {},
	"q4h": {}, "q6h": {}, "q8h": {}, "q12h": {},
	"prn": {}, "po": {}, "im": {}, "iv": {}, "sq": {},
}

// Suppressor flags detections that match the current patient or provider
// identity. Matches are flagged, never deleted: audit needs to see what was
// suppressed and why.
type Suppressor struct {
	fuzzyThreshold float64
}

func NewSuppressor(fuzzyThreshold float64) *Suppressor {
	if fuzzyThreshold <= 0 || fuzzyThreshold > 1 {
		fuzzyThreshold = 0.85
	}
	return &Suppressor{fuzzyThreshold: fuzzyThreshold}
}

// Apply marks suppressed detections in place and returns the same slice.
func (s *Suppressor) Apply(detections []models.Detection, patient *models.PatientContext, provider *models.ProviderContext) []models.Detection {
	for i := range detections {
		det := &detections[i]

		if _, denied := denyList[strings.ToLower(strings.TrimSpace(det.Text))]; denied {
			det.Suppressed = true
			det.SuppressionReason = "deny_list"
			continue
		}

		if patient == nil && provider == nil {
			continue
		}

		if reason, current := s.match(det, patient, provider); reason != "" {
			det.Suppressed = true
			det.IsCurrentPatient = current
			det.SuppressionReason = reason
		}
	}
	return detections
}

func (s *Suppressor) match(det *models.Detection, patient *models.PatientContext, provider *models.ProviderContext) (string, bool) {
	switch det.Category {
	case models.CategoryName:
		if patient != nil {
			if part := s.matchName(det.Text, patient.FirstName, patient.MiddleName, patient.LastName); part != "" {
				return "patient_name:" + part, true
			}
		}
		if provider != nil {
			if part := s.matchName(det.Text, provider.FirstName, provider.LastName); part != "" {
				return "provider_name:" + part, false
			}
		}
	case models.CategoryDate, models.CategoryDOB:
		if patient != nil && patient.DOB != "" && datesEquivalent(det.Text, patient.DOB) {
			return "patient_dob", true
		}
	case models.CategoryMRN:
		if patient != nil && patient.MRN != "" && digitsOnly(det.Text) == digitsOnly(patient.MRN) {
			return "patient_mrn", true
		}
	case models.CategoryPhone:
		if patient != nil && patient.Phone != "" && phonesEquivalent(det.Text, patient.Phone) {
			return "patient_phone", true
		}
		if provider != nil && provider.Phone != "" && phonesEquivalent(det.Text, provider.Phone) {
			return "provider_phone", false
		}
	case models.CategoryAddress, models.CategoryZip:
		if patient != nil {
			for _, component := range patient.Address {
				if addressMatch(det.Text, component) {
					return "patient_address", true
				}
			}
		}
		if provider != nil && provider.Facility != "" && addressMatch(det.Text, provider.Facility) {
			return "provider_facility", false
		}
	case models.CategoryOrganization:
		if provider != nil && provider.Facility != "" && addressMatch(det.Text, provider.Facility) {
			return "provider_facility", false
		}
	}
	return "", false
}

// matchName checks each token of the detected text against the supplied
// name parts: exact, nickname-equivalent, then fuzzy above the threshold.
func (s *Suppressor) matchName(detected string, parts ...string) string {
	for _, token := range strings.Fields(strings.ToLower(detected)) {
		token = strings.Trim(token, ".,;:")
		if token == "" {
			continue
		}
		for _, part := range parts {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if token == part {
				return part
			}
			if nicknamesEquivalent(token, part) {
				return part
			}
			if jaroWinkler(token, part) >= s.fuzzyThreshold {
				return part
			}
		}
	}
	return ""
}

func nicknamesEquivalent(a, b string) bool {
	for _, set := range nicknameSets {
		foundA, foundB := false, false
		for _, name := range set {
			if name == a {
				foundA = true
			}
			if name == b {
				foundB = true
			}
		}
		if foundA && foundB {
			return true
		}
	}
	return false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// datesEquivalent compares digit sequences, tolerating MMDDYYYY vs YYYYMMDD
// ordering between the two values.
func datesEquivalent(a, b string) bool {
	da, db := digitsOnly(a), digitsOnly(b)
	if da == "" || db == "" {
		return false
	}
	if da == db {
		return true
	}
	return reorderDate(da) == db || da == reorderDate(db)
}

// reorderDate converts an 8-digit MMDDYYYY sequence to YYYYMMDD.
func reorderDate(digits string) string {
	if len(digits) != 8 {
		return digits
	}
	return digits[4:] + digits[:4]
}

func phonesEquivalent(a, b string) bool {
	da, db := digitsOnly(a), digitsOnly(b)
	if da == "" || db == "" {
		return false
	}
	if da == db {
		return true
	}
	// Tolerate a leading country-code digit on either side.
	if len(da) == len(db)+1 && da[1:] == db {
		return true
	}
	if len(db) == len(da)+1 && db[1:] == da {
		return true
	}
	return false
}

func addressMatch(detected, component string) bool {
	d := strings.ToLower(strings.TrimSpace(detected))
	c := strings.ToLower(strings.TrimSpace(component))
	if d == "" || c == "" {
		return false
	}
	return d == c || strings.Contains(d, c) || strings.Contains(c, d)
}

// jaroWinkler computes string similarity in [0, 1], rewarding shared
// prefixes.
func jaroWinkler(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}

	if s1 == "" || s2 == "" {
		return 0
	}

	matchDistance := maxInt(len(s1), len(s2))/2 - 1
	if matchDistance < 0 {
		matchDistance = 0
	}

	s1Matches := make([]bool, len(s1))
	s2Matches := make([]bool, len(s2))

	matches := 0
	transpositions := 0

	for i := range s1 {
		start := maxInt(0, i-matchDistance)
		end := minInt(i+matchDistance+1, len(s2))
		for j := start; j < end; j++ {
			if s2Matches[j] || s1[i] != s2[j] {
				continue
			}
			s1Matches[i] = true
			s2Matches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0
	}

	k := 0
	for i := range s1 {
		if !s1Matches[i] {
			continue
		}
		for ; !s2Matches[k]; k++ {
		}
		if s1[i] != s2[k] {
			transpositions++
		}
		k++
	}

	transpositions /= 2

	jaro := (float64(matches)/float64(len(s1)) + float64(matches)/float64(len(s2)) + float64(matches-transpositions)/float64(matches)) / 3

	prefix := 0
	for i := 0; i < minInt(4, minInt(len(s1), len(s2))); i++ {
		if s1[i] == s2[i] {
			prefix++
		} else {
			break
		}
	}

	return jaro + float64(prefix)*0.1*(1-jaro)
}

// SuppressionSummary is a compact per-call report suitable for event
// payloads.
func SuppressionSummary(detections []models.Detection) map[string]interface{} {
	suppressed := 0
	reasons := make(map[string]int)
	for _, det := range detections {
		if det.Suppressed {
			suppressed++
			reasons[det.SuppressionReason]++
		}
	}
	return map[string]interface{}{
		"total":      len(detections),
		"suppressed": suppressed,
		"reasons":    reasons,
	}
}
