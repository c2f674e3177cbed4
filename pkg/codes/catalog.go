package codes

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PhraseEntry maps a dictation phrase to a clinical code.
type PhraseEntry struct {
	Code    string `yaml:"code" json:"code"`
	System  string `yaml:"system" json:"system"`
	Display string `yaml:"display" json:"display"`
}

type Catalog struct {
	Phrases map[string]PhraseEntry `yaml:"phrases" json:"phrases"`
}

func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Phrases) == 0 {
		return Catalog{}, errors.New("code catalog empty")
	}
	return cat, nil
}

func (c Catalog) Lookup(phrase string) (PhraseEntry, bool) {
	entry, ok := c.Phrases[strings.ToLower(phrase)]
	return entry, ok
}

func DefaultCatalog() Catalog {
	return Catalog{Phrases: map[string]PhraseEntry{
		// Diagnoses
		"hypertension":                 {Code: "I10", System: "ICD-10", Display: "Essential (primary) hypertension"},
		"type 2 diabetes":              {Code: "E11.9", System: "ICD-10", Display: "Type 2 diabetes mellitus without complications"},
		"diabetes":                     {Code: "E11.9", System: "ICD-10", Display: "Type 2 diabetes mellitus without complications"},
		"pneumonia":                    {Code: "J18.9", System: "ICD-10", Display: "Pneumonia, unspecified organism"},
		"community acquired pneumonia": {Code: "J18.9", System: "ICD-10", Display: "Pneumonia, unspecified organism"},
		"atrial fibrillation":          {Code: "I48.91", System: "ICD-10", Display: "Unspecified atrial fibrillation"},
		"copd":                         {Code: "J44.9", System: "ICD-10", Display: "Chronic obstructive pulmonary disease, unspecified"},
		"asthma":                       {Code: "J45.909", System: "ICD-10", Display: "Unspecified asthma, uncomplicated"},
		"chronic kidney disease":       {Code: "N18.9", System: "ICD-10", Display: "Chronic kidney disease, unspecified"},
		"heart failure":                {Code: "I50.9", System: "ICD-10", Display: "Heart failure, unspecified"},
		"congestive heart failure":     {Code: "I50.9", System: "ICD-10", Display: "Heart failure, unspecified"},
		"hyperlipidemia":               {Code: "E78.5", System: "ICD-10", Display: "Hyperlipidemia, unspecified"},
		"urinary tract infection":      {Code: "N39.0", System: "ICD-10", Display: "Urinary tract infection, site not specified"},
		"major depressive disorder":    {Code: "F32.9", System: "ICD-10", Display: "Major depressive disorder, single episode, unspecified"},
		"depression":                   {Code: "F32.9", System: "ICD-10", Display: "Major depressive disorder, single episode, unspecified"},
		"hypothyroidism":               {Code: "E03.9", System: "ICD-10", Display: "Hypothyroidism, unspecified"},
		"anemia":                       {Code: "D64.9", System: "ICD-10", Display: "Anemia, unspecified"},

		// Medications
		"lisinopril":    {Code: "29046", System: "RxNorm", Display: "lisinopril"},
		"metformin":     {Code: "6809", System: "RxNorm", Display: "metformin"},
		"warfarin":      {Code: "11289", System: "RxNorm", Display: "warfarin"},
		"aspirin":       {Code: "1191", System: "RxNorm", Display: "aspirin"},
		"atorvastatin":  {Code: "83367", System: "RxNorm", Display: "atorvastatin"},
		"levothyroxine": {Code: "10582", System: "RxNorm", Display: "levothyroxine"},
		"amoxicillin":   {Code: "723", System: "RxNorm", Display: "amoxicillin"},
		"azithromycin":  {Code: "18631", System: "RxNorm", Display: "azithromycin"},
	}}
}
