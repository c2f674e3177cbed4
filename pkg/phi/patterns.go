package phi

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

type Rule struct {
	Name       string  `yaml:"name" json:"name"`
	Category   string  `yaml:"category" json:"category"`
	Pattern    string  `yaml:"pattern" json:"pattern"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
	Enabled    bool    `yaml:"enabled" json:"enabled"`
}

type RulesConfig struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultRules(), err
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, err
	}

	if len(cfg.Rules) == 0 {
		return RulesConfig{}, errors.New("no PHI rules configured")
	}

	return cfg, nil
}

// DefaultRules is the fixed ordered pattern set applied by the structured
// detector. Order matters only for reproducibility; deduplication across
// rules is the merger's job, not the detector's.
func DefaultRules() RulesConfig {
	return RulesConfig{Rules: []Rule{
		{Name: "SSN", Category: "ssn", Pattern: `\b\d{3}-\d{2}-\d{4}\b`, Confidence: 0.95, Enabled: true},
		{Name: "Phone", Category: "phone", Pattern: `\b\d{3}-\d{3}-\d{4}\b|\b\(\d{3}\)\s?\d{3}-\d{4}\b`, Confidence: 0.9, Enabled: true},
		{Name: "DateMDY", Category: "date", Pattern: `\b\d{1,2}/\d{1,2}/\d{4}\b`, Confidence: 0.85, Enabled: true},
		{Name: "DateYMD", Category: "date", Pattern: `\b\d{4}-\d{2}-\d{2}\b`, Confidence: 0.85, Enabled: true},
		{Name: "Email", Category: "email", Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Confidence: 0.95, Enabled: true},
		{Name: "MRN", Category: "mrn", Pattern: `\b(?:MRN|mrn)[:#\s]*\d{6,10}\b`, Confidence: 0.9, Enabled: true},
		{Name: "MRNBare", Category: "mrn", Pattern: `\b(?:medical record number)[:#\s]*\d{6,10}\b`, Confidence: 0.85, Enabled: true},
		{Name: "Zip", Category: "zip", Pattern: `\b\d{5}(?:-\d{4})?\b`, Confidence: 0.6, Enabled: true},
		{Name: "AgeOver89", Category: "age", Pattern: `\b(?:9\d|1[0-9]\d)[\s-]*(?:years?[\s-]*old|y/?o)\b`, Confidence: 0.8, Enabled: true},
	}}
}

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// PatternDetector applies compiled regex rules for structured PHI. Pure
// function of text; it does not deduplicate overlapping candidates.
type PatternDetector struct {
	rules []compiledRule
}

func NewPatternDetector(cfg RulesConfig) (*PatternDetector, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &PatternDetector{rules: compiled}, nil
}

func (d *PatternDetector) Detect(text string) []models.Detection {
	if d == nil || text == "" {
		return nil
	}

	var detections []models.Detection
	for _, rule := range d.rules {
		matches := rule.re.FindAllStringIndex(text, -1)
		for _, match := range matches {
			detections = append(detections, models.Detection{
				Text:          text[match[0]:match[1]],
				Category:      models.PHICategory(rule.rule.Category),
				Start:         match[0],
				End:           match[1],
				RawConfidence: rule.rule.Confidence,
				Source:        models.SourceRegex,
			})
		}
	}
	return detections
}
