package labs

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

// analyteRange holds the tiered thresholds for one test. Critical bounds
// take precedence over reference bounds, which take precedence over
// condition-specific targets.
type analyteRange struct {
	criticalLow  float64
	criticalHigh float64
	refLow       float64
	refHigh      float64
	unit         string
	// condition name -> tighter target range
	conditionTargets map[string][2]float64
	// relative change considered clinically significant when trending
	significantChange float64
}

var analyteRanges = map[string]analyteRange{
	"potassium": {
		criticalLow: 2.5, criticalHigh: 6.5,
		refLow: 3.5, refHigh: 5.0,
		unit:              "mEq/L",
		significantChange: 0.15,
	},
	"sodium": {
		criticalLow: 120, criticalHigh: 160,
		refLow: 135, refHigh: 145,
		unit:              "mEq/L",
		significantChange: 0.05,
	},
	"glucose": {
		criticalLow: 40, criticalHigh: 500,
		refLow: 70, refHigh: 140,
		unit: "mg/dL",
		conditionTargets: map[string][2]float64{
			"diabetes": {80, 180},
		},
		significantChange: 0.30,
	},
	"creatinine": {
		criticalLow: 0, criticalHigh: 7.0,
		refLow: 0.6, refHigh: 1.3,
		unit:              "mg/dL",
		significantChange: 0.25,
	},
	"hemoglobin": {
		criticalLow: 6.5, criticalHigh: 20,
		refLow: 12, refHigh: 17.5,
		unit:              "g/dL",
		significantChange: 0.15,
	},
	"troponin": {
		criticalLow: -1, criticalHigh: 0.4,
		refLow: 0, refHigh: 0.04,
		unit:              "ng/mL",
		significantChange: 0.20,
	},
	"inr": {
		criticalLow: 0, criticalHigh: 5.0,
		refLow: 0.8, refHigh: 1.2,
		unit: "",
		conditionTargets: map[string][2]float64{
			"atrial fibrillation": {2.0, 3.0},
			"mechanical valve":    {2.5, 3.5},
		},
		significantChange: 0.20,
	},
	"wbc": {
		criticalLow: 1.0, criticalHigh: 50,
		refLow: 4.5, refHigh: 11.0,
		unit:              "10^3/uL",
		significantChange: 0.30,
	},
	"platelets": {
		criticalLow: 20, criticalHigh: 1000,
		refLow: 150, refHigh: 400,
		unit:              "10^3/uL",
		significantChange: 0.30,
	},
	"hba1c": {
		criticalLow: 0, criticalHigh: 20,
		refLow: 4.0, refHigh: 5.6,
		unit: "%",
		conditionTargets: map[string][2]float64{
			"diabetes": {4.0, 7.0},
		},
		significantChange: 0.10,
	},
}

// Analyzer checks single lab values against tiered ranges and trends
// value series over time.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// CheckValue evaluates one result against the critical, reference and
// condition-target tiers in that order. A critical hit stops evaluation;
// lower tiers are not reported alongside it. Unknown tests return nil.
func (a *Analyzer) CheckValue(value models.LabValue, conditions []string) *models.LabAlert {
	r, ok := analyteRanges[strings.ToLower(strings.TrimSpace(value.TestName))]
	if !ok {
		return nil
	}
	unit := value.Unit
	if unit == "" {
		unit = r.unit
	}

	if value.Value <= r.criticalLow || value.Value >= r.criticalHigh {
		direction := "high"
		if value.Value <= r.criticalLow {
			direction = "low"
		}
		return &models.LabAlert{
			TestName:       value.TestName,
			Value:          value.Value,
			Unit:           unit,
			Severity:       models.SeverityCritical,
			Message:        fmt.Sprintf("critical %s %s: %g %s", direction, value.TestName, value.Value, unit),
			ReferenceRange: formatRange(r.refLow, r.refHigh, unit),
		}
	}

	if value.Value < r.refLow || value.Value > r.refHigh {
		return &models.LabAlert{
			TestName:       value.TestName,
			Value:          value.Value,
			Unit:           unit,
			Severity:       models.SeverityModerate,
			Message:        fmt.Sprintf("%s outside reference range: %g %s", value.TestName, value.Value, unit),
			ReferenceRange: formatRange(r.refLow, r.refHigh, unit),
		}
	}

	for _, condition := range conditions {
		target, ok := r.conditionTargets[strings.ToLower(strings.TrimSpace(condition))]
		if !ok {
			continue
		}
		if value.Value < target[0] || value.Value > target[1] {
			return &models.LabAlert{
				TestName:       value.TestName,
				Value:          value.Value,
				Unit:           unit,
				Severity:       models.SeverityLow,
				Message:        fmt.Sprintf("%s outside %s target: %g %s", value.TestName, condition, value.Value, unit),
				ReferenceRange: formatRange(target[0], target[1], unit),
			}
		}
	}
	return nil
}

func formatRange(low, high float64, unit string) string {
	s := fmt.Sprintf("%g-%g", low, high)
	if unit != "" {
		s += " " + unit
	}
	return s
}

// ErrInsufficientData is returned when a trend is requested over fewer
// than two observations.
type ErrInsufficientData struct {
	TestName string
	Count    int
}

func (e *ErrInsufficientData) Error() string {
	return fmt.Sprintf("trend for %s needs at least 2 values, have %d", e.TestName, e.Count)
}

// AnalyzeTrend classifies the direction of a value series. With exactly
// two points the sign of the net change decides; with three or more the
// majority of pairwise deltas decides, and a split majority reports
// fluctuating. Values are ordered by observation time before comparison.
func (a *Analyzer) AnalyzeTrend(testName string, values []models.LabValue) (*models.LabTrend, error) {
	if len(values) < 2 {
		return nil, &ErrInsufficientData{TestName: testName, Count: len(values)}
	}
	ordered := make([]models.LabValue, len(values))
	copy(ordered, values)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ObservedAt.Before(ordered[j].ObservedAt)
	})

	first, last := ordered[0].Value, ordered[len(ordered)-1].Value
	var percentChange float64
	if first != 0 {
		percentChange = (last - first) / math.Abs(first) * 100
	}

	direction := classifyDirection(ordered)
	trend := &models.LabTrend{
		TestName:      testName,
		Direction:     direction,
		PercentChange: percentChange,
		SampleCount:   len(ordered),
	}

	if r, ok := analyteRanges[strings.ToLower(strings.TrimSpace(testName))]; ok && first != 0 {
		relative := math.Abs(last-first) / math.Abs(first)
		trend.Significant = relative >= r.significantChange && direction != models.TrendStable
	}
	return trend, nil
}

func classifyDirection(ordered []models.LabValue) models.TrendDirection {
	if len(ordered) == 2 {
		switch {
		case ordered[1].Value > ordered[0].Value:
			return models.TrendIncreasing
		case ordered[1].Value < ordered[0].Value:
			return models.TrendDecreasing
		default:
			return models.TrendStable
		}
	}
	ups, downs := 0, 0
	for i := 1; i < len(ordered); i++ {
		switch {
		case ordered[i].Value > ordered[i-1].Value:
			ups++
		case ordered[i].Value < ordered[i-1].Value:
			downs++
		}
	}
	total := len(ordered) - 1
	switch {
	case ups == 0 && downs == 0:
		return models.TrendStable
	case ups*2 > total:
		return models.TrendIncreasing
	case downs*2 > total:
		return models.TrendDecreasing
	default:
		return models.TrendFluctuating
	}
}

// TrendAlert pairs a significant trend with an advisory message, for
// example a rising creatinine series.
func (a *Analyzer) TrendAlert(trend *models.LabTrend) *models.LabAlert {
	if trend == nil || !trend.Significant {
		return nil
	}
	severity := models.SeverityModerate
	if math.Abs(trend.PercentChange) >= 50 {
		severity = models.SeverityHigh
	}
	return &models.LabAlert{
		TestName: trend.TestName,
		Severity: severity,
		Message: fmt.Sprintf("%s %s %.1f%% over %d observations",
			trend.TestName, trend.Direction, math.Abs(trend.PercentChange), trend.SampleCount),
	}
}
