package phi

import (
	"sort"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

// Merger deduplicates overlapping candidate spans from the pattern and
// model detectors into one ranked list. After Merge, no two retained
// detections overlap in [start, end).
type Merger struct {
	weightPrimary   float64
	weightSecondary float64
}

func NewMerger(weightPrimary float64) *Merger {
	if weightPrimary <= 0 || weightPrimary >= 1 {
		weightPrimary = 0.6
	}
	return &Merger{
		weightPrimary:   weightPrimary,
		weightSecondary: 1 - weightPrimary,
	}
}

// Merge deduplicates candidates against the text they were detected in.
// Merged spans re-slice their Text from text so Text always equals
// text[Start:End).
func (m *Merger) Merge(text string, candidates []models.Detection) []models.Detection {
	if len(candidates) <= 1 {
		return candidates
	}

	sorted := make([]models.Detection, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].RawConfidence > sorted[j].RawConfidence
	})

	merged := []models.Detection{sorted[0]}
	for _, next := range sorted[1:] {
		last := &merged[len(merged)-1]
		if next.Start < last.End {
			*last = m.combine(text, *last, next)
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// combine folds an overlapping detection into the retained one. The merged
// span is the union; the category comes from the higher-confidence member
// and the text is re-sliced from the union span.
func (m *Merger) combine(text string, a, b models.Detection) models.Detection {
	primary, secondary := a, b
	if b.RawConfidence > a.RawConfidence {
		primary, secondary = b, a
	}

	out := primary
	out.Start = minInt(a.Start, b.Start)
	out.End = maxInt(a.End, b.End)
	if out.Start >= 0 && out.End <= len(text) {
		out.Text = text[out.Start:out.End]
	}

	if a.Source != b.Source {
		out.RawConfidence = m.weightPrimary*primary.RawConfidence + m.weightSecondary*secondary.RawConfidence
		out.Source = models.SourceEnsemble
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
