package phi

import (
	"context"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

// Pipeline runs the full detection chain: pattern and (optionally) model
// detectors in parallel, then merge, calibrate, suppress. It holds no
// per-call mutable state, so concurrent calls for different sessions are
// independent.
type Pipeline struct {
	patterns   *PatternDetector
	ensemble   *EnsembleDetector
	merger     *Merger
	calibrator *Calibrator
	suppressor *Suppressor
}

func NewPipeline(patterns *PatternDetector, ensemble *EnsembleDetector, merger *Merger, calibrator *Calibrator, suppressor *Suppressor) *Pipeline {
	return &Pipeline{
		patterns:   patterns,
		ensemble:   ensemble,
		merger:     merger,
		calibrator: calibrator,
		suppressor: suppressor,
	}
}

// DefaultPipeline wires a regex-only pipeline with default rules and
// parameters. Used when no configured pipeline is supplied.
func DefaultPipeline() (*Pipeline, error) {
	patterns, err := NewPatternDetector(DefaultRules())
	if err != nil {
		return nil, err
	}
	return NewPipeline(patterns, nil, NewMerger(0.6), NewCalibrator(0.01, 10, nil), NewSuppressor(0.85)), nil
}

// Detect runs detection over text. When enhanced is false (or no ensemble
// detector is wired) only the pattern path runs. The ensemble path fails
// soft: a timeout or model failure yields regex-only results.
func (p *Pipeline) Detect(ctx context.Context, text string, patient *models.PatientContext, provider *models.ProviderContext, enhanced bool) []models.Detection {
	if text == "" {
		return nil
	}

	patternDets := p.patterns.Detect(text)

	var modelDets []models.Detection
	if enhanced && p.ensemble != nil {
		ch := make(chan []models.Detection, 1)
		go func() { ch <- p.ensemble.Detect(ctx, text) }()
		select {
		case modelDets = <-ch:
		case <-ctx.Done():
		}
	}

	merged := p.merger.Merge(text, append(patternDets, modelDets...))
	p.calibrator.Apply(merged)
	return p.suppressor.Apply(merged, patient, provider)
}

// Calibrator exposes the pipeline's calibrator for feedback routing.
func (p *Pipeline) Calibrator() *Calibrator {
	return p.calibrator
}
