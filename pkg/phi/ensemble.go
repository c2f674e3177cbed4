package phi

import (
	"context"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dictamed-ai/compliance/pkg/common/logger"
	"github.com/dictamed-ai/compliance/pkg/common/models"
)

// Entity is one span returned by an external named-entity classifier,
// positioned relative to the chunk it was classified in.
type Entity struct {
	Label string
	Start int
	End   int
	Score float64
}

// EntityClassifier abstracts the model backend. Implementations may call out
// to a serving process; they must respect ctx cancellation.
type EntityClassifier interface {
	Classify(ctx context.Context, text string) ([]Entity, error)
}

// labelCategories maps model entity labels to PHI categories. Unmapped
// labels are dropped.
var labelCategories = map[string]models.PHICategory{
	"PER":    models.CategoryName,
	"PERSON": models.CategoryName,
	"LOC":    models.CategoryAddress,
	"GPE":    models.CategoryAddress,
	"ORG":    models.CategoryOrganization,
	"DATE":   models.CategoryDate,
}

// EnsembleDetector runs a model-based classifier over word-boundary chunks
// of bounded length, mapping chunk-relative spans back to absolute offsets.
// Inference runs on a bounded worker pool with a per-chunk timeout; any
// failure degrades to an empty result for that chunk, never an error.
type EnsembleDetector struct {
	classifier EntityClassifier
	maxSeqLen  int
	timeout    time.Duration
	workers    chan struct{}
}

func NewEnsembleDetector(classifier EntityClassifier, maxSeqLen, workers int, timeout time.Duration) *EnsembleDetector {
	if maxSeqLen <= 0 {
		maxSeqLen = 512
	}
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EnsembleDetector{
		classifier: classifier,
		maxSeqLen:  maxSeqLen,
		timeout:    timeout,
		workers:    make(chan struct{}, workers),
	}
}

type chunk struct {
	text   string
	offset int
}

// splitChunks breaks text at word boundaries so no chunk exceeds maxSeqLen,
// recording each chunk's absolute character offset.
func splitChunks(text string, maxLen int) []chunk {
	if len(text) <= maxLen {
		return []chunk{{text: text, offset: 0}}
	}

	var chunks []chunk
	start := 0
	for start < len(text) {
		end := start + maxLen
		if end >= len(text) {
			chunks = append(chunks, chunk{text: text[start:], offset: start})
			break
		}
		cut := end
		for cut > start && !unicode.IsSpace(rune(text[cut-1])) {
			cut--
		}
		if cut == start {
			// No whitespace inside the window; hard split on a rune boundary.
			cut = end
			for cut > start && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == start {
				cut = end
			}
		}
		chunks = append(chunks, chunk{text: text[start:cut], offset: start})
		start = cut
	}
	return chunks
}

// Detect returns model-based candidates with absolute spans. A nil or
// unavailable classifier yields an empty list; detection never fails for
// model availability reasons.
func (d *EnsembleDetector) Detect(ctx context.Context, text string) []models.Detection {
	if d == nil || d.classifier == nil || text == "" {
		return nil
	}

	chunks := splitChunks(text, d.maxSeqLen)
	results := make([][]models.Detection, len(chunks))
	done := make(chan int, len(chunks))

	for i, c := range chunks {
		go func(idx int, c chunk) {
			defer func() { done <- idx }()

			select {
			case d.workers <- struct{}{}:
				defer func() { <-d.workers }()
			case <-ctx.Done():
				return
			}

			chunkCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			entities, err := d.classifier.Classify(chunkCtx, c.text)
			if err != nil {
				logger.Log.WithError(err).WithField("chunk_offset", c.offset).Warn("Entity classifier failed, dropping chunk")
				return
			}

			var dets []models.Detection
			for _, ent := range entities {
				category, ok := labelCategories[ent.Label]
				if !ok {
					continue
				}
				if ent.Start < 0 || ent.End > len(c.text) || ent.Start >= ent.End {
					continue
				}
				dets = append(dets, models.Detection{
					Text:          c.text[ent.Start:ent.End],
					Category:      category,
					Start:         c.offset + ent.Start,
					End:           c.offset + ent.End,
					RawConfidence: ent.Score,
					Source:        models.SourceModel,
				})
			}
			results[idx] = dets
		}(i, c)
	}

	for range chunks {
		select {
		case <-done:
		case <-ctx.Done():
			return nil
		}
	}

	var all []models.Detection
	for _, dets := range results {
		all = append(all, dets...)
	}
	return all
}
