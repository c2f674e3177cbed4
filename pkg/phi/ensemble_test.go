package phi

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

type stubClassifier struct {
	err   error
	delay time.Duration
}

// Classify reports every capitalized word as a PER entity.
func (s *stubClassifier) Classify(ctx context.Context, text string) ([]Entity, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var entities []Entity
	offset := 0
	for _, word := range strings.Fields(text) {
		idx := strings.Index(text[offset:], word) + offset
		if word[0] >= 'A' && word[0] <= 'Z' {
			entities = append(entities, Entity{Label: "PER", Start: idx, End: idx + len(word), Score: 0.9})
		}
		offset = idx + len(word)
	}
	return entities, nil
}

func TestEnsembleDetectAbsoluteOffsets(t *testing.T) {
	detector := NewEnsembleDetector(&stubClassifier{}, 512, 2, time.Second)
	text := "the patient Robert was seen today"
	detections := detector.Detect(context.Background(), text)
	if len(detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(detections))
	}
	det := detections[0]
	if text[det.Start:det.End] != "Robert" {
		t.Fatalf("offset mapping broken: got %q", text[det.Start:det.End])
	}
	if det.Category != models.CategoryName {
		t.Fatalf("expected name category, got %s", det.Category)
	}
	if det.Source != models.SourceModel {
		t.Fatalf("expected model source, got %s", det.Source)
	}
}

func TestEnsembleChunkingPreservesOffsets(t *testing.T) {
	detector := NewEnsembleDetector(&stubClassifier{}, 40, 2, time.Second)
	text := strings.Repeat("lorem ipsum dolor sit amet ", 5) + "Charlotte was examined"
	detections := detector.Detect(context.Background(), text)
	var found bool
	for _, det := range detections {
		if text[det.Start:det.End] == "Charlotte" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected entity in later chunk mapped to absolute position")
	}
}

func TestEnsembleClassifierFailureDegradesToEmpty(t *testing.T) {
	detector := NewEnsembleDetector(&stubClassifier{err: errors.New("model not loaded")}, 512, 2, time.Second)
	if dets := detector.Detect(context.Background(), "Robert was here"); len(dets) != 0 {
		t.Fatalf("expected empty result on classifier failure, got %d", len(dets))
	}
}

func TestEnsembleNilClassifier(t *testing.T) {
	detector := NewEnsembleDetector(nil, 512, 2, time.Second)
	if dets := detector.Detect(context.Background(), "Robert was here"); dets != nil {
		t.Fatal("expected nil result without classifier")
	}
}

func TestEnsembleTimeoutFailsSoft(t *testing.T) {
	detector := NewEnsembleDetector(&stubClassifier{delay: 200 * time.Millisecond}, 512, 2, 10*time.Millisecond)
	if dets := detector.Detect(context.Background(), "Robert was here"); len(dets) != 0 {
		t.Fatalf("expected empty result on timeout, got %d", len(dets))
	}
}

func TestSplitChunksHardSplitKeepsRunesIntact(t *testing.T) {
	// A long unbroken run of multi-byte runes forces the hard-split path;
	// the cut must land on a rune boundary, never inside one.
	text := strings.Repeat("ü", 20)
	chunks := splitChunks(text, 7)
	reassembled := ""
	for _, c := range chunks {
		if !utf8.ValidString(c.text) {
			t.Fatalf("chunk %q is not valid UTF-8", c.text)
		}
		if text[c.offset:c.offset+len(c.text)] != c.text {
			t.Fatal("chunk offset does not map back to source")
		}
		reassembled += c.text
	}
	if reassembled != text {
		t.Fatalf("chunks do not cover text: %q", reassembled)
	}
}

func TestSplitChunksWordBoundaries(t *testing.T) {
	text := "alpha beta gamma delta epsilon"
	chunks := splitChunks(text, 12)
	reassembled := ""
	for _, c := range chunks {
		if len(c.text) > 12 {
			t.Fatalf("chunk exceeds max length: %q", c.text)
		}
		if text[c.offset:c.offset+len(c.text)] != c.text {
			t.Fatal("chunk offset does not map back to source")
		}
		reassembled += c.text
	}
	if reassembled != text {
		t.Fatalf("chunks do not cover text: %q", reassembled)
	}
}
