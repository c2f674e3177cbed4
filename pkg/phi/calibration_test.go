package phi

import (
	"context"
	"sync"
	"testing"

	"github.com/dictamed-ai/compliance/pkg/common/models"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func TestCalibrateAlwaysInUnitInterval(t *testing.T) {
	calibrator := NewCalibrator(0.01, 10, nil)
	for _, raw := range []float64{-1e9, -100, -1, 0, 0.5, 1, 100, 1e9} {
		p := calibrator.Calibrate(models.CategorySSN, raw)
		if p < 0 || p > 1 {
			t.Fatalf("calibrated confidence %f out of [0,1] for raw %f", p, raw)
		}
	}
}

func TestCalibrateUnknownCategoryFallsBack(t *testing.T) {
	calibrator := NewCalibrator(0.01, 10, nil)
	p := calibrator.Calibrate(models.PHICategory("fax"), 0.9)
	if p <= 0 || p >= 1 {
		t.Fatalf("expected interior probability for fallback category, got %f", p)
	}
}

func TestFeedbackTriggersGradientStep(t *testing.T) {
	calibrator := NewCalibrator(0.05, 5, nil)
	before := calibrator.Parameters()[models.CategorySSN]

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		calibrator.RecordFeedback(ctx, models.CategorySSN, 0.95, true)
	}

	after := calibrator.Parameters()[models.CategorySSN]
	if after.A == before.A && after.B == before.B {
		t.Fatal("expected coefficients to change after batched feedback")
	}
	if after.SampleCount != 5 {
		t.Fatalf("expected 5 samples recorded, got %d", after.SampleCount)
	}

	// Buffer is cleared; one more sample does not trigger another step.
	calibrator.RecordFeedback(ctx, models.CategorySSN, 0.95, true)
	again := calibrator.Parameters()[models.CategorySSN]
	if again.SampleCount != 5 {
		t.Fatalf("expected no further update below threshold, got %d samples", again.SampleCount)
	}
}

func TestFeedbackPersistsToStore(t *testing.T) {
	store := newMemoryStore()
	calibrator := NewCalibrator(0.05, 2, store)
	ctx := context.Background()
	calibrator.RecordFeedback(ctx, models.CategoryName, 0.5, false)
	calibrator.RecordFeedback(ctx, models.CategoryName, 0.5, false)

	if store.data[paramStoreKey] == "" {
		t.Fatal("expected parameters to be persisted")
	}

	// A fresh calibrator picks the persisted parameters up.
	restored := NewCalibrator(0.05, 2, store)
	if restored.Parameters()[models.CategoryName].SampleCount != 2 {
		t.Fatal("expected persisted sample count to be restored")
	}
}

func TestConcurrentFeedbackDoesNotLoseUpdates(t *testing.T) {
	calibrator := NewCalibrator(0.01, 10, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				calibrator.RecordFeedback(ctx, models.CategoryPhone, 0.8, j%2 == 0)
			}
		}()
	}
	wg.Wait()

	params := calibrator.Parameters()[models.CategoryPhone]
	if params.SampleCount != 100 {
		t.Fatalf("expected all 100 samples applied, got %d", params.SampleCount)
	}
}
