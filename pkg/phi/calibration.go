package phi

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/dictamed-ai/compliance/pkg/common/logger"
	"github.com/dictamed-ai/compliance/pkg/common/models"
)

const (
	paramStoreKey = "compliance:calibration:params"
	logitBound    = 35.0
)

// ParameterStore is the optional key-value collaborator used to persist
// calibration parameters as a JSON blob. Calibration works in-memory when
// the store is nil.
type ParameterStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type feedbackSample struct {
	raw   float64
	label float64
}

type calibrationState struct {
	mu     sync.Mutex
	params models.CalibrationParameters
	buffer []feedbackSample
}

// Calibrator maps raw detector scores to calibrated probabilities per PHI
// category with Platt coefficients, re-estimated online from batched
// feedback via single gradient-descent steps.
type Calibrator struct {
	mu           sync.RWMutex
	states       map[models.PHICategory]*calibrationState
	learningRate float64
	minSamples   int
	store        ParameterStore
}

func NewCalibrator(learningRate float64, minSamples int, store ParameterStore) *Calibrator {
	if learningRate <= 0 {
		learningRate = 0.01
	}
	if minSamples <= 0 {
		minSamples = 10
	}
	c := &Calibrator{
		states:       make(map[models.PHICategory]*calibrationState),
		learningRate: learningRate,
		minSamples:   minSamples,
		store:        store,
	}
	for category, params := range defaultParameters() {
		c.states[category] = &calibrationState{params: params}
	}
	c.loadPersisted()
	return c
}

// Per-category Platt seeds. Structured pattern categories start sharper
// than the model-derived ones.
func defaultParameters() map[models.PHICategory]models.CalibrationParameters {
	seed := func(cat models.PHICategory, a, b float64) models.CalibrationParameters {
		return models.CalibrationParameters{Category: cat, A: a, B: b, LastUpdated: time.Now().UTC()}
	}
	return map[models.PHICategory]models.CalibrationParameters{
		models.CategorySSN:          seed(models.CategorySSN, -6.0, 3.0),
		models.CategoryPhone:        seed(models.CategoryPhone, -5.0, 2.5),
		models.CategoryDate:         seed(models.CategoryDate, -4.0, 2.0),
		models.CategoryDOB:          seed(models.CategoryDOB, -4.0, 2.0),
		models.CategoryEmail:        seed(models.CategoryEmail, -6.0, 3.0),
		models.CategoryMRN:          seed(models.CategoryMRN, -5.0, 2.5),
		models.CategoryZip:          seed(models.CategoryZip, -3.0, 1.5),
		models.CategoryAge:          seed(models.CategoryAge, -3.5, 1.75),
		models.CategoryName:         seed(models.CategoryName, -4.0, 2.0),
		models.CategoryAddress:      seed(models.CategoryAddress, -3.5, 1.75),
		models.CategoryOrganization: seed(models.CategoryOrganization, -3.0, 1.5),
		models.CategoryUnknown:      seed(models.CategoryUnknown, -3.0, 1.5),
	}
}

func (c *Calibrator) state(category models.PHICategory) *calibrationState {
	c.mu.RLock()
	st, ok := c.states[category]
	c.mu.RUnlock()
	if ok {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok = c.states[category]; ok {
		return st
	}
	st = &calibrationState{params: defaultParameters()[models.CategoryUnknown]}
	st.params.Category = category
	c.states[category] = st
	return st
}

// Calibrate maps a raw score to P = 1 / (1 + exp(a*raw + b)), clipping the
// logit so the exponential can never overflow. The result is always in
// [0, 1].
func (c *Calibrator) Calibrate(category models.PHICategory, raw float64) float64 {
	st := c.state(category)
	st.mu.Lock()
	a, b := st.params.A, st.params.B
	st.mu.Unlock()
	return plattTransform(a, b, raw)
}

func plattTransform(a, b, raw float64) float64 {
	logit := a*raw + b
	if logit > logitBound {
		logit = logitBound
	} else if logit < -logitBound {
		logit = -logitBound
	}
	return 1 / (1 + math.Exp(logit))
}

// Apply calibrates a detection list in place.
func (c *Calibrator) Apply(detections []models.Detection) {
	for i := range detections {
		detections[i].CalibratedConfidence = c.Calibrate(detections[i].Category, detections[i].RawConfidence)
	}
}

// RecordFeedback buffers one labeled observation for a category. Once the
// buffer reaches the minimum sample count, a single gradient-descent step
// updates the category's coefficients atomically and clears the buffer.
func (c *Calibrator) RecordFeedback(ctx context.Context, category models.PHICategory, raw float64, correct bool) {
	label := 0.0
	if correct {
		label = 1.0
	}

	st := c.state(category)
	st.mu.Lock()
	st.buffer = append(st.buffer, feedbackSample{raw: raw, label: label})
	if len(st.buffer) < c.minSamples {
		st.mu.Unlock()
		return
	}

	var gradA, gradB float64
	for _, sample := range st.buffer {
		predicted := plattTransform(st.params.A, st.params.B, sample.raw)
		gradA += (predicted - sample.label) * sample.raw
		gradB += predicted - sample.label
	}
	n := float64(len(st.buffer))
	st.params.A -= c.learningRate * gradA / n
	st.params.B -= c.learningRate * gradB / n
	st.params.SampleCount += len(st.buffer)
	st.params.LastUpdated = time.Now().UTC()
	st.buffer = st.buffer[:0]
	st.mu.Unlock()

	c.persist(ctx)
}

// Parameters returns a snapshot of the current coefficients.
func (c *Calibrator) Parameters() map[models.PHICategory]models.CalibrationParameters {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[models.PHICategory]models.CalibrationParameters, len(c.states))
	for category, st := range c.states {
		st.mu.Lock()
		out[category] = st.params
		st.mu.Unlock()
	}
	return out
}

func (c *Calibrator) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	blob, err := json.Marshal(c.Parameters())
	if err != nil {
		logger.Log.WithError(err).Error("Failed to marshal calibration parameters")
		return
	}
	if err := c.store.Set(ctx, paramStoreKey, string(blob)); err != nil {
		logger.Log.WithError(err).Warn("Failed to persist calibration parameters")
	}
}

func (c *Calibrator) loadPersisted() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	blob, err := c.store.Get(ctx, paramStoreKey)
	if err != nil {
		logger.Log.WithError(err).Warn("Failed to load calibration parameters, using defaults")
		return
	}
	if blob == "" {
		return
	}

	var persisted map[models.PHICategory]models.CalibrationParameters
	if err := json.Unmarshal([]byte(blob), &persisted); err != nil {
		logger.Log.WithError(err).Warn("Ignoring malformed persisted calibration parameters")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for category, params := range persisted {
		c.states[category] = &calibrationState{params: params}
	}
}
