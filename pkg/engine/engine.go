package engine

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dictamed-ai/compliance/pkg/caregaps"
	"github.com/dictamed-ai/compliance/pkg/codes"
	"github.com/dictamed-ai/compliance/pkg/common/config"
	"github.com/dictamed-ai/compliance/pkg/common/events"
	"github.com/dictamed-ai/compliance/pkg/common/logger"
	"github.com/dictamed-ai/compliance/pkg/common/models"
	"github.com/dictamed-ai/compliance/pkg/deid"
	"github.com/dictamed-ai/compliance/pkg/labs"
	"github.com/dictamed-ai/compliance/pkg/medrec"
	"github.com/dictamed-ai/compliance/pkg/observability/metrics"
	"github.com/dictamed-ai/compliance/pkg/phi"
	"github.com/dictamed-ai/compliance/pkg/plugins"
	"github.com/dictamed-ai/compliance/pkg/reasoning"
)

// detectionVariant is the detector strategy resolved once per call.
type detectionVariant int

const (
	variantLegacy detectionVariant = iota
	variantEnhanced
)

// highConfidencePHI is the calibrated confidence at or above which an
// unsuppressed detection raises a phi_alert event.
const highConfidencePHI = 0.9

// Options carries the optional collaborators. Every field may be nil: the
// engine degrades to regex-only detection, in-memory calibration, and
// silent event publishing.
type Options struct {
	Config         *config.Config
	Publisher      events.Publisher
	Audit          events.AuditLogger
	ParameterStore phi.ParameterStore
	Classifier     phi.EntityClassifier
	AuditRepo      *deid.Repository
	FeatureFlags   map[string]bool
}

// Engine is the single call surface over the compliance sub-components.
// Sub-components are constructed lazily on first use.
type Engine struct {
	cfg       *config.Config
	publisher events.Publisher
	opts      Options

	pipelineOnce sync.Once
	pipeline     *phi.Pipeline
	pipelineErr  error

	deidOnce sync.Once
	deidSvc  *deid.Service
	deidErr  error

	extractorOnce sync.Once
	extractor     *codes.Extractor

	reasonerOnce sync.Once
	reasoner     *reasoning.Engine

	reconcilerOnce sync.Once
	reconciler     *medrec.Reconciler

	labsOnce    sync.Once
	labAnalyzer *labs.Analyzer

	gapsOnce    sync.Once
	gapDetector *caregaps.Detector

	registryOnce sync.Once
	registry     *plugins.Registry
}

func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Load()
	}
	return &Engine{cfg: cfg, publisher: opts.Publisher, opts: opts}
}

func (e *Engine) getPipeline() (*phi.Pipeline, error) {
	e.pipelineOnce.Do(func() {
		rules, err := phi.LoadRules(e.cfg.RulesPath)
		if err != nil {
			logger.Log.WithField("error", err.Error()).Warn("rule config load failed, using defaults")
		}
		patterns, err := phi.NewPatternDetector(rules)
		if err != nil {
			e.pipelineErr = err
			return
		}
		var ensemble *phi.EnsembleDetector
		if e.opts.Classifier != nil {
			ensemble = phi.NewEnsembleDetector(e.opts.Classifier, e.cfg.MaxSequenceLen, e.cfg.EnsembleWorkers, e.cfg.InferenceTimeout)
		}
		calibrator := phi.NewCalibrator(e.cfg.CalibrationLearningRate, e.cfg.CalibrationMinSamples, e.opts.ParameterStore)
		e.pipeline = phi.NewPipeline(patterns, ensemble, phi.NewMerger(e.cfg.MergeWeightPrimary), calibrator, phi.NewSuppressor(e.cfg.FuzzyThreshold))
	})
	return e.pipeline, e.pipelineErr
}

func (e *Engine) getDeid() (*deid.Service, error) {
	e.deidOnce.Do(func() {
		pipeline, err := e.getPipeline()
		if err != nil {
			e.deidErr = err
			return
		}
		detect := func(ctx context.Context, text string, patient *models.PatientContext, provider *models.ProviderContext) []models.Detection {
			return pipeline.Detect(ctx, text, patient, provider, false)
		}
		var opts []deid.Option
		if e.opts.Audit != nil {
			opts = append(opts, deid.WithAuditLogger(e.opts.Audit))
		}
		if e.opts.AuditRepo != nil {
			opts = append(opts, deid.WithRepository(e.opts.AuditRepo))
		}
		e.deidSvc, e.deidErr = deid.NewService(detect, opts...)
	})
	return e.deidSvc, e.deidErr
}

func (e *Engine) getExtractor() *codes.Extractor {
	e.extractorOnce.Do(func() {
		catalog, err := codes.LoadCatalog(e.cfg.CatalogPath)
		if err != nil {
			logger.Log.WithField("error", err.Error()).Warn("code catalog load failed, using defaults")
			catalog = codes.DefaultCatalog()
		}
		e.extractor = codes.NewExtractor(catalog, e.publisher)
	})
	return e.extractor
}

func (e *Engine) getReasoner() *reasoning.Engine {
	e.reasonerOnce.Do(func() {
		e.reasoner = reasoning.NewEngine(e.publisher)
	})
	return e.reasoner
}

func (e *Engine) getReconciler() *medrec.Reconciler {
	e.reconcilerOnce.Do(func() {
		e.reconciler = medrec.NewReconciler(e.getReasoner(), e.publisher)
	})
	return e.reconciler
}

func (e *Engine) getLabAnalyzer() *labs.Analyzer {
	e.labsOnce.Do(func() {
		e.labAnalyzer = labs.NewAnalyzer()
	})
	return e.labAnalyzer
}

func (e *Engine) getGapDetector() *caregaps.Detector {
	e.gapsOnce.Do(func() {
		e.gapDetector = caregaps.NewDetector(e.publisher)
	})
	return e.gapDetector
}

func (e *Engine) getRegistry() *plugins.Registry {
	e.registryOnce.Do(func() {
		e.registry = plugins.NewRegistry(e.opts.FeatureFlags)
	})
	return e.registry
}

// resolveVariant picks the detection path for this call. The enhanced path
// requires an ensemble classifier and the ensemble feature enabled; within
// that, per-user assignment is a deterministic hash bucket against the
// configured rollout rate so the same user always lands on the same side.
func (e *Engine) resolveVariant(userID string) detectionVariant {
	if !e.cfg.EnsembleEnabled || e.opts.Classifier == nil {
		return variantLegacy
	}
	rate := e.cfg.EnsembleABRate
	if rate >= 1.0 {
		return variantEnhanced
	}
	if rate <= 0 {
		return variantLegacy
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	if float64(h.Sum32()%1000)/1000.0 < rate {
		return variantEnhanced
	}
	return variantLegacy
}

// Detect runs PHI detection over text with the variant resolved for userID
// and publishes detection and suppression events keyed by sessionID.
func (e *Engine) Detect(ctx context.Context, sessionID, userID, text string, patient *models.PatientContext, provider *models.ProviderContext) ([]models.Detection, error) {
	pipeline, err := e.getPipeline()
	if err != nil {
		return nil, err
	}
	variant := e.resolveVariant(userID)
	detections := pipeline.Detect(ctx, text, patient, provider, variant == variantEnhanced)

	suppressed := 0
	var leakCategories []string
	for _, d := range detections {
		if d.Suppressed {
			suppressed++
			continue
		}
		if d.CalibratedConfidence >= highConfidencePHI {
			leakCategories = append(leakCategories, string(d.Category))
		}
	}
	metrics.IncDetections(len(detections))
	metrics.IncSuppressions(suppressed)

	e.publish(ctx, events.TypePHIDetected, sessionID, map[string]interface{}{
		"detection_count":  len(detections),
		"suppressed_count": suppressed,
		"enhanced":         variant == variantEnhanced,
	}, events.DefaultPriority)
	if suppressed > 0 {
		e.publish(ctx, events.TypePHISuppressed, sessionID, map[string]interface{}{
			"suppressed_count": suppressed,
		}, events.DefaultPriority)
	}
	if len(leakCategories) > 0 {
		e.publish(ctx, events.TypePHIAlert, sessionID, map[string]interface{}{
			"alert_count": len(leakCategories),
			"categories":  leakCategories,
		}, 1)
	}
	return detections, nil
}

// RecordPHIFeedback feeds one reviewed detection back into calibration.
func (e *Engine) RecordPHIFeedback(ctx context.Context, category models.PHICategory, rawConfidence float64, correct bool) error {
	pipeline, err := e.getPipeline()
	if err != nil {
		return err
	}
	pipeline.Calibrator().RecordFeedback(ctx, category, rawConfidence, correct)
	metrics.IncCalibrationUpdates()
	return nil
}

// CalibrationParameters exposes the current per-category coefficients.
func (e *Engine) CalibrationParameters() (map[models.PHICategory]models.CalibrationParameters, error) {
	pipeline, err := e.getPipeline()
	if err != nil {
		return nil, err
	}
	return pipeline.Calibrator().Parameters(), nil
}

// Deidentify replaces detected PHI in text using the given method.
func (e *Engine) Deidentify(ctx context.Context, text, sessionID string, method models.DeidMethod, patient *models.PatientContext) (models.DeidentificationResult, error) {
	svc, err := e.getDeid()
	if err != nil {
		return models.DeidentificationResult{}, err
	}
	result, err := svc.Deidentify(ctx, text, sessionID, method, patient)
	if err == nil {
		metrics.IncDeidOperations()
	}
	return result, err
}

// Reidentify restores tokenized text for a known session.
func (e *Engine) Reidentify(text, sessionID string) (string, bool) {
	svc, err := e.getDeid()
	if err != nil {
		return "", false
	}
	return svc.Reidentify(text, sessionID)
}

// ExtractCodes pulls clinical codes from text, optionally filtered by system.
func (e *Engine) ExtractCodes(text string, codeSystems []string) []models.ClinicalCode {
	return e.getExtractor().Extract(text, codeSystems)
}

// SuggestCodes returns ranked code suggestions for text.
func (e *Engine) SuggestCodes(text string) []models.CodeSuggestion {
	return e.getExtractor().ExtractWithSuggestions(text)
}

// ScanHighImpact raises critical alerts for high-acuity conditions in text.
func (e *Engine) ScanHighImpact(ctx context.Context, sessionID, text string) []models.ClinicalAlert {
	alerts := e.getExtractor().ScanHighImpact(ctx, text, sessionID)
	metrics.IncClinicalAlerts(len(alerts))
	return alerts
}

// CheckInteractions screens a medication list for drug-drug interactions.
func (e *Engine) CheckInteractions(ctx context.Context, sessionID string, medications []string) []models.DrugInteraction {
	return e.getReasoner().CheckDrugInteractions(ctx, sessionID, medications)
}

// CheckContraindications screens medications against documented conditions.
func (e *Engine) CheckContraindications(medications, conditions []string) []models.Contraindication {
	return e.getReasoner().CheckContraindications(medications, conditions)
}

// CheckAllergies tiers candidate medications against documented allergies.
func (e *Engine) CheckAllergies(ctx context.Context, sessionID string, allergies, medications []string) []models.AllergyAlert {
	return e.getReasoner().CheckAllergyCrossReactivity(ctx, sessionID, allergies, medications)
}

// DosingGuidance layers renal, age and weight adjustments for one drug.
func (e *Engine) DosingGuidance(drug string, eGFR float64, age int, weightKg float64) *models.DosingGuidance {
	return e.getReasoner().GetDosingGuidance(drug, eGFR, age, weightKg)
}

// Reconcile diffs dictated medications against the EHR list.
func (e *Engine) Reconcile(ctx context.Context, sessionID string, ehrMeds, dictatedMeds []string) models.ReconciliationResult {
	return e.getReconciler().Reconcile(ctx, sessionID, ehrMeds, dictatedMeds)
}

// CheckLabValue evaluates one lab result against tiered ranges. Alerts are
// published as clinical alert events, critical results at top priority.
func (e *Engine) CheckLabValue(ctx context.Context, sessionID string, value models.LabValue, conditions []string) *models.LabAlert {
	alert := e.getLabAnalyzer().CheckValue(value, conditions)
	if alert != nil {
		metrics.IncClinicalAlerts(1)
		e.publishLabAlert(ctx, sessionID, alert)
	}
	return alert
}

// AnalyzeLabTrend classifies the direction of a lab value series and
// publishes a clinical alert when the trend is clinically significant.
func (e *Engine) AnalyzeLabTrend(ctx context.Context, sessionID, testName string, values []models.LabValue) (*models.LabTrend, error) {
	trend, err := e.getLabAnalyzer().AnalyzeTrend(testName, values)
	if err != nil {
		return nil, err
	}
	if alert := e.getLabAnalyzer().TrendAlert(trend); alert != nil {
		metrics.IncClinicalAlerts(1)
		e.publishLabAlert(ctx, sessionID, alert)
	}
	return trend, nil
}

func (e *Engine) publishLabAlert(ctx context.Context, sessionID string, alert *models.LabAlert) {
	priority := events.DefaultPriority
	if alert.Severity == models.SeverityCritical {
		priority = 1
	}
	e.publish(ctx, events.TypeClinicalAlert, sessionID, map[string]interface{}{
		"alert_kind":      "lab",
		"test_name":       alert.TestName,
		"severity":        string(alert.Severity),
		"message":         alert.Message,
		"reference_range": alert.ReferenceRange,
	}, priority)
}

// DetectCareGaps assesses a patient against the quality measure registry.
func (e *Engine) DetectCareGaps(ctx context.Context, sessionID string, patient models.PatientData, asOf time.Time) models.PatientGapSummary {
	return e.getGapDetector().Assess(ctx, sessionID, patient, asOf)
}

// RegisterPlugin adds a plugin to the registry, enforcing feature flags.
func (e *Engine) RegisterPlugin(p plugins.Plugin) error {
	return e.getRegistry().Register(p)
}

// ProcessPlugins runs registered plugins for the session's specialty.
func (e *Engine) ProcessPlugins(ctx context.Context, pluginCtx models.PluginContext) []models.PluginResult {
	return e.getRegistry().ProcessAll(ctx, pluginCtx)
}

func (e *Engine) publish(ctx context.Context, eventType, sessionID string, data map[string]interface{}, priority int) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishEvent(ctx, eventType, sessionID, "compliance_engine", data, priority); err != nil {
		logger.Log.WithFields(map[string]interface{}{
			"event_type": eventType,
			"error":      err.Error(),
		}).Warn("event publish failed")
		return
	}
	metrics.IncEventsPublished()
}
