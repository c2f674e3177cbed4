package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/dictamed-ai/compliance/pkg/common/config"
	"github.com/dictamed-ai/compliance/pkg/common/database"
	"github.com/dictamed-ai/compliance/pkg/common/kafka"
	"github.com/dictamed-ai/compliance/pkg/common/logger"
	"github.com/dictamed-ai/compliance/pkg/common/middleware"
	"github.com/dictamed-ai/compliance/pkg/common/models"
	"github.com/dictamed-ai/compliance/pkg/deid"
	"github.com/dictamed-ai/compliance/pkg/engine"
	"github.com/dictamed-ai/compliance/pkg/observability/metrics"
)

type ComplianceService struct {
	engine   *engine.Engine
	producer *kafka.Producer
	consumer *kafka.Consumer
}

func main() {
	logger.Init()
	cfg := config.Load()

	service := &ComplianceService{}
	opts := engine.Options{Config: cfg}

	service.producer = kafka.NewProducer(cfg.KafkaAlertTopic)
	defer service.producer.Close()
	opts.Publisher = service.producer

	if db, err := database.GetPostgres(); err != nil {
		logger.Log.WithError(err).Warn("Postgres unavailable, audit trail disabled")
	} else {
		repo := deid.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Warn("Audit schema migration failed")
		} else {
			opts.Audit = repo
			opts.AuditRepo = repo
		}
		defer database.ClosePostgres()
	}

	if client := database.GetRedis(); client != nil {
		opts.ParameterStore = database.NewRedisStore(client)
		defer database.CloseRedis()
	}

	service.engine = engine.New(opts)

	service.consumer = kafka.NewConsumer(cfg.KafkaInputTopic, cfg.KafkaGroupID)
	defer service.consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := service.consumer.Consume(ctx, service.processDictation); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Error("Consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.Use(middleware.RequestLogging, middleware.Recovery)
	router.Use(middleware.RateLimit(100, 200))
	router.Use(middleware.BodyLimit(1 << 20))
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/api/v1/detect", service.handleDetect).Methods("POST")
	router.HandleFunc("/api/v1/deidentify", service.handleDeidentify).Methods("POST")
	router.HandleFunc("/api/v1/reidentify", service.handleReidentify).Methods("POST")
	router.HandleFunc("/api/v1/feedback", service.handleFeedback).Methods("POST")
	router.HandleFunc("/api/v1/codes/extract", service.handleExtractCodes).Methods("POST")
	router.HandleFunc("/api/v1/interactions", service.handleInteractions).Methods("POST")
	router.HandleFunc("/api/v1/reconcile", service.handleReconcile).Methods("POST")
	router.HandleFunc("/api/v1/labs/check", service.handleLabCheck).Methods("POST")
	router.HandleFunc("/api/v1/care-gaps", service.handleCareGaps).Methods("POST")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Compliance Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Compliance Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Compliance Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// processDictation runs PHI detection over dictation transcripts arriving on
// the input topic.
func (s *ComplianceService) processDictation(ctx context.Context, event models.Event) error {
	text, _ := event.Data["text"].(string)
	if text == "" {
		return nil
	}
	userID, _ := event.Data["user_id"].(string)

	logger.Log.WithFields(map[string]interface{}{
		"event_id": event.ID,
		"session":  event.SessionID,
	}).Info("Processing dictation event")

	_, err := s.engine.Detect(ctx, event.SessionID, userID, text, patientFromEvent(event), nil)
	return err
}

func patientFromEvent(event models.Event) *models.PatientContext {
	raw, ok := event.Data["patient"].(map[string]interface{})
	if !ok {
		return nil
	}
	patient := &models.PatientContext{}
	patient.FirstName, _ = raw["first_name"].(string)
	patient.LastName, _ = raw["last_name"].(string)
	patient.DOB, _ = raw["dob"].(string)
	patient.MRN, _ = raw["mrn"].(string)
	patient.Phone, _ = raw["phone"].(string)
	return patient
}

type detectRequest struct {
	Text      string                  `json:"text"`
	SessionID string                  `json:"session_id"`
	UserID    string                  `json:"user_id"`
	Patient   *models.PatientContext  `json:"patient,omitempty"`
	Provider  *models.ProviderContext `json:"provider,omitempty"`
}

func (s *ComplianceService) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	detections, err := s.engine.Detect(r.Context(), req.SessionID, req.UserID, req.Text, req.Patient, req.Provider)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	highImpact := s.engine.ScanHighImpact(r.Context(), req.SessionID, req.Text)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"detections": detections,
		"alerts":     highImpact,
	})
}

type deidentifyRequest struct {
	Text      string                 `json:"text"`
	SessionID string                 `json:"session_id"`
	Method    models.DeidMethod      `json:"method"`
	Patient   *models.PatientContext `json:"patient,omitempty"`
}

func (s *ComplianceService) handleDeidentify(w http.ResponseWriter, r *http.Request) {
	var req deidentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Method == "" {
		req.Method = models.MethodRedact
	}

	result, err := s.engine.Deidentify(r.Context(), req.Text, req.SessionID, req.Method, req.Patient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type reidentifyRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

func (s *ComplianceService) handleReidentify(w http.ResponseWriter, r *http.Request) {
	var req reidentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	restored, ok := s.engine.Reidentify(req.Text, req.SessionID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"text":  restored,
		"found": ok,
	})
}

type feedbackRequest struct {
	Category      models.PHICategory `json:"category"`
	RawConfidence float64            `json:"raw_confidence"`
	Correct       bool               `json:"correct"`
}

func (s *ComplianceService) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	if err := s.engine.RecordPHIFeedback(r.Context(), req.Category, req.RawConfidence, req.Correct); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accepted": true})
}

type extractCodesRequest struct {
	Text        string   `json:"text"`
	CodeSystems []string `json:"code_systems,omitempty"`
	Suggest     bool     `json:"suggest"`
}

func (s *ComplianceService) handleExtractCodes(w http.ResponseWriter, r *http.Request) {
	var req extractCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Suggest {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"suggestions": s.engine.SuggestCodes(req.Text),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"codes": s.engine.ExtractCodes(req.Text, req.CodeSystems),
	})
}

type interactionsRequest struct {
	SessionID   string   `json:"session_id"`
	Medications []string `json:"medications"`
	Conditions  []string `json:"conditions,omitempty"`
	Allergies   []string `json:"allergies,omitempty"`
}

func (s *ComplianceService) handleInteractions(w http.ResponseWriter, r *http.Request) {
	var req interactionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Medications) == 0 {
		writeError(w, http.StatusBadRequest, "medications are required")
		return
	}

	response := map[string]interface{}{
		"interactions": s.engine.CheckInteractions(r.Context(), req.SessionID, req.Medications),
	}
	if len(req.Conditions) > 0 {
		response["contraindications"] = s.engine.CheckContraindications(req.Medications, req.Conditions)
	}
	if len(req.Allergies) > 0 {
		response["allergy_alerts"] = s.engine.CheckAllergies(r.Context(), req.SessionID, req.Allergies, req.Medications)
	}
	writeJSON(w, http.StatusOK, response)
}

type reconcileRequest struct {
	SessionID    string   `json:"session_id"`
	EHRMeds      []string `json:"ehr_medications"`
	DictatedMeds []string `json:"dictated_medications"`
}

func (s *ComplianceService) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result := s.engine.Reconcile(r.Context(), req.SessionID, req.EHRMeds, req.DictatedMeds)
	writeJSON(w, http.StatusOK, result)
}

type labCheckRequest struct {
	SessionID  string            `json:"session_id"`
	Value      models.LabValue   `json:"value"`
	Series     []models.LabValue `json:"series,omitempty"`
	Conditions []string          `json:"conditions,omitempty"`
}

func (s *ComplianceService) handleLabCheck(w http.ResponseWriter, r *http.Request) {
	var req labCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Value.TestName == "" && len(req.Series) == 0 {
		writeError(w, http.StatusBadRequest, "a lab value or series is required")
		return
	}

	response := map[string]interface{}{}
	if req.Value.TestName != "" {
		response["alert"] = s.engine.CheckLabValue(r.Context(), req.SessionID, req.Value, req.Conditions)
	}
	if len(req.Series) > 0 {
		trend, err := s.engine.AnalyzeLabTrend(r.Context(), req.SessionID, req.Series[0].TestName, req.Series)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		response["trend"] = trend
	}
	writeJSON(w, http.StatusOK, response)
}

type careGapsRequest struct {
	SessionID string             `json:"session_id"`
	Patient   models.PatientData `json:"patient"`
	AsOf      time.Time          `json:"as_of,omitempty"`
}

func (s *ComplianceService) handleCareGaps(w http.ResponseWriter, r *http.Request) {
	var req careGapsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Patient.PatientID == "" {
		writeError(w, http.StatusBadRequest, "patient.patient_id is required")
		return
	}
	summary := s.engine.DetectCareGaps(r.Context(), req.SessionID, req.Patient, req.AsOf)
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.WithError(err).Error("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}
