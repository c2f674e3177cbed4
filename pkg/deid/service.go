package deid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dictamed-ai/compliance/pkg/common/events"
	"github.com/dictamed-ai/compliance/pkg/common/logger"
	"github.com/dictamed-ai/compliance/pkg/common/models"
	"github.com/dictamed-ai/compliance/pkg/phi"
)

// DetectFunc re-detects PHI for the text being de-identified. The facade
// passes its configured pipeline; a nil func makes the service build a
// default regex-only pipeline of its own.
type DetectFunc func(ctx context.Context, text string, patient *models.PatientContext, provider *models.ProviderContext) []models.Detection

// sessionState carries the per-session token map and date shift. Guarded by
// its own mutex so sessions never contend with each other.
type sessionState struct {
	mu        sync.Mutex
	tokens    map[string]string // original value -> token
	reverse   map[string]string // token -> original value
	dateShift int               // days
}

type Service struct {
	mu        sync.Mutex
	sessions  map[string]*sessionState
	detect    DetectFunc
	audit     events.AuditLogger
	repo      *Repository // optional durable vault
	shiftDays int         // fixed date shift; 0 picks one per session
	preserve  bool        // format-preserving MASK
	rng       *rand.Rand
	rngMu     sync.Mutex
	salt      string
}

type Option func(*Service)

func WithAuditLogger(audit events.AuditLogger) Option {
	return func(s *Service) { s.audit = audit }
}

func WithRepository(repo *Repository) Option {
	return func(s *Service) { s.repo = repo }
}

func WithDateShift(days int) Option {
	return func(s *Service) { s.shiftDays = days }
}

func WithFormatPreservation(enabled bool) Option {
	return func(s *Service) { s.preserve = enabled }
}

func NewService(detect DetectFunc, opts ...Option) (*Service, error) {
	if detect == nil {
		pipeline, err := phi.DefaultPipeline()
		if err != nil {
			return nil, err
		}
		detect = func(ctx context.Context, text string, patient *models.PatientContext, provider *models.ProviderContext) []models.Detection {
			return pipeline.Detect(ctx, text, patient, provider, false)
		}
	}
	s := &Service{
		sessions: make(map[string]*sessionState),
		detect:   detect,
		preserve: true,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		salt:     uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) session(sessionID string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		st = &sessionState{
			tokens:    make(map[string]string),
			reverse:   make(map[string]string),
			dateShift: s.pickShift(),
		}
		s.sessions[sessionID] = st
	}
	return st
}

func (s *Service) pickShift() int {
	if s.shiftDays != 0 {
		return s.shiftDays
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	shift := s.rng.Intn(60) - 30
	if shift == 0 {
		shift = 7
	}
	return shift
}

// Deidentify transforms text according to method, replacing detections
// right-to-left so earlier offsets stay valid. Suppressed detections are
// never replaced. One audit event is emitted per call; audit failures are
// logged, never surfaced.
func (s *Service) Deidentify(ctx context.Context, text, sessionID string, method models.DeidMethod, patient *models.PatientContext) (models.DeidentificationResult, error) {
	if method == "" {
		method = models.MethodRedact
	}
	switch method {
	case models.MethodRedact, models.MethodMask, models.MethodSurrogate, models.MethodToken, models.MethodShift:
	default:
		return models.DeidentificationResult{}, fmt.Errorf("unknown de-identification method %q", method)
	}

	detections := s.detect(ctx, text, patient, nil)
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Start > detections[j].Start
	})

	st := s.session(sessionID)
	st.mu.Lock()

	result := models.DeidentificationResult{
		OriginalText: text,
		Method:       method,
		Reversible:   method == models.MethodToken,
	}

	out := text
	for _, det := range detections {
		if det.Suppressed {
			continue
		}
		if det.Start < 0 || det.End > len(out) || det.Start >= det.End {
			continue
		}
		replacement, ok := s.replacementFor(ctx, st, sessionID, det, method)
		if !ok {
			continue
		}
		out = out[:det.Start] + replacement + out[det.End:]
		result.PHICount++
		result.Replacements = append(result.Replacements, models.Replacement{
			Original:    det.Text,
			Replacement: replacement,
			Category:    det.Category,
			Start:       det.Start,
			End:         det.End,
		})
	}
	result.DeidentifiedText = out

	if method == models.MethodToken {
		tokenMap := make(map[string]string, len(st.reverse))
		for token, value := range st.reverse {
			tokenMap[token] = value
		}
		result.TokenMap = tokenMap
	}
	st.mu.Unlock()

	s.auditEvent(ctx, sessionID, result.PHICount, method)
	return result, nil
}

// replacementFor computes the replacement text for one detection; callers
// hold the session lock. A false return means the detection is left as is.
func (s *Service) replacementFor(ctx context.Context, st *sessionState, sessionID string, det models.Detection, method models.DeidMethod) (string, bool) {
	switch method {
	case models.MethodRedact:
		return redactMarker(det.Category), true
	case models.MethodMask:
		return s.mask(det.Text), true
	case models.MethodSurrogate:
		return s.surrogate(det, st.dateShift), true
	case models.MethodToken:
		return s.token(ctx, st, sessionID, det.Text), true
	case models.MethodShift:
		if det.Category != models.CategoryDate && det.Category != models.CategoryDOB {
			return "", false
		}
		shifted, ok := shiftDate(det.Text, st.dateShift)
		return shifted, ok
	}
	return "", false
}

var redactMarkers = map[models.PHICategory]string{
	models.CategorySSN:          "[REDACTED-SSN]",
	models.CategoryPhone:        "[REDACTED-PHONE]",
	models.CategoryDate:         "[REDACTED-DATE]",
	models.CategoryDOB:          "[REDACTED-DOB]",
	models.CategoryEmail:        "[REDACTED-EMAIL]",
	models.CategoryMRN:          "[REDACTED-MRN]",
	models.CategoryZip:          "[REDACTED-ZIP]",
	models.CategoryAge:          "[REDACTED-AGE]",
	models.CategoryName:         "[REDACTED-NAME]",
	models.CategoryAddress:      "[REDACTED-ADDRESS]",
	models.CategoryOrganization: "[REDACTED-ORG]",
}

func redactMarker(category models.PHICategory) string {
	if marker, ok := redactMarkers[category]; ok {
		return marker
	}
	return "[REDACTED]"
}

func (s *Service) mask(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case !s.preserve:
			b.WriteByte('*')
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			b.WriteByte('X')
		case r >= '0' && r <= '9':
			b.WriteByte('#')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var surrogateFirstNames = []string{"Alex", "Jordan", "Taylor", "Morgan", "Casey", "Riley", "Avery", "Quinn"}
var surrogateLastNames = []string{"Anderson", "Brooks", "Carter", "Dawson", "Ellis", "Foster", "Grayson", "Hayes"}
var surrogateStreets = []string{"Maple Ave", "Oak St", "Cedar Ln", "Elm Dr", "Birch Rd"}

func (s *Service) surrogate(det models.Detection, dateShift int) string {
	switch det.Category {
	case models.CategoryName:
		return s.pick(surrogateFirstNames) + " " + s.pick(surrogateLastNames)
	case models.CategoryPhone:
		return fmt.Sprintf("(555) %03d-%04d", s.intn(1000), s.intn(10000))
	case models.CategorySSN:
		return fmt.Sprintf("900-%02d-%04d", s.intn(100), s.intn(10000))
	case models.CategoryMRN:
		return fmt.Sprintf("MRN%08d", s.intn(100000000))
	case models.CategoryEmail:
		return fmt.Sprintf("patient%04d@example.org", s.intn(10000))
	case models.CategoryAddress:
		return fmt.Sprintf("%d %s", 100+s.intn(900), s.pick(surrogateStreets))
	case models.CategoryZip:
		return fmt.Sprintf("%05d", s.intn(100000))
	case models.CategoryDate, models.CategoryDOB:
		if shifted, ok := shiftDate(det.Text, dateShift); ok {
			return shifted
		}
		return "01/01/1970"
	case models.CategoryAge:
		return "90+ years old"
	default:
		return redactMarker(det.Category)
	}
}

func (s *Service) pick(values []string) string {
	return values[s.intn(len(values))]
}

func (s *Service) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

var dateLayouts = []string{"01/02/2006", "1/2/2006", "2006-01-02", "January 2, 2006", "Jan 2, 2006"}

// shiftDate shifts a date string by days, preserving the original layout
// when one of the known layouts parses it.
func shiftDate(text string, days int) (string, bool) {
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, text)
		if err != nil {
			continue
		}
		return parsed.AddDate(0, 0, days).Format(layout), true
	}
	return "", false
}

// token returns the session's existing token for an identical original
// value, or mints a new opaque one and records the reverse mapping.
func (s *Service) token(ctx context.Context, st *sessionState, sessionID, value string) string {
	if token, ok := st.tokens[value]; ok {
		return token
	}
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", s.salt, value, uuid.New().String())))
	token := "tok_" + strings.ToLower(hex.EncodeToString(hash[:8]))
	st.tokens[value] = token
	st.reverse[token] = value

	if s.repo != nil {
		if err := s.repo.SaveToken(ctx, sessionID, token, value); err != nil {
			logger.Log.WithError(err).WithField("session_id", sessionID).Warn("Failed to persist token")
		}
	}
	return token
}

// Reidentify substitutes every known token for the session back to its
// original value. An unknown session yields ok=false: token maps are
// legitimately ephemeral.
func (s *Service) Reidentify(text, sessionID string) (string, bool) {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return "", false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	out := text
	for token, value := range st.reverse {
		out = strings.ReplaceAll(out, token, value)
	}
	return out, true
}

func (s *Service) auditEvent(ctx context.Context, sessionID string, phiCount int, method models.DeidMethod) {
	if s.audit == nil {
		return
	}
	details := map[string]interface{}{
		"phi_count": phiCount,
		"method":    string(method),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.audit.LogEvent(ctx, "deidentify", sessionID, details); err != nil {
		logger.Log.WithError(err).WithField("session_id", sessionID).Warn("Audit log failed")
	}
}
