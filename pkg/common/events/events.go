package events

import "context"

// Event types emitted by the compliance core.
const (
	TypePHIDetected            = "phi.detected"
	TypePHISuppressed          = "phi.suppressed"
	TypePHIAlert               = "context.phi_alert"
	TypeClinicalAlert          = "context.clinical_alert"
	TypeCareGapDetected        = "care_gap.detected"
	TypeCareGapClosed          = "care_gap.closed"
	TypeReconciliationComplete = "medication.reconciliation_complete"
)

const DefaultPriority = 5

// Publisher is the event-bus collaborator. The Kafka producer in
// pkg/common/kafka is the production implementation; tests use in-memory
// fakes. Publish failures are the caller's to log, never to propagate.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, sessionID, sourceEngine string, data map[string]interface{}, priority int) error
}

// AuditLogger records one entry per de-identification operation.
type AuditLogger interface {
	LogEvent(ctx context.Context, eventType, sessionID string, details map[string]interface{}) error
}
