package deid

import (
	"time"

	"gorm.io/datatypes"
)

// AuditRecord is one row per de-identification operation.
type AuditRecord struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType string         `gorm:"column:event_type;index" json:"event_type"`
	SessionID string         `gorm:"column:session_id;index" json:"session_id"`
	Details   datatypes.JSON `gorm:"column:details" json:"details"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (AuditRecord) TableName() string {
	return "deid_audit_log"
}

// TokenRecord mirrors a session's in-memory token map for durable recovery.
type TokenRecord struct {
	SessionID string    `gorm:"primaryKey;column:session_id" json:"session_id"`
	Token     string    `gorm:"primaryKey;column:token" json:"token"`
	Value     string    `gorm:"column:value" json:"value"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (TokenRecord) TableName() string {
	return "deid_token_vault"
}
