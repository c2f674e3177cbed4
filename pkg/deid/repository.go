package deid

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&AuditRecord{}, &TokenRecord{})
}

// LogEvent implements events.AuditLogger.
func (r *Repository) LogEvent(ctx context.Context, eventType, sessionID string, details map[string]interface{}) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}
	record := AuditRecord{
		EventType: eventType,
		SessionID: sessionID,
		Details:   datatypes.JSON(payload),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&record).Error
}

func (r *Repository) SaveToken(ctx context.Context, sessionID, token, value string) error {
	record := TokenRecord{
		SessionID: sessionID,
		Token:     token,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Save(&record).Error
}

func (r *Repository) SessionTokens(ctx context.Context, sessionID string) (map[string]string, error) {
	var records []TokenRecord
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&records).Error; err != nil {
		return nil, err
	}
	tokens := make(map[string]string, len(records))
	for _, record := range records {
		tokens[record.Token] = record.Value
	}
	return tokens, nil
}
