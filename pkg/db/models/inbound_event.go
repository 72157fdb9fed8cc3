package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexuspay/settlement-relay/pkg/enums"
)

// InboundEvent is the durable record of a provider notification. The unique
// event_id column is the idempotency boundary: a redelivered notification
// collides here and is acknowledged without a second row.
type InboundEvent struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	EventID          string                 `gorm:"column:event_id;uniqueIndex:idx_webhook_events_event_id;not null"`
	EventType        enums.EventType        `gorm:"column:event_type;not null"`
	SubscriptionID   string                 `gorm:"column:subscription_id"`
	SubjectID        string                 `gorm:"column:subject_id;index"`
	Payload          json.RawMessage        `gorm:"column:payload;type:jsonb;not null"`
	Signature        string                 `gorm:"column:signature"`
	Source           enums.EventSource      `gorm:"column:source;not null;default:webhook"`
	ProcessingStatus enums.ProcessingStatus `gorm:"column:processing_status;not null;default:received;index:idx_webhook_events_due,priority:1"`
	AttemptCount     int                    `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt    time.Time              `gorm:"column:next_attempt_at;not null;index:idx_webhook_events_due,priority:2"`
	ReceivedAt       time.Time              `gorm:"column:received_at;autoCreateTime"`
	AppliedAt        *time.Time             `gorm:"column:applied_at"`
	LastError        *string                `gorm:"column:last_error"`
}

// BeforeCreate assigns the id client-side so every driver behaves the same.
func (e *InboundEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// TableName keeps the historical table name.
func (InboundEvent) TableName() string {
	return "webhook_events"
}
