package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexuspay/settlement-relay/pkg/enums"
)

// DeadLetterEntry captures events that exhausted their retry budget or failed
// validation. Rows are append-only except for the replay bookkeeping columns.
type DeadLetterEntry struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	EventID        string                 `gorm:"column:event_id;uniqueIndex:idx_webhook_dlq_event_id;not null"`
	EventType      enums.EventType        `gorm:"column:event_type;not null"`
	Reason         enums.DLQReason        `gorm:"column:reason;not null;index"`
	LastError      *string                `gorm:"column:last_error"`
	AttemptCount   int                    `gorm:"column:attempt_count;not null;default:0"`
	DeadLetteredAt time.Time              `gorm:"column:dead_lettered_at;autoCreateTime;index"`
	ReplayCount    int                    `gorm:"column:replay_count;not null;default:0"`
	ReplayedAt     *time.Time             `gorm:"column:replayed_at"`
}

// BeforeCreate assigns the id client-side so every driver behaves the same.
func (d *DeadLetterEntry) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (DeadLetterEntry) TableName() string {
	return "webhook_dlq"
}
