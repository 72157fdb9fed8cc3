package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nexuspay/settlement-relay/pkg/enums"
)

// Transaction tracks a payment operation through its settlement lifecycle.
// ExternalID is the provider-side identifier events and reconciliation key on.
type Transaction struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	ExternalID         *string                 `gorm:"column:external_id;uniqueIndex:idx_transactions_external_id"`
	Kind               enums.TransactionKind   `gorm:"column:kind;not null"`
	Status             enums.TransactionStatus `gorm:"column:status;not null;default:pending;index"`
	Amount             decimal.Decimal         `gorm:"column:amount;type:numeric(30,8);not null"`
	Currency           string                  `gorm:"column:currency;not null"`
	SourceAddress      string                  `gorm:"column:source_address"`
	DestinationAddress string                  `gorm:"column:destination_address"`
	WalletID           string                  `gorm:"column:wallet_id"`
	TxHash             *string                 `gorm:"column:tx_hash"`
	FailureReason      *string                 `gorm:"column:failure_reason"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
	LastReconciledAt   *time.Time              `gorm:"column:last_reconciled_at"`
}

// BeforeCreate assigns the id client-side so every driver behaves the same.
func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (Transaction) TableName() string {
	return "transactions"
}
