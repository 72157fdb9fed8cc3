package transactions

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/enums"
)

// Repository persists transaction lifecycle state.
type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// Create inserts a new transaction row.
func (r *Repository) Create(ctx context.Context, txn *models.Transaction) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

// FindByExternalID resolves a transaction by the provider-side identifier.
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*models.Transaction, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var txn models.Transaction
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// FindByExternalIDTx resolves and row-locks a transaction inside tx.
func (r *Repository) FindByExternalIDTx(tx *gorm.DB, externalID string) (*models.Transaction, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var txn models.Transaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_id = ?", externalID).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// UpdateSettlementTx persists a status transition and the settlement fields
// that arrived with it.
func (r *Repository) UpdateSettlementTx(tx *gorm.DB, txn *models.Transaction) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.Transaction{}).
		Where("id = ?", txn.ID).
		Updates(map[string]any{
			"status":         txn.Status,
			"tx_hash":        txn.TxHash,
			"failure_reason": txn.FailureReason,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// MarkReconciled stamps the transaction after a reconciliation sweep touched
// it. UpdateColumn skips the updated_at auto-touch: a sweep that merely polled
// must not reset the staleness clock, or a stuck transaction looks fresh
// after every cycle.
func (r *Repository) MarkReconciled(ctx context.Context, id string, at time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).
		UpdateColumn("last_reconciled_at", at).Error
}

// SelectStale returns non-terminal transactions whose last update is older
// than the cutoff, oldest first.
func (r *Repository) SelectStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.TransactionStatus{enums.TransactionPending, enums.TransactionProcessing}).
		Where("updated_at < ?", cutoff).
		Where("external_id IS NOT NULL").
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// CountStale counts non-terminal transactions older than the cutoff.
func (r *Repository) CountStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("status IN ?", []enums.TransactionStatus{enums.TransactionPending, enums.TransactionProcessing}).
		Where("updated_at < ?", cutoff).
		Count(&count).Error
	return count, err
}

// CountsByStatus aggregates transactions per lifecycle status.
func (r *Repository) CountsByStatus(ctx context.Context) (map[enums.TransactionStatus]int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	type row struct {
		Status enums.TransactionStatus
		Total  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.TransactionStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}
