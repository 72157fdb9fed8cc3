package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexuspay/settlement-relay/pkg/db"
	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/enums"
)

const maxStoredErrorLen = 1024

// Repository persists inbound events.
type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// InsertIfNew stores the event unless one with the same event_id already
// exists. It reports whether a new row was created.
func (r *Repository) InsertIfNew(ctx context.Context, event models.InboundEvent) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if event.NextAttemptAt.IsZero() {
		event.NextAttemptAt = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).Create(&event).Error
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FindByEventID returns the stored event for the provider-assigned id, or nil.
func (r *Repository) FindByEventID(ctx context.Context, eventID string) (*models.InboundEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var event models.InboundEvent
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// FindDue returns events ready for an apply attempt, oldest first.
func (r *Repository) FindDue(ctx context.Context, limit int, now time.Time) ([]models.InboundEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []models.InboundEvent
	err := r.db.WithContext(ctx).
		Where("processing_status IN ?", []enums.ProcessingStatus{enums.ProcessingReceived, enums.ProcessingRetrying}).
		Where("next_attempt_at <= ?", now).
		Order("next_attempt_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindForApplyTx loads the event row under a row lock for the apply transaction.
func (r *Repository) FindForApplyTx(tx *gorm.DB, id uuid.UUID) (*models.InboundEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var event models.InboundEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// MarkAppliedTx records a successful apply.
func (r *Repository) MarkAppliedTx(tx *gorm.DB, id uuid.UUID, appliedAt time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.InboundEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processing_status": enums.ProcessingApplied,
			"applied_at":        appliedAt,
			"last_error":        nil,
		}).Error
}

// MarkRetrying schedules another attempt after a transient failure.
func (r *Repository) MarkRetrying(ctx context.Context, id uuid.UUID, attemptCount int, nextAttemptAt time.Time, cause error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.db.WithContext(ctx).Model(&models.InboundEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processing_status": enums.ProcessingRetrying,
			"attempt_count":     attemptCount,
			"next_attempt_at":   nextAttemptAt,
			"last_error":        storedError(cause),
		}).Error
}

// MarkDeadLetteredTx parks the event after a terminal failure.
func (r *Repository) MarkDeadLetteredTx(tx *gorm.DB, id uuid.UUID, attemptCount int, cause error) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.InboundEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processing_status": enums.ProcessingDeadLettered,
			"attempt_count":     attemptCount,
			"last_error":        storedError(cause),
		}).Error
}

// ResetForReplayTx returns a dead-lettered event to the queue with a fresh
// retry budget.
func (r *Repository) ResetForReplayTx(tx *gorm.DB, eventID string, now time.Time) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	result := tx.Model(&models.InboundEvent{}).
		Where("event_id = ? AND processing_status = ?", eventID, enums.ProcessingDeadLettered).
		Updates(map[string]any{
			"processing_status": enums.ProcessingReceived,
			"attempt_count":     0,
			"next_attempt_at":   now,
			"last_error":        nil,
			"source":            enums.SourceReplay,
		})
	return result.RowsAffected, result.Error
}

// CountsByStatus aggregates events per processing status.
func (r *Repository) CountsByStatus(ctx context.Context) (map[enums.ProcessingStatus]int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	type row struct {
		ProcessingStatus enums.ProcessingStatus
		Total            int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.InboundEvent{}).
		Select("processing_status, COUNT(*) AS total").
		Group("processing_status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.ProcessingStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.ProcessingStatus] = r.Total
	}
	return counts, nil
}

// DeleteAppliedBefore prunes applied events older than the cutoff. Dead
// lettered rows are never touched.
func (r *Repository) DeleteAppliedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	result := tx.WithContext(ctx).
		Where("processing_status = ? AND applied_at IS NOT NULL AND applied_at < ?", enums.ProcessingApplied, cutoff).
		Delete(&models.InboundEvent{})
	return result.RowsAffected, result.Error
}

func storedError(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > maxStoredErrorLen {
		msg = msg[:maxStoredErrorLen]
	}
	return &msg
}
