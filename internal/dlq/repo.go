package dlq

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/enums"
	"github.com/nexuspay/settlement-relay/pkg/pagination"
)

const maxDLQErrorLen = 1024

// Repository persists dead letter entries.
type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// InsertTx records a dead letter entry inside the caller's transaction. A
// replayed event that exhausts its fresh budget lands here again, so an
// existing row for the event is refreshed rather than violating the unique
// event_id index; replay bookkeeping survives the refresh.
func (r *Repository) InsertTx(tx *gorm.DB, entry models.DeadLetterEntry) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.LastError != nil {
		msg := truncateError(*entry.LastError)
		entry.LastError = &msg
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"event_type", "reason", "last_error", "attempt_count", "dead_lettered_at",
		}),
	}).Create(&entry).Error
}

// FindByEventID returns the entry for the provider event id, or nil.
func (r *Repository) FindByEventID(ctx context.Context, eventID string) (*models.DeadLetterEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var entry models.DeadLetterEntry
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListFilter narrows a dead letter listing.
type ListFilter struct {
	Reason enums.DLQReason
	Since  time.Time
}

// List returns entries newest first, keyed by (dead_lettered_at, id) cursor.
func (r *Repository) List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.DeadLetterEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	query := r.db.WithContext(ctx).Model(&models.DeadLetterEntry{})
	if filter.Reason != "" {
		query = query.Where("reason = ?", filter.Reason)
	}
	if !filter.Since.IsZero() {
		query = query.Where("dead_lettered_at >= ?", filter.Since)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"dead_lettered_at < ? OR (dead_lettered_at = ? AND id < ?)",
			cursor.Timestamp, cursor.Timestamp, cursor.ID,
		)
	}

	var rows []models.DeadLetterEntry
	err = query.
		Order("dead_lettered_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	return rows, err
}

// MarkReplayedTx bumps the replay bookkeeping for an entry.
func (r *Repository) MarkReplayedTx(tx *gorm.DB, eventID string, at time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.DeadLetterEntry{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"replay_count": gorm.Expr("replay_count + 1"),
			"replayed_at":  at,
		}).Error
}

// Count returns the total number of entries.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DeadLetterEntry{}).Count(&count).Error
	return count, err
}

func truncateError(message string) string {
	if len(message) <= maxDLQErrorLen {
		return message
	}
	return message[:maxDLQErrorLen]
}
