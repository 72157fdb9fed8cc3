package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nexuspay/settlement-relay/pkg/db/models"
	pkgerrors "github.com/nexuspay/settlement-relay/pkg/errors"
	"github.com/nexuspay/settlement-relay/pkg/logger"
	"github.com/nexuspay/settlement-relay/pkg/pagination"
)

type txRunner interface {
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type entryStore interface {
	FindByEventID(ctx context.Context, eventID string) (*models.DeadLetterEntry, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.DeadLetterEntry, error)
	MarkReplayedTx(tx *gorm.DB, eventID string, at time.Time) error
}

type eventResetter interface {
	ResetForReplayTx(tx *gorm.DB, eventID string, now time.Time) (int64, error)
}

// ServiceParams configure the dead letter service.
type ServiceParams struct {
	Logger  *logger.Logger
	DB      txRunner
	Entries entryStore
	Events  eventResetter
	Now     func() time.Time
}

// Service exposes operator-facing inspection and replay of dead letters.
type Service struct {
	logg    *logger.Logger
	db      txRunner
	entries entryStore
	events  eventResetter
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Entries == nil {
		return nil, errors.New("entry store is required")
	}
	if params.Events == nil {
		return nil, errors.New("event resetter is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:    params.Logger,
		db:      params.DB,
		entries: params.Entries,
		events:  params.Events,
		now:     now,
	}, nil
}

// Page is one listing page plus the cursor for the next one.
type Page struct {
	Entries    []models.DeadLetterEntry
	NextCursor string
}

// List returns a page of entries matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter, params pagination.Params) (*Page, error) {
	if filter.Reason != "" && !filter.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("unknown dead letter reason %q", filter.Reason))
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.entries.List(ctx, filter, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list dead letters")
	}

	page := &Page{Entries: rows}
	if len(rows) > limit {
		page.Entries = rows[:limit]
		last := page.Entries[len(page.Entries)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			Timestamp: last.DeadLetteredAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

// Replay returns a dead-lettered event to the pipeline with a fresh retry
// budget. The entry stays in the queue for auditing, with its replay count
// bumped.
func (s *Service) Replay(ctx context.Context, eventID string) (*models.DeadLetterEntry, error) {
	entry, err := s.entries.FindByEventID(ctx, eventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load dead letter entry")
	}
	if entry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound,
			fmt.Sprintf("no dead letter entry for event %s", eventID))
	}

	now := s.now().UTC()
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.events.ResetForReplayTx(tx, eventID, now)
		if err != nil {
			return fmt.Errorf("reset event: %w", err)
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("event %s is not dead lettered", eventID))
		}
		if err := s.entries.MarkReplayedTx(tx, eventID, now); err != nil {
			return fmt.Errorf("mark replayed: %w", err)
		}
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "replay dead letter")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_id": eventID,
		"reason":   entry.Reason,
	})
	s.logg.Info(logCtx, "dead letter replayed")

	entry.ReplayCount++
	entry.ReplayedAt = &now
	return entry, nil
}
