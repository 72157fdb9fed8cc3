package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/enums"
	pkgerrors "github.com/nexuspay/settlement-relay/pkg/errors"
	"github.com/nexuspay/settlement-relay/pkg/logger"
	"github.com/nexuspay/settlement-relay/pkg/metrics"
)

type txRunner interface {
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type eventStore interface {
	FindForApplyTx(tx *gorm.DB, id uuid.UUID) (*models.InboundEvent, error)
	MarkAppliedTx(tx *gorm.DB, id uuid.UUID, appliedAt time.Time) error
}

type transactionStore interface {
	FindByExternalIDTx(tx *gorm.DB, externalID string) (*models.Transaction, error)
	UpdateSettlementTx(tx *gorm.DB, txn *models.Transaction) error
}

// Notifier publishes a settlement change after it has been committed.
type Notifier interface {
	TransactionSettled(ctx context.Context, txn models.Transaction, event models.InboundEvent) error
}

// ApplierParams configure the event applier.
type ApplierParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Events       eventStore
	Transactions transactionStore
	Notifier     Notifier
	Metrics      *metrics.PipelineMetrics
	Now          func() time.Time
}

// Applier applies one inbound event to the transaction it references. The
// event row and the transaction mutation commit in a single database
// transaction, so a crash between them cannot double-apply.
type Applier struct {
	logg         *logger.Logger
	db           txRunner
	events       eventStore
	transactions transactionStore
	notifier     Notifier
	metrics      *metrics.PipelineMetrics
	now          func() time.Time
}

func NewApplier(params ApplierParams) (*Applier, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Events == nil {
		return nil, errors.New("event store is required")
	}
	if params.Transactions == nil {
		return nil, errors.New("transaction store is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Applier{
		logg:         params.Logger,
		db:           params.DB,
		events:       params.Events,
		transactions: params.Transactions,
		notifier:     params.Notifier,
		metrics:      params.Metrics,
		now:          now,
	}, nil
}

type settlementPayload struct {
	Notification struct {
		TxHash      string `json:"txHash"`
		ErrorReason string `json:"errorReason"`
	} `json:"notification"`
}

// Apply processes a single event by id. A nil return means the event is now
// applied (or was already). Errors carry a code: validation errors are
// terminal, everything else is retryable.
func (a *Applier) Apply(ctx context.Context, eventID uuid.UUID) error {
	start := a.now()
	var (
		settled  *models.Transaction
		applied  *models.InboundEvent
		notified bool
	)

	err := a.db.WithTx(ctx, func(tx *gorm.DB) error {
		event, err := a.events.FindForApplyTx(tx, eventID)
		if err != nil {
			return fmt.Errorf("load event: %w", err)
		}
		if event == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "event no longer exists")
		}
		if event.ProcessingStatus == enums.ProcessingApplied {
			return nil
		}

		if event.EventType == enums.EventWebhookTest {
			return a.events.MarkAppliedTx(tx, event.ID, a.now().UTC())
		}

		if event.SubjectID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "event carries no transaction reference")
		}

		txn, err := a.transactions.FindByExternalIDTx(tx, event.SubjectID)
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}
		if txn == nil {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("no transaction for subject %s", event.SubjectID))
		}

		if txn.Status.IsTerminal() {
			// Late or duplicate delivery after settlement. Ack it, keep state.
			logCtx := a.logg.WithFields(ctx, map[string]any{
				"event_id":       event.EventID,
				"transaction_id": txn.ID.String(),
				"status":         txn.Status,
			})
			a.logg.Info(logCtx, "event arrived after settlement, ignoring")
			return a.events.MarkAppliedTx(tx, event.ID, a.now().UTC())
		}

		next, err := NextStatus(txn.Status, event.EventType)
		if err != nil {
			return err
		}

		var payload settlementPayload
		if len(event.Payload) > 0 {
			// Payload details are best-effort; a malformed notification body
			// still settles the status transition.
			_ = json.Unmarshal(event.Payload, &payload)
		}

		txn.Status = next
		if payload.Notification.TxHash != "" {
			hash := payload.Notification.TxHash
			txn.TxHash = &hash
		}
		if next == enums.TransactionFailed {
			reason := payload.Notification.ErrorReason
			if reason == "" {
				reason = string(event.EventType)
			}
			txn.FailureReason = &reason
		}

		if err := a.transactions.UpdateSettlementTx(tx, txn); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		if err := a.events.MarkAppliedTx(tx, event.ID, a.now().UTC()); err != nil {
			return fmt.Errorf("mark applied: %w", err)
		}

		settled = txn
		applied = event
		notified = next.IsTerminal()
		return nil
	})

	a.metrics.ObserveApplyDuration(time.Since(start))
	if err != nil {
		return err
	}

	a.metrics.IncApplied()

	if notified && a.notifier != nil && settled != nil && applied != nil {
		// Post-commit and best-effort: a notification failure never unwinds
		// the settled state.
		if notifyErr := a.notifier.TransactionSettled(ctx, *settled, *applied); notifyErr != nil {
			logCtx := a.logg.WithFields(ctx, map[string]any{
				"event_id":       applied.EventID,
				"transaction_id": settled.ID.String(),
			})
			a.logg.Warn(a.logg.WithField(logCtx, "error", notifyErr.Error()), "settlement notification failed")
		}
	}

	return nil
}
