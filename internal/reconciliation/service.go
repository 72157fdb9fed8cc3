package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nexuspay/settlement-relay/pkg/circle"
	"github.com/nexuspay/settlement-relay/pkg/config"
	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/enums"
	pkgerrors "github.com/nexuspay/settlement-relay/pkg/errors"
	"github.com/nexuspay/settlement-relay/pkg/logger"
	"github.com/nexuspay/settlement-relay/pkg/metrics"
)

type providerClient interface {
	GetTransaction(ctx context.Context, transactionID string) (*circle.Transaction, error)
	GetCard(ctx context.Context, cardID string) (*circle.Card, error)
}

type transactionStore interface {
	SelectStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
	CountStale(ctx context.Context, cutoff time.Time) (int64, error)
	MarkReconciled(ctx context.Context, id string, at time.Time) error
}

type eventIngestor interface {
	InsertIfNew(ctx context.Context, event models.InboundEvent) (bool, error)
}

// ServiceParams configure the reconciliation sweeper.
type ServiceParams struct {
	Logger       *logger.Logger
	Config       config.ReconciliationConfig
	Provider     providerClient
	Transactions transactionStore
	Events       eventIngestor
	Metrics      *metrics.PipelineMetrics
	Now          func() time.Time
}

// Service polls the provider for transactions the webhook stream left behind.
// Provider state is folded back in as synthetic events so the regular applier
// remains the only writer of transaction status.
type Service struct {
	logg         *logger.Logger
	cfg          config.ReconciliationConfig
	provider     providerClient
	transactions transactionStore
	events       eventIngestor
	metrics      *metrics.PipelineMetrics
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Provider == nil {
		return nil, errors.New("provider client is required")
	}
	if params.Transactions == nil {
		return nil, errors.New("transaction store is required")
	}
	if params.Events == nil {
		return nil, errors.New("event ingestor is required")
	}
	cfg := params.Config
	if cfg.Staleness <= 0 {
		cfg.Staleness = 15 * time.Minute
	}
	if cfg.ExtendedStaleness <= 0 {
		cfg.ExtendedStaleness = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:         params.Logger,
		cfg:          cfg,
		provider:     params.Provider,
		transactions: params.Transactions,
		events:       params.Events,
		metrics:      params.Metrics,
		now:          now,
	}, nil
}

// Sweep performs one reconciliation pass.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now().UTC()
	cutoff := now.Add(-s.cfg.Staleness)

	stale, err := s.transactions.SelectStale(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("select stale transactions: %w", err)
	}

	staleCount, err := s.transactions.CountStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("count stale transactions: %w", err)
	}
	s.metrics.SetStaleTransactions(int(staleCount))

	extendedCutoff := now.Add(-s.cfg.ExtendedStaleness)
	extendedCount, err := s.transactions.CountStale(ctx, extendedCutoff)
	if err != nil {
		return fmt.Errorf("count extended stale transactions: %w", err)
	}
	s.metrics.SetExtendedStaleTransactions(int(extendedCount))
	if extendedCount > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"count":     extendedCount,
			"threshold": s.cfg.ExtendedStaleness.String(),
		})
		s.logg.Warn(logCtx, "transactions stuck beyond extended staleness threshold")
	}

	var polled, converged int
	for _, txn := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		created, err := s.reconcileOne(ctx, txn, now)
		if err != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"transaction_id": txn.ID.String(),
				"error":          err.Error(),
			})
			s.logg.Warn(logCtx, "reconciliation poll failed")
			continue
		}
		polled++
		if created {
			converged++
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"stale":     len(stale),
		"polled":    polled,
		"converged": converged,
	})
	s.logg.Info(logCtx, "reconciliation sweep complete")
	return nil
}

func (s *Service) reconcileOne(ctx context.Context, txn models.Transaction, now time.Time) (bool, error) {
	if txn.ExternalID == nil || *txn.ExternalID == "" {
		return false, nil
	}
	externalID := *txn.ExternalID

	remote, err := s.pollProvider(ctx, txn.Kind, externalID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			// The provider no longer knows this transaction. Flag it, keep
			// local state for operator review.
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"transaction_id": txn.ID.String(),
				"external_id":    externalID,
			})
			s.logg.Warn(logCtx, "transaction unknown at provider")
			return false, s.transactions.MarkReconciled(ctx, txn.ID.String(), now)
		}
		return false, err
	}

	created := false
	if remote.terminal {
		eventType, ok := syntheticEventType(txn.Kind, remote.succeeded)
		if ok {
			event, err := s.buildSyntheticEvent(txn, remote, eventType, now)
			if err != nil {
				return false, err
			}
			created, err = s.events.InsertIfNew(ctx, event)
			if err != nil {
				return false, fmt.Errorf("enqueue synthetic event: %w", err)
			}
			if created {
				s.metrics.IncReceived(string(enums.SourceReconciliation))
			}
		}
	}

	if err := s.transactions.MarkReconciled(ctx, txn.ID.String(), now); err != nil {
		return created, err
	}
	return created, nil
}

// providerView normalizes the two provider resources the sweep can poll.
type providerView struct {
	state     string
	txHash    string
	terminal  bool
	succeeded bool
}

// pollProvider fetches current provider state. Card transactions live on a
// separate provider endpoint; everything else is a w3s transaction.
func (s *Service) pollProvider(ctx context.Context, kind enums.TransactionKind, externalID string) (providerView, error) {
	if kind == enums.KindCard {
		card, err := s.provider.GetCard(ctx, externalID)
		if err != nil {
			return providerView{}, err
		}
		return providerView{
			state:     card.Status,
			terminal:  card.IsTerminal(),
			succeeded: card.Succeeded(),
		}, nil
	}

	remote, err := s.provider.GetTransaction(ctx, externalID)
	if err != nil {
		return providerView{}, err
	}
	return providerView{
		state:     remote.State,
		txHash:    remote.TxHash,
		terminal:  remote.IsTerminal(),
		succeeded: remote.Succeeded(),
	}, nil
}

// syntheticEventType maps a provider outcome back onto the event vocabulary
// the applier understands. A settled card surfaces as card.updated, which the
// state machine treats as a completion.
func syntheticEventType(kind enums.TransactionKind, succeeded bool) (enums.EventType, bool) {
	switch kind {
	case enums.KindMint:
		if succeeded {
			return enums.EventMintCompleted, true
		}
		return enums.EventMintFailed, true
	case enums.KindRedeem:
		if succeeded {
			return enums.EventRedeemCompleted, true
		}
		return enums.EventRedeemFailed, true
	case enums.KindTransfer:
		if succeeded {
			return enums.EventTransferCompleted, true
		}
		return enums.EventTransferFailed, true
	case enums.KindCard:
		if succeeded {
			return enums.EventCardUpdated, true
		}
		return enums.EventCardFailed, true
	default:
		return "", false
	}
}

func (s *Service) buildSyntheticEvent(txn models.Transaction, remote providerView, eventType enums.EventType, now time.Time) (models.InboundEvent, error) {
	payload, err := json.Marshal(map[string]any{
		"notification": map[string]any{
			"txHash": remote.txHash,
			"state":  remote.state,
		},
	})
	if err != nil {
		return models.InboundEvent{}, fmt.Errorf("marshal synthetic payload: %w", err)
	}

	return models.InboundEvent{
		EventID:          fmt.Sprintf("recon:%s:%s", *txn.ExternalID, eventType),
		EventType:        eventType,
		SubjectID:        *txn.ExternalID,
		Payload:          payload,
		Source:           enums.SourceReconciliation,
		ProcessingStatus: enums.ProcessingReceived,
		NextAttemptAt:    now,
	}, nil
}
