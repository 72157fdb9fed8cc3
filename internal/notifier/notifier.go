package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/logger"
)

const defaultPublishTimeout = 15 * time.Second

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// ServiceParams configure the settlement notifier.
type ServiceParams struct {
	Logger    *logger.Logger
	Publisher *gcppubsub.Publisher

	// publisherOverride is used by tests.
	publisherOverride publisher
}

// Service publishes settlement notices to downstream consumers. Delivery is
// best-effort; the pipeline never blocks on it.
type Service struct {
	logg    *logger.Logger
	pub     publisher
	timeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	pub := params.publisherOverride
	if pub == nil {
		if params.Publisher == nil {
			return nil, errors.New("publisher is required")
		}
		pub = &gcpPublisher{Publisher: params.Publisher}
	}
	return &Service{
		logg:    params.Logger,
		pub:     pub,
		timeout: defaultPublishTimeout,
	}, nil
}

type settlementNotice struct {
	TransactionID string  `json:"transaction_id"`
	ExternalID    *string `json:"external_id,omitempty"`
	Kind          string  `json:"kind"`
	Status        string  `json:"status"`
	TxHash        *string `json:"tx_hash,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	EventID       string  `json:"event_id"`
	EventType     string  `json:"event_type"`
	OccurredAt    string  `json:"occurred_at"`
}

// TransactionSettled publishes a notice that the transaction reached a
// terminal status.
func (s *Service) TransactionSettled(ctx context.Context, txn models.Transaction, event models.InboundEvent) error {
	notice := settlementNotice{
		TransactionID: txn.ID.String(),
		ExternalID:    txn.ExternalID,
		Kind:          string(txn.Kind),
		Status:        string(txn.Status),
		TxHash:        txn.TxHash,
		FailureReason: txn.FailureReason,
		Amount:        txn.Amount.String(),
		Currency:      txn.Currency,
		EventID:       event.EventID,
		EventType:     string(event.EventType),
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}

	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal settlement notice: %w", err)
	}

	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_id":       event.EventID,
			"event_type":     string(event.EventType),
			"transaction_id": txn.ID.String(),
			"status":         string(txn.Status),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result := s.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish settlement notice: %w", err)
	}
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}
