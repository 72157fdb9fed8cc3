package circle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/enums"
	pkgerrors "github.com/nexuspay/settlement-relay/pkg/errors"
	"github.com/nexuspay/settlement-relay/pkg/logger"
	"github.com/nexuspay/settlement-relay/pkg/metrics"
)

type eventStore interface {
	InsertIfNew(ctx context.Context, event models.InboundEvent) (bool, error)
}

const defaultMaxSkew = 5 * time.Minute

// ServiceParams configure the webhook ingress service. MaxSkew bounds how far
// a delivery timestamp may drift from the server clock; zero uses the default.
type ServiceParams struct {
	Logger  *logger.Logger
	Secret  string
	Events  eventStore
	Metrics *metrics.PipelineMetrics
	MaxSkew time.Duration
	Now     func() time.Time
}

// Service authenticates and persists provider webhook deliveries. Ingress
// only records the event; applying it to transaction state happens in the
// pipeline worker.
type Service struct {
	logg    *logger.Logger
	secret  string
	events  eventStore
	metrics *metrics.PipelineMetrics
	maxSkew time.Duration
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if params.Events == nil {
		return nil, errors.New("event store is required")
	}
	maxSkew := params.MaxSkew
	if maxSkew <= 0 {
		maxSkew = defaultMaxSkew
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:    params.Logger,
		secret:  params.Secret,
		events:  params.Events,
		metrics: params.Metrics,
		maxSkew: maxSkew,
		now:     now,
	}, nil
}

type notificationEnvelope struct {
	SubscriptionID   string          `json:"subscriptionId"`
	NotificationID   string          `json:"notificationId"`
	NotificationType string          `json:"notificationType"`
	Notification     json.RawMessage `json:"notification"`
	Timestamp        string          `json:"timestamp"`
	Version          int             `json:"version"`
}

type notificationSubject struct {
	TransactionID string `json:"transactionId"`
	ID            string `json:"id"`
}

// Result describes what ingress did with a delivery.
type Result struct {
	EventID   string
	Accepted  bool
	Duplicate bool
	Filtered  bool
}

// Ingest verifies a delivery and records it for processing. The raw body is
// the exact bytes the signature covers; never a re-serialization.
func (s *Service) Ingest(ctx context.Context, body []byte, signature, timestamp string) (*Result, error) {
	if !VerifySignature(s.secret, signature, timestamp, body) {
		s.metrics.IncSignatureFailure()
		s.logg.Security(ctx, "webhook delivery rejected: invalid signature")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}

	// The timestamp is covered by the signature, so a bounded window on it
	// limits how long a captured delivery can be replayed.
	signedAt, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		s.metrics.IncSignatureFailure()
		s.logg.Security(ctx, "webhook delivery rejected: unparseable timestamp")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook timestamp")
	}
	if drift := s.now().UTC().Sub(signedAt); drift > s.maxSkew || drift < -s.maxSkew {
		s.metrics.IncSignatureFailure()
		s.logg.Security(ctx, "webhook delivery rejected: timestamp outside allowed window")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook timestamp outside allowed window")
	}

	var envelope notificationEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	if envelope.NotificationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notificationId is required")
	}
	if envelope.NotificationType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notificationType is required")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.NotificationID,
		"event_type": envelope.NotificationType,
	})

	eventType, err := enums.ParseEventType(envelope.NotificationType)
	if err != nil {
		// Not a subscribed notification type. Acknowledge so the provider
		// stops redelivering, but keep nothing.
		s.logg.Info(logCtx, "unsubscribed notification type, ignoring")
		return &Result{EventID: envelope.NotificationID, Filtered: true}, nil
	}

	if eventType == enums.EventWebhookTest {
		s.logg.Info(logCtx, "test notification acknowledged")
		return &Result{EventID: envelope.NotificationID, Filtered: true}, nil
	}

	var subject notificationSubject
	if len(envelope.Notification) > 0 {
		_ = json.Unmarshal(envelope.Notification, &subject)
	}
	subjectID := subject.TransactionID
	if subjectID == "" {
		subjectID = subject.ID
	}

	event := models.InboundEvent{
		EventID:          envelope.NotificationID,
		EventType:        eventType,
		SubscriptionID:   envelope.SubscriptionID,
		SubjectID:        subjectID,
		Payload:          body,
		Signature:        signature,
		Source:           enums.SourceWebhook,
		ProcessingStatus: enums.ProcessingReceived,
		NextAttemptAt:    s.now().UTC(),
	}

	created, err := s.events.InsertIfNew(ctx, event)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist webhook event")
	}
	if !created {
		s.logg.Info(logCtx, "duplicate delivery acknowledged")
		return &Result{EventID: envelope.NotificationID, Duplicate: true}, nil
	}

	s.metrics.IncReceived(string(enums.SourceWebhook))
	s.logg.Info(logCtx, "webhook event recorded")
	return &Result{EventID: envelope.NotificationID, Accepted: true}, nil
}
