package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/nexuspay/settlement-relay/pkg/config"
	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/enums"
	pkgerrors "github.com/nexuspay/settlement-relay/pkg/errors"
	"github.com/nexuspay/settlement-relay/pkg/logger"
	"github.com/nexuspay/settlement-relay/pkg/metrics"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultWorkers      = 8
	defaultInFlightTTL  = 2 * time.Minute
	maxBackoff          = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type eventRepository interface {
	FindDue(ctx context.Context, limit int, now time.Time) ([]models.InboundEvent, error)
	MarkRetrying(ctx context.Context, id uuid.UUID, attemptCount int, nextAttemptAt time.Time, cause error) error
	MarkDeadLetteredTx(tx *gorm.DB, id uuid.UUID, attemptCount int, cause error) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.DeadLetterEntry) error
}

type eventApplier interface {
	Apply(ctx context.Context, eventID uuid.UUID) error
}

type retryPolicy interface {
	Delay(attempt int) time.Duration
	Exhausted(attemptCount int) bool
}

type inFlightStore interface {
	Ping(context.Context) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	InFlightKey(eventID string) string
}

type ServiceParams struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      dbClient
	Redis   inFlightStore
	Events  eventRepository
	DLQ     dlqRepository
	Applier eventApplier
	Policy  retryPolicy
	Metrics *metrics.PipelineMetrics
	Now     func() time.Time
}

// Service drains due inbound events and applies them through the idempotent
// applier, classifying failures into retries or dead letters.
type Service struct {
	cfg          *config.Config
	logg         *logger.Logger
	db           dbClient
	redis        inFlightStore
	events       eventRepository
	dlq          dlqRepository
	applier      eventApplier
	policy       retryPolicy
	metrics      *metrics.PipelineMetrics
	now          func() time.Time
	batchSize    int
	workers      int
	pollInterval time.Duration
	inFlightTTL  time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.Events == nil {
		return nil, errors.New("event repository is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dlq repository is required")
	}
	if params.Applier == nil {
		return nil, errors.New("applier is required")
	}
	if params.Policy == nil {
		return nil, errors.New("retry policy is required")
	}

	now := params.Now
	if now == nil {
		now = time.Now
	}

	batch := params.Config.Pipeline.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	workers := params.Config.Pipeline.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	poll := params.Config.Pipeline.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ttl := params.Config.Pipeline.InFlightTTL
	if ttl <= 0 {
		ttl = defaultInFlightTTL
	}

	return &Service{
		cfg:          params.Config,
		logg:         params.Logger,
		db:           params.DB,
		redis:        params.Redis,
		events:       params.Events,
		dlq:          params.DLQ,
		applier:      params.Applier,
		policy:       params.Policy,
		metrics:      params.Metrics,
		now:          now,
		batchSize:    batch,
		workers:      workers,
		pollInterval: poll,
		inFlightTTL:  ttl,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "pipeline worker context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "pipeline batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if processed {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// processBatch drains one batch of due events across the worker pool. A
// per-event failure is classified and recorded; only infrastructure errors
// (fetch failures) bubble up to the poll loop.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	events, err := s.events.FindDue(ctx, s.batchSize, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("fetch due events: %w", err)
	}
	if len(events) == 0 {
		return false, nil
	}

	queue := make(chan models.InboundEvent)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)

	workers := s.workers
	if workers > len(events) {
		workers = len(events)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for event := range queue {
				if err := s.processEvent(ctx, event); err != nil {
					mu.Lock()
					errs = multierr.Append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}

	for _, event := range events {
		queue <- event
	}
	close(queue)
	wg.Wait()

	return true, errs
}

// processEvent applies one event behind a redis in-flight gate so concurrent
// workers never double-apply. Returned errors are infrastructure failures;
// apply failures are classified and absorbed here.
func (s *Service) processEvent(ctx context.Context, event models.InboundEvent) error {
	key := s.redis.InFlightKey(event.EventID)
	acquired, err := s.redis.SetNX(ctx, key, "1", s.inFlightTTL)
	if err != nil {
		return fmt.Errorf("acquire in-flight gate %s: %w", event.EventID, err)
	}
	if !acquired {
		return nil
	}
	defer func() {
		if delErr := s.redis.Del(ctx, key); delErr != nil {
			delCtx := s.logg.WithEventID(ctx, event.EventID)
			s.logg.Error(delCtx, "failed to release in-flight gate", delErr)
		}
	}()

	applyErr := s.applier.Apply(ctx, event.ID)
	if applyErr == nil {
		return nil
	}
	return s.classifyFailure(ctx, event, applyErr)
}

func (s *Service) classifyFailure(ctx context.Context, event models.InboundEvent, applyErr error) error {
	attempt := event.AttemptCount + 1
	fields := map[string]any{
		"event_id":      event.EventID,
		"event_type":    event.EventType,
		"attempt_count": attempt,
		"error":         applyErr.Error(),
	}

	if !pkgerrors.IsRetryable(applyErr) {
		s.logg.Warn(s.logg.WithFields(ctx, fields), "event rejected, dead lettering")
		return s.deadLetter(ctx, event, attempt, enums.DLQReasonValidation, applyErr)
	}

	if s.policy.Exhausted(attempt) {
		fields["terminal_reason"] = "max_attempts"
		s.logg.Warn(s.logg.WithFields(ctx, fields), "retry budget exhausted, dead lettering")
		terminalErr := fmt.Errorf("max apply attempts reached: %w", applyErr)
		return s.deadLetter(ctx, event, attempt, enums.DLQReasonMaxAttempts, terminalErr)
	}

	nextAttemptAt := s.now().UTC().Add(s.policy.Delay(attempt))
	fields["next_attempt_at"] = nextAttemptAt
	s.logg.Warn(s.logg.WithFields(ctx, fields), "event apply failed, scheduling retry")
	if err := s.events.MarkRetrying(ctx, event.ID, attempt, nextAttemptAt, applyErr); err != nil {
		return fmt.Errorf("mark retrying %s: %w", event.EventID, err)
	}
	s.metrics.IncRetried()
	return nil
}

// deadLetter records the DLQ entry and flips the event status in one
// transaction so the queue never holds an entry for a live event.
func (s *Service) deadLetter(ctx context.Context, event models.InboundEvent, attempt int, reason enums.DLQReason, cause error) error {
	message := cause.Error()
	entry := models.DeadLetterEntry{
		EventID:      event.EventID,
		EventType:    event.EventType,
		Reason:       reason,
		LastError:    &message,
		AttemptCount: attempt,
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dead letter %s: %w", event.EventID, err)
		}
		if err := s.events.MarkDeadLetteredTx(tx, event.ID, attempt, cause); err != nil {
			return fmt.Errorf("mark dead lettered %s: %w", event.EventID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.IncDeadLettered(string(reason))
	return nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
