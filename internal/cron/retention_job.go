package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nexuspay/settlement-relay/pkg/logger"
)

const defaultRetentionDays = 30

type txRunner interface {
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type appliedEventPruner interface {
	DeleteAppliedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// RetentionJobParams configure the applied-event retention job.
type RetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Events        appliedEventPruner
	RetentionDays int
}

// NewRetentionJob prunes applied webhook events past the retention window.
// Dead lettered events are untouched; the DLQ is an audit surface.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event repository required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = defaultRetentionDays
	}
	return &retentionJob{
		logg:      params.Logger,
		db:        params.DB,
		events:    params.Events,
		retention: retention,
		now:       time.Now,
	}, nil
}

type retentionJob struct {
	logg      *logger.Logger
	db        txRunner
	events    appliedEventPruner
	retention int
	now       func() time.Time
}

func (j *retentionJob) Name() string { return "event-retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.events.DeleteAppliedBefore(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("event retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "applied event retention complete")
	return nil
}
