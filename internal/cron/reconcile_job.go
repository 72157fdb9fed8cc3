package cron

import (
	"context"
	"fmt"
)

type sweeper interface {
	Sweep(ctx context.Context) error
}

// ReconcileJobParams configure the reconciliation cron job.
type ReconcileJobParams struct {
	Sweeper sweeper
}

// NewReconcileJob wraps the reconciliation sweeper as a cron job.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &reconcileJob{sweeper: params.Sweeper}, nil
}

type reconcileJob struct {
	sweeper sweeper
}

func (j *reconcileJob) Name() string { return "reconciliation" }

func (j *reconcileJob) Run(ctx context.Context) error {
	if err := j.sweeper.Sweep(ctx); err != nil {
		return fmt.Errorf("reconciliation sweep: %w", err)
	}
	return nil
}
