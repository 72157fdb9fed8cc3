package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/nexuspay/settlement-relay/api/responses"
	"github.com/nexuspay/settlement-relay/pkg/config"
	"github.com/nexuspay/settlement-relay/pkg/enums"
	pkgerrors "github.com/nexuspay/settlement-relay/pkg/errors"
	"github.com/nexuspay/settlement-relay/pkg/logger"
)

type EventCounter interface {
	CountsByStatus(ctx context.Context) (map[enums.ProcessingStatus]int64, error)
}

type TransactionCounter interface {
	CountsByStatus(ctx context.Context) (map[enums.TransactionStatus]int64, error)
	CountStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type DeadLetterCounter interface {
	Count(ctx context.Context) (int64, error)
}

// PipelineStatus summarizes queue depth for operators: how many events sit in
// each processing state, transaction status distribution, stale transaction
// counts against the reconciliation windows, and DLQ depth.
func PipelineStatus(events EventCounter, transactions TransactionCounter, deadLetters DeadLetterCounter, reconcileCfg config.ReconciliationConfig, logg *logger.Logger) http.HandlerFunc {
	staleness := reconcileCfg.Staleness
	if staleness <= 0 {
		staleness = 15 * time.Minute
	}
	extendedStaleness := reconcileCfg.ExtendedStaleness
	if extendedStaleness <= 0 {
		extendedStaleness = 24 * time.Hour
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		eventCounts, err := events.CountsByStatus(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count events"))
			return
		}
		txCounts, err := transactions.CountsByStatus(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count transactions"))
			return
		}

		now := time.Now().UTC()
		staleCount, err := transactions.CountStale(ctx, now.Add(-staleness))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count stale transactions"))
			return
		}
		extendedStaleCount, err := transactions.CountStale(ctx, now.Add(-extendedStaleness))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count extended stale transactions"))
			return
		}

		dlqDepth, err := deadLetters.Count(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count dead letters"))
			return
		}

		eventsOut := map[string]int64{}
		for status, count := range eventCounts {
			eventsOut[string(status)] = count
		}
		txOut := map[string]int64{}
		for status, count := range txCounts {
			txOut[string(status)] = count
		}

		responses.WriteSuccess(w, map[string]any{
			"events":                      eventsOut,
			"transactions":                txOut,
			"stale_transactions":          staleCount,
			"extended_stale_transactions": extendedStaleCount,
			"dlq_depth":                   dlqDepth,
		})
	}
}
