package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nexuspay/settlement-relay/api/responses"
	"github.com/nexuspay/settlement-relay/api/validators"
	"github.com/nexuspay/settlement-relay/internal/dlq"
	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/enums"
	pkgerrors "github.com/nexuspay/settlement-relay/pkg/errors"
	"github.com/nexuspay/settlement-relay/pkg/logger"
	"github.com/nexuspay/settlement-relay/pkg/pagination"
)

type DeadLetterService interface {
	List(ctx context.Context, filter dlq.ListFilter, params pagination.Params) (*dlq.Page, error)
	Replay(ctx context.Context, eventID string) (*models.DeadLetterEntry, error)
}

type deadLetterResponse struct {
	ID             string     `json:"id"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	Reason         string     `json:"reason"`
	LastError      *string    `json:"last_error,omitempty"`
	AttemptCount   int        `json:"attempt_count"`
	DeadLetteredAt time.Time  `json:"dead_lettered_at"`
	ReplayCount    int        `json:"replay_count"`
	ReplayedAt     *time.Time `json:"replayed_at,omitempty"`
}

func toDeadLetterResponse(entry models.DeadLetterEntry) deadLetterResponse {
	return deadLetterResponse{
		ID:             entry.ID.String(),
		EventID:        entry.EventID,
		EventType:      string(entry.EventType),
		Reason:         string(entry.Reason),
		LastError:      entry.LastError,
		AttemptCount:   entry.AttemptCount,
		DeadLetteredAt: entry.DeadLetteredAt,
		ReplayCount:    entry.ReplayCount,
		ReplayedAt:     entry.ReplayedAt,
	}
}

// DeadLetterList pages through the dead letter queue, newest first.
func DeadLetterList(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		since, err := validators.ParseQueryTime(r, "since")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		filter := dlq.ListFilter{
			Reason: enums.DLQReason(r.URL.Query().Get("reason")),
			Since:  since,
		}
		page, err := svc.List(ctx, filter, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		entries := make([]deadLetterResponse, 0, len(page.Entries))
		for _, entry := range page.Entries {
			entries = append(entries, toDeadLetterResponse(entry))
		}
		responses.WriteSuccess(w, map[string]any{
			"entries":     entries,
			"next_cursor": page.NextCursor,
		})
	}
}

// DeadLetterReplay returns one dead-lettered event to the pipeline.
func DeadLetterReplay(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		eventID := chi.URLParam(r, "eventID")
		if eventID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id is required"))
			return
		}

		entry, err := svc.Replay(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toDeadLetterResponse(*entry))
	}
}

type replayBatchRequest struct {
	EventIDs []string `json:"event_ids" validate:"required,min=1,max=100,dive,required"`
}

type replayBatchResult struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// DeadLetterReplayBatch replays a set of events, reporting per-event outcomes.
// Partial failure is expected; operators re-run with the failed subset.
func DeadLetterReplayBatch(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req replayBatchRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		results := make([]replayBatchResult, 0, len(req.EventIDs))
		for _, eventID := range req.EventIDs {
			if _, err := svc.Replay(ctx, eventID); err != nil {
				code := pkgerrors.CodeInternal
				if typed := pkgerrors.As(err); typed != nil {
					code = typed.Code()
				}
				results = append(results, replayBatchResult{
					EventID: eventID,
					Status:  "failed",
					Error:   string(code),
				})
				continue
			}
			results = append(results, replayBatchResult{EventID: eventID, Status: "replayed"})
		}
		responses.WriteSuccess(w, map[string]any{"results": results})
	}
}
