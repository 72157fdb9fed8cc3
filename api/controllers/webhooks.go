package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/nexuspay/settlement-relay/api/responses"
	circlewebhook "github.com/nexuspay/settlement-relay/internal/webhooks/circle"
	pkgerrors "github.com/nexuspay/settlement-relay/pkg/errors"
	"github.com/nexuspay/settlement-relay/pkg/logger"
)

const (
	signatureHeader = "Circle-Signature"
	timestampHeader = "Circle-Timestamp"

	// Providers retry on timeout; cap the body so a runaway delivery cannot
	// hold a connection open.
	maxWebhookBody = 1 << 20
)

type WebhookIngressService interface {
	Ingest(ctx context.Context, body []byte, signature, timestamp string) (*circlewebhook.Result, error)
}

// CircleWebhook accepts provider notification deliveries. A 2xx acknowledges
// receipt only; the event is applied asynchronously by the pipeline worker.
func CircleWebhook(svc WebhookIngressService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		result, err := svc.Ingest(ctx, body, r.Header.Get(signatureHeader), r.Header.Get(timestampHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := "accepted"
		switch {
		case result.Duplicate:
			status = "duplicate"
		case result.Filtered:
			status = "ignored"
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{
			"event_id": result.EventID,
			"status":   status,
		})
	}
}

// CircleWebhookVerify answers the provider's endpoint verification probe.
func CircleWebhookVerify() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}
