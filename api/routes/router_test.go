package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nexuspay/settlement-relay/api/controllers"
	"github.com/nexuspay/settlement-relay/internal/dlq"
	circlewebhook "github.com/nexuspay/settlement-relay/internal/webhooks/circle"
	"github.com/nexuspay/settlement-relay/pkg/config"
	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/enums"
	"github.com/nexuspay/settlement-relay/pkg/logger"
	"github.com/nexuspay/settlement-relay/pkg/pagination"
)

type fakeIngress struct{}

func (fakeIngress) Ingest(context.Context, []byte, string, string) (*circlewebhook.Result, error) {
	return &circlewebhook.Result{EventID: "notif-1", Accepted: true}, nil
}

type fakeDLQ struct{}

func (fakeDLQ) List(context.Context, dlq.ListFilter, pagination.Params) (*dlq.Page, error) {
	return &dlq.Page{}, nil
}

func (fakeDLQ) Replay(_ context.Context, eventID string) (*models.DeadLetterEntry, error) {
	return &models.DeadLetterEntry{EventID: eventID}, nil
}

type fakeEvents struct{}

func (fakeEvents) CountsByStatus(context.Context) (map[enums.ProcessingStatus]int64, error) {
	return map[enums.ProcessingStatus]int64{}, nil
}

type fakeTransactions struct{}

func (fakeTransactions) CountsByStatus(context.Context) (map[enums.TransactionStatus]int64, error) {
	return map[enums.TransactionStatus]int64{}, nil
}

func (fakeTransactions) CountStale(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeDepth struct{}

func (fakeDepth) Count(context.Context) (int64, error) { return 0, nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Env = "test"
	logg := logger.New(logger.Options{ServiceName: "router-test", Level: zerolog.Disabled})

	return NewRouter(RouterParams{
		Config:       cfg,
		Logger:       logg,
		Webhooks:     fakeIngress{},
		DeadLetters:  fakeDLQ{},
		Events:       fakeEvents{},
		Transactions: fakeTransactions{},
		DLQDepth:     fakeDepth{},
		ReadyChecks:  map[string]controllers.Pinger{},
		Metrics:      prometheus.NewRegistry(),
	})
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t)

	cases := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/health/live", "", http.StatusOK},
		{http.MethodGet, "/health/ready", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/api/v1/webhooks/circle", `{}`, http.StatusAccepted},
		{http.MethodHead, "/api/v1/webhooks/circle", "", http.StatusOK},
		{http.MethodGet, "/api/v1/ops/status", "", http.StatusOK},
		{http.MethodGet, "/api/v1/ops/dlq", "", http.StatusOK},
		{http.MethodPost, "/api/v1/ops/dlq/notif-1/replay", "", http.StatusOK},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}

	for _, tc := range cases {
		var body *strings.Reader
		if tc.body != "" {
			body = strings.NewReader(tc.body)
		} else {
			body = strings.NewReader("")
		}
		req := httptest.NewRequest(tc.method, tc.path, body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d (%s)", tc.method, tc.path, tc.status, rec.Code, rec.Body.String())
		}
	}
}

func TestRouter_RequestIDHeader(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected generated request id header")
	}

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") != "req-42" {
		t.Fatal("expected request id to be echoed")
	}
}
