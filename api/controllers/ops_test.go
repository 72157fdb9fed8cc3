package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexuspay/settlement-relay/pkg/config"
	"github.com/nexuspay/settlement-relay/pkg/enums"
	"github.com/nexuspay/settlement-relay/pkg/types"
)

type stubEventCounter struct {
	counts map[enums.ProcessingStatus]int64
	err    error
}

func (s *stubEventCounter) CountsByStatus(_ context.Context) (map[enums.ProcessingStatus]int64, error) {
	return s.counts, s.err
}

type stubTxCounter struct {
	counts map[enums.TransactionStatus]int64
	stale  int64
}

func (s *stubTxCounter) CountsByStatus(_ context.Context) (map[enums.TransactionStatus]int64, error) {
	return s.counts, nil
}

func (s *stubTxCounter) CountStale(_ context.Context, _ time.Time) (int64, error) {
	return s.stale, nil
}

type stubDLQCounter struct{ depth int64 }

func (s *stubDLQCounter) Count(_ context.Context) (int64, error) {
	return s.depth, nil
}

type stubPinger struct{ err error }

func (s *stubPinger) Ping(_ context.Context) error { return s.err }

func TestPipelineStatus(t *testing.T) {
	handler := PipelineStatus(
		&stubEventCounter{counts: map[enums.ProcessingStatus]int64{
			enums.ProcessingReceived: 3,
			enums.ProcessingApplied:  12,
		}},
		&stubTxCounter{counts: map[enums.TransactionStatus]int64{
			enums.TransactionCompleted: 10,
		}, stale: 4},
		&stubDLQCounter{depth: 2},
		config.ReconciliationConfig{},
		testLogger(),
	)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ops/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var envelope types.SuccessEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	data := envelope.Data.(map[string]any)
	events := data["events"].(map[string]any)
	if events["received"] != float64(3) || events["applied"] != float64(12) {
		t.Fatalf("unexpected event counts %v", events)
	}
	if data["dlq_depth"] != float64(2) {
		t.Fatalf("unexpected dlq depth %v", data["dlq_depth"])
	}
	if data["stale_transactions"] != float64(4) {
		t.Fatalf("unexpected stale count %v", data["stale_transactions"])
	}
}

func TestPipelineStatus_CountError(t *testing.T) {
	handler := PipelineStatus(
		&stubEventCounter{err: errors.New("db down")},
		&stubTxCounter{},
		&stubDLQCounter{},
		config.ReconciliationConfig{},
		testLogger(),
	)
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ops/status", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{}
	cfg.App.Env = "test"

	handler := HealthReady(cfg, testLogger(), map[string]Pinger{
		"postgres": &stubPinger{},
		"redis":    &stubPinger{},
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var envelope types.SuccessEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	data := envelope.Data.(map[string]any)
	if data["status"] != "ready" {
		t.Fatalf("unexpected state %v", data["status"])
	}
}

func TestHealthReady_Degraded(t *testing.T) {
	cfg := &config.Config{}
	cfg.App.Env = "test"

	handler := HealthReady(cfg, testLogger(), map[string]Pinger{
		"postgres": &stubPinger{},
		"redis":    &stubPinger{err: errors.New("connection refused")},
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestHealthLive(t *testing.T) {
	cfg := &config.Config{}
	cfg.App.Env = "test"

	rec := httptest.NewRecorder()
	HealthLive(cfg)(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if rec.Header().Get("X-NexusPay-Env") != "test" {
		t.Fatal("env header missing")
	}
}
