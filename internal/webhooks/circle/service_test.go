package circle

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/enums"
	pkgerrors "github.com/nexuspay/settlement-relay/pkg/errors"
	"github.com/nexuspay/settlement-relay/pkg/logger"
)

const testSecret = "whsec_test"

type stubEventStore struct {
	inserted []models.InboundEvent
	created  bool
	err      error
}

func (s *stubEventStore) InsertIfNew(ctx context.Context, event models.InboundEvent) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.inserted = append(s.inserted, event)
	return s.created, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel, Output: &bytes.Buffer{}})
}

var testClock = time.Date(2026, 2, 1, 10, 0, 30, 0, time.UTC)

func newTestService(t *testing.T, store *stubEventStore) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger: testLogger(),
		Secret: testSecret,
		Events: store,
		Now:    func() time.Time { return testClock },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func signedDelivery(body []byte) (string, string) {
	timestamp := "2026-02-01T10:00:00Z"
	return ComputeSignature(testSecret, timestamp, body), timestamp
}

func TestIngestRecordsEvent(t *testing.T) {
	store := &stubEventStore{created: true}
	svc := newTestService(t, store)

	body := []byte(`{
		"subscriptionId": "sub_1",
		"notificationId": "evt_1",
		"notificationType": "mint.completed",
		"notification": {"transactionId": "circle_tx_1", "txHash": "0xabc"},
		"timestamp": "2026-02-01T10:00:00Z",
		"version": 1
	}`)
	sig, ts := signedDelivery(body)

	result, err := svc.Ingest(context.Background(), body, sig, ts)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Accepted {
		t.Fatal("expected delivery to be accepted")
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected one stored event, got %d", len(store.inserted))
	}
	event := store.inserted[0]
	if event.EventID != "evt_1" {
		t.Fatalf("unexpected event id %s", event.EventID)
	}
	if event.EventType != enums.EventMintCompleted {
		t.Fatalf("unexpected event type %s", event.EventType)
	}
	if event.SubjectID != "circle_tx_1" {
		t.Fatalf("unexpected subject %s", event.SubjectID)
	}
	if !bytes.Equal(event.Payload, body) {
		t.Fatal("stored payload must be the raw signed bytes")
	}
	if event.ProcessingStatus != enums.ProcessingReceived {
		t.Fatalf("unexpected status %s", event.ProcessingStatus)
	}
}

func TestIngestRejectsBadSignature(t *testing.T) {
	store := &stubEventStore{created: true}
	svc := newTestService(t, store)

	body := []byte(`{"notificationId":"evt_2","notificationType":"mint.completed"}`)
	_, ts := signedDelivery(body)

	_, err := svc.Ingest(context.Background(), body, "bogus-signature", ts)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Fatal("rejected delivery must not be stored")
	}
}

func TestIngestRejectsTamperedBody(t *testing.T) {
	store := &stubEventStore{created: true}
	svc := newTestService(t, store)

	body := []byte(`{"notificationId":"evt_3","notificationType":"mint.completed"}`)
	sig, ts := signedDelivery(body)

	tampered := []byte(`{"notificationId":"evt_3","notificationType":"mint.failed"}`)
	_, err := svc.Ingest(context.Background(), tampered, sig, ts)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized for tampered body, got %v", err)
	}
}

func TestIngestRejectsStaleTimestamp(t *testing.T) {
	store := &stubEventStore{created: true}
	svc := newTestService(t, store)

	body := []byte(`{"notificationId":"evt_old","notificationType":"mint.completed"}`)
	stale := testClock.Add(-10 * time.Minute).Format(time.RFC3339)
	sig := ComputeSignature(testSecret, stale, body)

	_, err := svc.Ingest(context.Background(), body, sig, stale)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized for stale timestamp, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Fatal("stale delivery must not be stored")
	}
}

func TestIngestRejectsFutureTimestamp(t *testing.T) {
	store := &stubEventStore{created: true}
	svc := newTestService(t, store)

	body := []byte(`{"notificationId":"evt_future","notificationType":"mint.completed"}`)
	future := testClock.Add(10 * time.Minute).Format(time.RFC3339)
	sig := ComputeSignature(testSecret, future, body)

	_, err := svc.Ingest(context.Background(), body, sig, future)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized for future timestamp, got %v", err)
	}
}

func TestIngestRejectsMalformedTimestamp(t *testing.T) {
	store := &stubEventStore{created: true}
	svc := newTestService(t, store)

	body := []byte(`{"notificationId":"evt_bad_ts","notificationType":"mint.completed"}`)
	bad := "not-a-timestamp"
	sig := ComputeSignature(testSecret, bad, body)

	_, err := svc.Ingest(context.Background(), body, sig, bad)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized for malformed timestamp, got %v", err)
	}
}

func TestIngestAcknowledgesDuplicates(t *testing.T) {
	store := &stubEventStore{created: false}
	svc := newTestService(t, store)

	body := []byte(`{"notificationId":"evt_4","notificationType":"transfer.completed","notification":{"id":"circle_tx_4"}}`)
	sig, ts := signedDelivery(body)

	result, err := svc.Ingest(context.Background(), body, sig, ts)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate acknowledgement")
	}
	if result.Accepted {
		t.Fatal("duplicate must not report accepted")
	}
}

func TestIngestFiltersUnsubscribedTypes(t *testing.T) {
	store := &stubEventStore{created: true}
	svc := newTestService(t, store)

	body := []byte(`{"notificationId":"evt_5","notificationType":"payouts.created"}`)
	sig, ts := signedDelivery(body)

	result, err := svc.Ingest(context.Background(), body, sig, ts)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Filtered {
		t.Fatal("expected unsubscribed type to be filtered")
	}
	if len(store.inserted) != 0 {
		t.Fatal("filtered delivery must not be stored")
	}
}

func TestIngestAcknowledgesTestNotifications(t *testing.T) {
	store := &stubEventStore{created: true}
	svc := newTestService(t, store)

	body := []byte(`{"notificationId":"evt_6","notificationType":"webhooks.test"}`)
	sig, ts := signedDelivery(body)

	result, err := svc.Ingest(context.Background(), body, sig, ts)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Filtered {
		t.Fatal("expected test notification to be filtered")
	}
	if len(store.inserted) != 0 {
		t.Fatal("test notification must not be stored")
	}
}

func TestIngestValidatesEnvelope(t *testing.T) {
	store := &stubEventStore{created: true}
	svc := newTestService(t, store)

	body := []byte(`{"notificationType":"mint.completed"}`)
	sig, ts := signedDelivery(body)

	_, err := svc.Ingest(context.Background(), body, sig, ts)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerifySignatureRequiresAllParts(t *testing.T) {
	body := []byte(`{}`)
	sig, ts := signedDelivery(body)
	if !VerifySignature(testSecret, sig, ts, body) {
		t.Fatal("expected valid signature to verify")
	}
	if VerifySignature(testSecret, sig, "", body) {
		t.Fatal("missing timestamp must fail")
	}
	if VerifySignature(testSecret, "", ts, body) {
		t.Fatal("missing signature must fail")
	}
	if VerifySignature("", sig, ts, body) {
		t.Fatal("missing secret must fail")
	}
}
