package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nexuspay/settlement-relay/pkg/db/models"
	"github.com/nexuspay/settlement-relay/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.InboundEvent{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func seedEvent(t *testing.T, repo *Repository, eventID string, status enums.ProcessingStatus, due time.Time) models.InboundEvent {
	t.Helper()
	event := models.InboundEvent{
		ID:               uuid.New(),
		EventID:          eventID,
		EventType:        enums.EventMintCompleted,
		SubjectID:        "tx_ext",
		Payload:          []byte(`{}`),
		Source:           enums.SourceWebhook,
		ProcessingStatus: status,
		NextAttemptAt:    due,
	}
	created, err := repo.InsertIfNew(context.Background(), event)
	if err != nil {
		t.Fatalf("seed event %s: %v", eventID, err)
	}
	if !created {
		t.Fatalf("seed event %s already existed", eventID)
	}
	return event
}

func TestInsertIfNewDeduplicates(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	event := models.InboundEvent{
		ID:               uuid.New(),
		EventID:          "evt_dup",
		EventType:        enums.EventMintCompleted,
		Payload:          []byte(`{}`),
		Source:           enums.SourceWebhook,
		ProcessingStatus: enums.ProcessingReceived,
		NextAttemptAt:    time.Now().UTC(),
	}
	created, err := repo.InsertIfNew(ctx, event)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !created {
		t.Fatal("expected first insert to create")
	}

	event.ID = uuid.New()
	created, err = repo.InsertIfNew(ctx, event)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created {
		t.Fatal("expected duplicate event_id to be swallowed")
	}

	stored, err := repo.FindByEventID(ctx, "evt_dup")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored == nil {
		t.Fatal("expected stored event")
	}
}

func TestInsertIfNewAssignsID(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	event := models.InboundEvent{
		EventID:          "evt_no_id",
		EventType:        enums.EventMintCompleted,
		Payload:          []byte(`{}`),
		Source:           enums.SourceWebhook,
		ProcessingStatus: enums.ProcessingReceived,
		NextAttemptAt:    time.Now().UTC(),
	}
	created, err := repo.InsertIfNew(ctx, event)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !created {
		t.Fatal("expected insert to create")
	}

	stored, err := repo.FindByEventID(ctx, "evt_no_id")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored == nil || stored.ID == uuid.Nil {
		t.Fatalf("expected generated id, got %+v", stored)
	}
}

func TestFindDueFiltersAndOrders(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	oldest := seedEvent(t, repo, "evt_oldest", enums.ProcessingReceived, now.Add(-2*time.Hour))
	seedEvent(t, repo, "evt_recent", enums.ProcessingRetrying, now.Add(-time.Minute))
	seedEvent(t, repo, "evt_future", enums.ProcessingRetrying, now.Add(time.Hour))
	seedEvent(t, repo, "evt_applied", enums.ProcessingApplied, now.Add(-time.Hour))
	seedEvent(t, repo, "evt_dead", enums.ProcessingDeadLettered, now.Add(-time.Hour))

	due, err := repo.FindDue(ctx, 10, now)
	if err != nil {
		t.Fatalf("find due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due events, got %d", len(due))
	}
	if due[0].EventID != oldest.EventID {
		t.Fatalf("expected oldest first, got %s", due[0].EventID)
	}
}

func TestMarkRetryingAndDeadLettered(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	event := seedEvent(t, repo, "evt_retry", enums.ProcessingReceived, now)

	next := now.Add(2 * time.Second)
	if err := repo.MarkRetrying(ctx, event.ID, 1, next, errors.New("provider timeout")); err != nil {
		t.Fatalf("mark retrying: %v", err)
	}
	stored, err := repo.FindByEventID(ctx, "evt_retry")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.ProcessingStatus != enums.ProcessingRetrying {
		t.Fatalf("expected retrying, got %s", stored.ProcessingStatus)
	}
	if stored.AttemptCount != 1 {
		t.Fatalf("expected attempt_count 1, got %d", stored.AttemptCount)
	}
	if stored.LastError == nil || *stored.LastError != "provider timeout" {
		t.Fatalf("expected last_error recorded, got %v", stored.LastError)
	}

	if err := repo.MarkDeadLetteredTx(conn, event.ID, 5, errors.New("gave up")); err != nil {
		t.Fatalf("mark dead lettered: %v", err)
	}
	stored, _ = repo.FindByEventID(ctx, "evt_retry")
	if stored.ProcessingStatus != enums.ProcessingDeadLettered {
		t.Fatalf("expected dead_lettered, got %s", stored.ProcessingStatus)
	}
	if stored.AttemptCount != 5 {
		t.Fatalf("expected attempt_count 5, got %d", stored.AttemptCount)
	}
}

func TestResetForReplayRequiresDeadLettered(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	event := seedEvent(t, repo, "evt_replay", enums.ProcessingReceived, now)

	rows, err := repo.ResetForReplayTx(conn, "evt_replay", now)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if rows != 0 {
		t.Fatal("non-dead-lettered event must not be replayable")
	}

	if err := repo.MarkDeadLetteredTx(conn, event.ID, 5, errors.New("gave up")); err != nil {
		t.Fatalf("mark dead lettered: %v", err)
	}
	rows, err = repo.ResetForReplayTx(conn, "evt_replay", now)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one replayed row, got %d", rows)
	}

	stored, _ := repo.FindByEventID(ctx, "evt_replay")
	if stored.ProcessingStatus != enums.ProcessingReceived {
		t.Fatalf("expected received after replay, got %s", stored.ProcessingStatus)
	}
	if stored.AttemptCount != 0 {
		t.Fatalf("expected fresh retry budget, got %d", stored.AttemptCount)
	}
	if stored.Source != enums.SourceReplay {
		t.Fatalf("expected replay source, got %s", stored.Source)
	}
}

func TestDeleteAppliedBeforeSparesDeadLetters(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.Add(-24 * time.Hour)

	oldApplied := seedEvent(t, repo, "evt_old_applied", enums.ProcessingReceived, now)
	appliedAt := now.Add(-48 * time.Hour)
	if err := conn.Model(&models.InboundEvent{}).Where("id = ?", oldApplied.ID).
		Updates(map[string]any{"processing_status": enums.ProcessingApplied, "applied_at": appliedAt}).Error; err != nil {
		t.Fatalf("age applied event: %v", err)
	}

	dead := seedEvent(t, repo, "evt_old_dead", enums.ProcessingDeadLettered, now)
	_ = dead

	deleted, err := repo.DeleteAppliedBefore(ctx, conn, cutoff)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted row, got %d", deleted)
	}

	remaining, err := repo.CountsByStatus(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if remaining[enums.ProcessingDeadLettered] != 1 {
		t.Fatal("dead lettered rows must never be pruned")
	}
	if remaining[enums.ProcessingApplied] != 0 {
		t.Fatal("aged applied row should be gone")
	}
}
