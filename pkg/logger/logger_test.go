package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	return New(Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: buf})
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	return entry
}

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	logg := newTestLogger(&buf)

	ctx := logg.WithEventID(context.Background(), "evt_123")
	ctx = logg.WithTransactionID(ctx, "tx_456")
	logg.Info(ctx, "event applied")

	entry := lastLine(t, &buf)
	if entry["event_id"] != "evt_123" {
		t.Fatalf("expected event_id field, got %v", entry["event_id"])
	}
	if entry["transaction_id"] != "tx_456" {
		t.Fatalf("expected transaction_id field, got %v", entry["transaction_id"])
	}
	if entry["service"] != "test" {
		t.Fatalf("expected service field, got %v", entry["service"])
	}
}

func TestSecurityMarksEvent(t *testing.T) {
	var buf bytes.Buffer
	logg := newTestLogger(&buf)

	logg.Security(context.Background(), "signature rejected")

	entry := lastLine(t, &buf)
	if entry["security_event"] != true {
		t.Fatalf("expected security_event marker, got %v", entry["security_event"])
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected warn level, got %v", entry["level"])
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if got := ParseLevel("nonsense"); got != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %v", got)
	}
	if got := ParseLevel("debug"); got != zerolog.DebugLevel {
		t.Fatalf("expected debug, got %v", got)
	}
}
