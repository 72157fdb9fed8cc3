package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nexuspay/settlement-relay/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}

func TestOneMigrationPerTable(t *testing.T) {
	for _, pattern := range []string{
		"*_create_transactions.sql",
		"*_create_webhook_events.sql",
		"*_create_webhook_dlq.sql",
	} {
		matches, err := filepath.Glob(filepath.Join("migrations", pattern))
		if err != nil {
			t.Fatalf("glob migrations: %v", err)
		}
		if len(matches) != 1 {
			t.Errorf("expected exactly one migration matching %q, got %v", pattern, matches)
		}
	}
}

func TestWebhookEventsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_webhook_events.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS webhook_events",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_event_id",
		"CHECK (processing_status IN ('received', 'applied', 'retrying', 'dead_lettered'))",
		"DROP TABLE IF EXISTS webhook_events",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestDLQMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_webhook_dlq.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS webhook_dlq",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_dlq_event_id",
		"CHECK (reason IN ('max_attempts', 'validation'))",
		"DROP TABLE IF EXISTS webhook_dlq",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %q", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
