package database_test

import (
	"context"
	"testing"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-hub/migrations"
)

func TestHubSchemaMigrates(t *testing.T) {
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, table := range []string{"config_entries", "registry_entries", "application_credentials", "audit_logs"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	// Every migration rolls back cleanly.
	for {
		applied, _, err := db.MigrationStatus(ctx)
		if err != nil {
			t.Fatalf("MigrationStatus() error = %v", err)
		}
		if len(applied) == 0 {
			break
		}
		if err := db.MigrateDown(ctx); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
	}
}
