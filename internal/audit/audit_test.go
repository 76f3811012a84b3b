package audit

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			user_id TEXT,
			source TEXT NOT NULL,
			details TEXT,
			context_id TEXT,
			created_at TEXT NOT NULL
		) STRICT`)
	if err != nil {
		t.Fatalf("creating audit_logs: %v", err)
	}
	return db
}

func TestSQLiteRepositoryList(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{Action: "create", EntityType: "area", EntityID: "kitchen", Source: SourceBus, CreatedAt: base},
		{Action: "update", EntityType: "area", EntityID: "kitchen", Source: SourceBus, UserID: "u1", CreatedAt: base.Add(time.Second),
			Details: map[string]any{"changes": "name"}},
		{Action: "create", EntityType: "floor", EntityID: "ground", Source: SourceBus, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if e.ID == "" {
			t.Fatal("Create() did not assign an id")
		}
	}

	tests := []struct {
		name   string
		filter Filter
		total  int
		first  string
	}{
		{"all newest first", Filter{}, 3, "ground"},
		{"by entity type", Filter{EntityType: "area"}, 2, "kitchen"},
		{"by action", Filter{Action: "create"}, 2, "ground"},
		{"by user", Filter{UserID: "u1"}, 1, "kitchen"},
		{"no match", Filter{EntityID: "attic"}, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if page.Total != tt.total || len(page.Entries) != tt.total {
				t.Fatalf("total = %d, entries = %d, want %d", page.Total, len(page.Entries), tt.total)
			}
			if tt.total > 0 && page.Entries[0].EntityID != tt.first {
				t.Errorf("first = %q, want %q", page.Entries[0].EntityID, tt.first)
			}
		})
	}

	page, err := repo.List(ctx, Filter{EntityType: "area", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 2 || len(page.Entries) != 1 || page.Entries[0].Action != "create" {
		t.Errorf("paged = %+v", page)
	}

	page, err = repo.List(ctx, Filter{UserID: "u1", Limit: 1000})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Limit != maxLimit {
		t.Errorf("Limit = %d, want %d", page.Limit, maxLimit)
	}
	if got := page.Entries[0].Details["changes"]; got != "name" {
		t.Errorf("details = %v", page.Entries[0].Details)
	}
}

func TestEntryFor(t *testing.T) {
	user := "admin"
	ctx := &core.Context{ID: "01J0000000000000000000000", UserID: &user}

	tests := []struct {
		name       string
		ev         *core.Event
		ok         bool
		action     string
		entityType string
		entityID   string
		details    int
	}{
		{
			name:   "config entry",
			ev:     core.NewEvent(core.EventConfigEntriesUpdated, map[string]any{"action": "create", "entry_id": "E1"}, ctx),
			ok:     true, action: "create", entityType: "config_entry", entityID: "E1",
		},
		{
			name: "entity rename keeps old id",
			ev: core.NewEvent(core.EventEntityRegistryUpdated,
				map[string]any{"action": "update", "entity_id": "light.new", "old_entity_id": "light.old"}, ctx),
			ok: true, action: "update", entityType: "entity", entityID: "light.new", details: 1,
		},
		{
			name:   "credentials",
			ev:     core.NewEvent(core.EventApplicationCredentialsUpdated, map[string]any{"action": "remove", "application_credentials_id": "x_y"}, ctx),
			ok:     true, action: "remove", entityType: "application_credentials", entityID: "x_y",
		},
		{
			name: "service call",
			ev: core.NewEvent(core.EventCallService,
				map[string]any{"domain": "light", "service": "turn_on", "service_data": map[string]any{"brightness": 10}}, ctx),
			ok: true, action: "call", entityType: "service", entityID: "light.turn_on", details: 1,
		},
		{
			name: "state changes are not audited",
			ev:   core.NewEvent(core.EventStateChanged, map[string]any{"entity_id": "light.a"}, ctx),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := EntryFor(tt.ev)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if e.Action != tt.action || e.EntityType != tt.entityType || e.EntityID != tt.entityID {
				t.Errorf("entry = (%q, %q, %q)", e.Action, e.EntityType, e.EntityID)
			}
			if len(e.Details) != tt.details {
				t.Errorf("details = %v", e.Details)
			}
			if e.UserID != "admin" || e.ContextID != ctx.ID {
				t.Errorf("user = %q, context = %q", e.UserID, e.ContextID)
			}
		})
	}
}

type memoryRepo struct {
	mu      sync.Mutex
	entries []*Entry
}

func (m *memoryRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryRepo) List(context.Context, Filter) (*Page, error) { return &Page{}, nil }

func TestRecorderWritesInOrder(t *testing.T) {
	b := bus.New()
	repo := &memoryRepo{}
	rec := NewRecorder(b, repo)
	rec.Start()

	b.Fire(core.EventAreaRegistryUpdated, map[string]any{"action": "create", "area_id": "kitchen"})
	b.Fire(core.EventStateChanged, map[string]any{"entity_id": "light.kitchen"})
	b.Fire(core.EventAreaRegistryUpdated, map[string]any{"action": "remove", "area_id": "kitchen"})
	rec.Stop()
	rec.Stop()

	if len(repo.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(repo.entries))
	}
	if repo.entries[0].Action != "create" || repo.entries[1].Action != "remove" {
		t.Errorf("actions = %q, %q", repo.entries[0].Action, repo.entries[1].Action)
	}

	b.Fire(core.EventAreaRegistryUpdated, map[string]any{"action": "create", "area_id": "late"})
	if len(repo.entries) != 2 {
		t.Error("recorder wrote after Stop")
	}
}
