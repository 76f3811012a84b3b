package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
)

// setupTestDB creates an in-memory SQLite database with the registry_entries table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE registry_entries (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at REAL NOT NULL,
			modified_at REAL NOT NULL,
			PRIMARY KEY (kind, id)
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	regs := New(bus.New(), repo)
	level := 0
	if _, err := regs.Floors.Create(ctx, FloorCreate{Name: "Ground", Level: &level}); err != nil {
		t.Fatal(err)
	}
	area, err := regs.Areas.Create(ctx, AreaCreate{Name: "Hall", FloorID: strPtr("ground")})
	if err != nil {
		t.Fatal(err)
	}
	first, err := regs.Entities.Create(ctx, EntityCreate{Domain: "light", Platform: "demo", UniqueID: "1", SuggestedObjectID: "hall"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := regs.Entities.Create(ctx, EntityCreate{Domain: "light", Platform: "demo", UniqueID: "2", SuggestedObjectID: "porch"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := regs.Entities.Update(ctx, first.EntityID, EntityUpdate{
		NewEntityID:   strPtr("light.hallway"),
		OptionsDomain: "light",
		Options:       map[string]any{"transition": float64(2)},
	}); err != nil {
		t.Fatal(err)
	}
	label, err := regs.Labels.Create(ctx, LabelCreate{Name: "Night"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := regs.Labels.Remove(ctx, label.LabelID); err != nil {
		t.Fatal(err)
	}

	reloaded := New(bus.New(), repo)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	gotArea := reloaded.Areas.Get("hall")
	if gotArea == nil || *gotArea.FloorID != "ground" {
		t.Fatalf("area = %+v", gotArea)
	}
	if !gotArea.CreatedAt.Equal(area.CreatedAt.Time) {
		t.Errorf("created_at = %v, want %v", gotArea.CreatedAt, area.CreatedAt)
	}
	if f := reloaded.Floors.Get("ground"); f == nil || f.Level == nil || *f.Level != 0 {
		t.Errorf("floor = %+v", f)
	}

	entities := reloaded.Entities.List()
	if len(entities) != 2 {
		t.Fatalf("loaded %d entities, want 2", len(entities))
	}
	if entities[0].EntityID != "light.hallway" || entities[1].EntityID != second.EntityID {
		t.Errorf("order = %s, %s", entities[0].EntityID, entities[1].EntityID)
	}
	if entities[0].Options["light"]["transition"] != float64(2) {
		t.Errorf("options = %v", entities[0].Options)
	}
	if reloaded.Labels.Len() != 0 {
		t.Errorf("removed label was persisted")
	}
}

func TestSQLiteRepositoryPersistsAreasFloorsLabels(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	regs := New(bus.New(), repo)

	level := 2
	floor, err := regs.Floors.Create(ctx, FloorCreate{Name: "Attic", Level: &level, Aliases: []string{"loft"}})
	if err != nil {
		t.Fatal(err)
	}
	if floor, err = regs.Floors.Update(ctx, floor.FloorID, FloorUpdate{Icon: strPtr("mdi:home-roof")}); err != nil {
		t.Fatal(err)
	}
	area, err := regs.Areas.Create(ctx, AreaCreate{Name: "Study", FloorID: &floor.FloorID, Labels: []string{"work"}})
	if err != nil {
		t.Fatal(err)
	}
	if area, err = regs.Areas.Update(ctx, area.AreaID, AreaUpdate{Picture: strPtr("/local/study.png")}); err != nil {
		t.Fatal(err)
	}
	label, err := regs.Labels.Create(ctx, LabelCreate{Name: "Work"})
	if err != nil {
		t.Fatal(err)
	}
	if label, err = regs.Labels.Update(ctx, label.LabelID, LabelUpdate{Description: strPtr("office hours")}); err != nil {
		t.Fatal(err)
	}

	reloaded := New(bus.New(), repo)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		want any
		got  any
	}{
		{"floor", floor, reloaded.Floors.Get(floor.FloorID)},
		{"area", area, reloaded.Areas.Get(area.AreaID)},
		{"label", label, reloaded.Labels.Get(label.LabelID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := json.Marshal(tt.want)
			if err != nil {
				t.Fatal(err)
			}
			got, err := json.Marshal(tt.got)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != string(want) {
				t.Errorf("after reload:\n got  %s\n want %s", got, want)
			}
		})
	}
}
