package configentry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Repository persists config entries. Lifecycle state is runtime-only and
// is not stored; loaded entries start in not_loaded.
type Repository interface {
	// List returns every stored entry in insertion order.
	List(ctx context.Context) ([]*Entry, error)

	// Save inserts or replaces an entry.
	Save(ctx context.Context, e *Entry) error

	// Delete removes an entry. Deleting an absent id is not an error.
	Delete(ctx context.Context, entryID string) error
}

// SQLiteRepository implements Repository using the config_entries table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns every stored entry ordered by insertion.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entry_id, domain, title, source, version, minor_version, unique_id,
			data, options, disabled_by, pref_disable_new_entities, pref_disable_polling,
			discovery_keys, created_at, modified_at
		FROM config_entries
		ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying config entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning config entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating config entries: %w", err)
	}
	return entries, nil
}

// Save upserts e. The rowid of an existing entry is kept so List order is stable.
func (r *SQLiteRepository) Save(ctx context.Context, e *Entry) error {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshalling data: %w", err)
	}
	optionsJSON, err := json.Marshal(e.Options)
	if err != nil {
		return fmt.Errorf("marshalling options: %w", err)
	}
	discoveryJSON, err := json.Marshal(e.DiscoveryKeys)
	if err != nil {
		return fmt.Errorf("marshalling discovery_keys: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO config_entries (
			entry_id, domain, title, source, version, minor_version, unique_id,
			data, options, disabled_by, pref_disable_new_entities, pref_disable_polling,
			discovery_keys, created_at, modified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			title = excluded.title,
			version = excluded.version,
			minor_version = excluded.minor_version,
			unique_id = excluded.unique_id,
			data = excluded.data,
			options = excluded.options,
			disabled_by = excluded.disabled_by,
			pref_disable_new_entities = excluded.pref_disable_new_entities,
			pref_disable_polling = excluded.pref_disable_polling,
			discovery_keys = excluded.discovery_keys,
			modified_at = excluded.modified_at`,
		e.EntryID, e.Domain, e.Title, e.Source, e.Version, e.MinorVersion, e.UniqueID,
		string(dataJSON), string(optionsJSON), e.DisabledBy,
		boolToInt(e.PrefDisableNewEntities), boolToInt(e.PrefDisablePolling),
		string(discoveryJSON),
		e.CreatedAt.Format(time.RFC3339Nano), e.ModifiedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving config entry %s: %w", e.EntryID, err)
	}
	return nil
}

// Delete removes the entry with entryID.
func (r *SQLiteRepository) Delete(ctx context.Context, entryID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM config_entries WHERE entry_id = ?", entryID); err != nil {
		return fmt.Errorf("deleting config entry %s: %w", entryID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var uniqueID, disabledBy sql.NullString
	var dataJSON, optionsJSON, discoveryJSON string
	var prefNew, prefPolling int
	var createdAt, modifiedAt string

	if err := row.Scan(
		&e.EntryID, &e.Domain, &e.Title, &e.Source, &e.Version, &e.MinorVersion, &uniqueID,
		&dataJSON, &optionsJSON, &disabledBy, &prefNew, &prefPolling,
		&discoveryJSON, &createdAt, &modifiedAt,
	); err != nil {
		return nil, err
	}

	if uniqueID.Valid {
		e.UniqueID = &uniqueID.String
	}
	if disabledBy.Valid {
		e.DisabledBy = &disabledBy.String
	}
	e.PrefDisableNewEntities = prefNew != 0
	e.PrefDisablePolling = prefPolling != 0
	e.State = StateNotLoaded

	if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
		return nil, fmt.Errorf("unmarshalling data: %w", err)
	}
	if err := json.Unmarshal([]byte(optionsJSON), &e.Options); err != nil {
		return nil, fmt.Errorf("unmarshalling options: %w", err)
	}
	if err := json.Unmarshal([]byte(discoveryJSON), &e.DiscoveryKeys); err != nil {
		return nil, fmt.Errorf("unmarshalling discovery_keys: %w", err)
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	modified, err := time.Parse(time.RFC3339Nano, modifiedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing modified_at: %w", err)
	}
	e.CreatedAt = core.NewTimestamp(created)
	e.ModifiedAt = core.NewTimestamp(modified)

	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
