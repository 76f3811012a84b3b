package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Kind names a registry in storage and in event types.
type Kind string

// Registry kinds.
const (
	KindDevice Kind = "device"
	KindEntity Kind = "entity"
	KindArea   Kind = "area"
	KindFloor  Kind = "floor"
	KindLabel  Kind = "label"
)

// Record is one stored registry entry.
type Record struct {
	Kind       Kind
	ID         string
	Data       []byte
	CreatedAt  Time
	ModifiedAt Time
}

// Repository persists registry entries as JSON documents.
type Repository interface {
	// List returns the records of kind in insertion order.
	List(ctx context.Context, kind Kind) ([]Record, error)

	// Save inserts or replaces a record.
	Save(ctx context.Context, rec Record) error

	// Delete removes a record. Deleting an absent id is not an error.
	Delete(ctx context.Context, kind Kind, id string) error

	// Rename moves a record to a new id, keeping its position.
	Rename(ctx context.Context, kind Kind, oldID string, rec Record) error
}

// SQLiteRepository implements Repository using the registry_entries table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns the records of kind ordered by insertion.
func (r *SQLiteRepository) List(ctx context.Context, kind Kind) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, data, created_at, modified_at
		FROM registry_entries
		WHERE kind = ?
		ORDER BY rowid`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying %s registry: %w", kind, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var data string
		var created, modified float64
		if err := rows.Scan(&rec.ID, &data, &created, &modified); err != nil {
			return nil, fmt.Errorf("scanning %s registry entry: %w", kind, err)
		}
		rec.Kind = kind
		rec.Data = []byte(data)
		rec.CreatedAt = FromUnix(created)
		rec.ModifiedAt = FromUnix(modified)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s registry: %w", kind, err)
	}
	return records, nil
}

// Save upserts rec, keeping the rowid of an existing record.
func (r *SQLiteRepository) Save(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registry_entries (kind, id, data, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			data = excluded.data,
			modified_at = excluded.modified_at`,
		string(rec.Kind), rec.ID, string(rec.Data), rec.CreatedAt.Unix(), rec.ModifiedAt.Unix())
	if err != nil {
		return fmt.Errorf("saving %s %s: %w", rec.Kind, rec.ID, err)
	}
	return nil
}

// Delete removes the record with id.
func (r *SQLiteRepository) Delete(ctx context.Context, kind Kind, id string) error {
	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM registry_entries WHERE kind = ? AND id = ?", string(kind), id); err != nil {
		return fmt.Errorf("deleting %s %s: %w", kind, id, err)
	}
	return nil
}

// Rename rewrites the primary key in place so the rowid is unchanged.
func (r *SQLiteRepository) Rename(ctx context.Context, kind Kind, oldID string, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE registry_entries
		SET id = ?, data = ?, modified_at = ?
		WHERE kind = ? AND id = ?`,
		rec.ID, string(rec.Data), rec.ModifiedAt.Unix(), string(kind), oldID)
	if err != nil {
		return fmt.Errorf("renaming %s %s to %s: %w", kind, oldID, rec.ID, err)
	}
	return nil
}

// MemoryRepository is a Repository held in memory. It is used when no
// database is configured.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[Kind][]Record
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[Kind][]Record)}
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context, kind Kind) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records[kind]...), nil
}

// Save implements Repository.
func (r *MemoryRepository) Save(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.records[rec.Kind]
	for i := range recs {
		if recs[i].ID == rec.ID {
			rec.CreatedAt = recs[i].CreatedAt
			recs[i] = rec
			return nil
		}
	}
	r.records[rec.Kind] = append(recs, rec)
	return nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(_ context.Context, kind Kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.records[kind]
	for i := range recs {
		if recs[i].ID == id {
			r.records[kind] = append(recs[:i:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Rename implements Repository.
func (r *MemoryRepository) Rename(_ context.Context, kind Kind, oldID string, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.records[kind]
	for i := range recs {
		if recs[i].ID == oldID {
			rec.CreatedAt = recs[i].CreatedAt
			recs[i] = rec
			return nil
		}
	}
	return nil
}
