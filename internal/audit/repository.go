// Package audit records configuration changes and service calls in the
// audit_logs table and answers filtered queries over them.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one audit_logs row.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	ContextID  string         `json:"context_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Limit      int
	Offset     int
}

// Page is one page of List results, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) (*Page, error)
}

// SQLiteRepository is the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = string(b)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, source, details, context_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.EntityType, null(e.EntityID), null(e.UserID), e.Source,
		details, null(e.ContextID), e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns entries matching f, newest first. Limit defaults to 50 and
// is capped at 200.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*Page, error) {
	f.Limit = min(max(f.Limit, 0), maxLimit)
	if f.Limit == 0 {
		f.Limit = defaultLimit
	}
	f.Offset = max(f.Offset, 0)

	var conds []string
	var args []any
	for _, c := range []struct{ col, val string }{
		{"action", f.Action},
		{"entity_type", f.EntityType},
		{"entity_id", f.EntityID},
		{"user_id", f.UserID},
	} {
		if c.val != "" {
			conds = append(conds, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := &Page{Entries: []Entry{}, Limit: f.Limit, Offset: f.Offset}
	//nolint:gosec // where holds only fixed column names and placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	//nolint:gosec // where holds only fixed column names and placeholders
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, entity_type, entity_id, user_id, source, details, context_id, created_at
		FROM audit_logs`+where+` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return page, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var entityID, userID, details, contextID sql.NullString
	var createdAt string
	if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &userID,
		&e.Source, &details, &contextID, &createdAt); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}
	e.EntityID = entityID.String
	e.UserID = userID.String
	e.ContextID = contextID.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return e, fmt.Errorf("decoding details of audit entry %s: %w", e.ID, err)
		}
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return e, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}

func null(s string) any {
	if s == "" {
		return nil
	}
	return s
}
