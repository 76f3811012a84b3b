package credentials

import (
	"context"
	"database/sql"
	"fmt"
)

// Repository persists application credentials.
type Repository interface {
	List(ctx context.Context) ([]*Credential, error)
	Create(ctx context.Context, c *Credential) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using the application_credentials table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns every credential in insertion order.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Credential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, domain, client_id, client_secret, name, auth_domain
		FROM application_credentials
		ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying application credentials: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		var c Credential
		var name, authDomain sql.NullString
		if err := rows.Scan(&c.ID, &c.Domain, &c.ClientID, &c.ClientSecret, &name, &authDomain); err != nil {
			return nil, fmt.Errorf("scanning application credential: %w", err)
		}
		if name.Valid {
			c.Name = &name.String
		}
		if authDomain.Valid {
			c.AuthDomain = &authDomain.String
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating application credentials: %w", err)
	}
	return out, nil
}

// Create inserts a credential.
func (r *SQLiteRepository) Create(ctx context.Context, c *Credential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO application_credentials (id, domain, client_id, client_secret, name, auth_domain)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Domain, c.ClientID, c.ClientSecret, c.Name, c.AuthDomain)
	if err != nil {
		return fmt.Errorf("inserting application credential %s: %w", c.ID, err)
	}
	return nil
}

// Delete removes the credential with id.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM application_credentials WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting application credential %s: %w", id, err)
	}
	return nil
}
