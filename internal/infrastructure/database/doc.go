// Package database provides the hub's SQLite store and schema migrations.
//
// The database holds config entries, registry entries, application
// credentials and the audit log. Lifecycle state and the State Store are
// runtime-only and never written here.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or have a default,
// and every .up.sql has a matching .down.sql.
package database
