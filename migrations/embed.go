// Package migrations embeds the hub's SQL schema into the binary.
//
// Importing this package registers the files with the database package so
// that database.DB.Migrate can apply them without the files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
