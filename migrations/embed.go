// Package migrations embeds the agent's SQLite schema into the binary.
package migrations

import (
	"embed"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
