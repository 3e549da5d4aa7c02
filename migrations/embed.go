// Package migrations embeds the accessd schema so the binary can migrate
// a database without SQL files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root. Pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
