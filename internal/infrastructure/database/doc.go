// Package database provides SQLite connectivity for accessd.
//
// SQLite backs the durable pieces of the dispatch core:
//   - the event log (entries, consumer groups, pending lists)
//   - the dead-letter lists and retry counters
//   - the device-to-tenant mapping
//
// Connections are opened with WAL mode and a busy timeout, and the pool is
// pinned to a single connection because SQLite allows one writer.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and are applied oldest first.
package database
