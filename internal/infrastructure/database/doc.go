// Package database provides the SQLite store behind the bridge's reading
// history.
//
// Open applies WAL mode and a busy timeout, limits the pool to a single
// connection and restricts the file to its owner. Schema changes are plain
// SQL migrations read from an fs.FS (normally the embedded
// migrations.FS) and tracked in schema_migrations:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migrations are additive. Every .up.sql has a matching .down.sql so the
// latest change can be rolled back with MigrateDown.
package database
