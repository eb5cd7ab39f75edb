// Package database provides the SQLite connection that backs the device
// sighting history.
//
// It manages:
//   - the connection, with optional WAL mode and a busy timeout
//   - schema migrations read from an fs.FS (normally the embedded
//     migrations package)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: each version ships an .up.sql and a .down.sql
// file, and new columns must be nullable or carry a default.
package database
