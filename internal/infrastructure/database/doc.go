// Package database provides SQLite connectivity for webthingd.
//
// This package manages:
//   - The connection, tuned for SQLite's single writer
//   - Versioned schema migrations read from an fs.FS
//   - Health checks for the /health endpoint
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600
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
// Migrations are additive: new columns must be nullable or carry a
// default, and every .up.sql ships with a .down.sql.
package database
