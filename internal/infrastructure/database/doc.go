// Package database provides the SQLite store behind the sensor registry.
//
// It opens the database with WAL mode and a busy timeout, limits the pool to
// a single writer, and applies versioned SQL migrations passed in as an
// fs.FS (see the migrations package for the embedded set).
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
