// ABOUTME: SQLite database handle for palaver using modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: Opens the file, enables WAL, creates the schema and applies column migrations

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open
const (
	DriverModernc = "sqlite"  // pure Go, default
	DriverCgo     = "sqlite3" // mattn/go-sqlite3, requires cgo
)

// DB is one SQLite database that units of work are opened against
type DB struct {
	name   string
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the SQLite database at path.
// An empty driver selects DriverModernc.
func Open(name, path, driver string) (*DB, error) {
	logger := slog.Default().With("component", "store", "db", name)

	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCgo {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(driver, dsn(driver, path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	d := &DB{
		name:   name,
		db:     db,
		logger: logger,
	}

	if err := d.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := d.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite database initialized", "path", path, "driver", driver)
	return d, nil
}

// dsn adds per-connection pragmas. Both drivers apply them to every pooled
// connection, which a one-off PRAGMA exec would not.
func dsn(driver, path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if driver == DriverCgo {
		return path + sep + "_busy_timeout=5000&_foreign_keys=on"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Name returns the consumer name this database was registered under
func (d *DB) Name() string {
	return d.name
}

// Ping verifies the database is reachable
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// createSchema creates the database tables if they don't exist
func (d *DB) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS notes (
			id         TEXT PRIMARY KEY,
			owner      TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_notes_owner_key ON notes(owner, key);
	`

	_, err := d.db.Exec(schema)
	return err
}

// runMigrations adds columns introduced after the first schema.
// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first.
func (d *DB) runMigrations() error {
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('notes') WHERE name = 'version'`,
			apply:  `ALTER TABLE notes ADD COLUMN version INTEGER NOT NULL DEFAULT 1`,
			column: "version",
		},
	}

	for _, m := range migrations {
		var exists int
		if err := d.db.QueryRow(m.check).Scan(&exists); err == nil {
			continue
		}
		if _, err := d.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to notes: %w", m.column, err)
		}
		d.logger.Info("applied migration", "column", m.column, "table", "notes")
	}

	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	d.logger.Info("closing SQLite database")
	return d.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
