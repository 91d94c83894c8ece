// Package sqlstore is a SQLite datastore adapter.
//
// Each entity is stored in one table named after its identity, one column per
// stored attribute. Integer primary keys are rowid aliases, so SQLite assigns
// them on insert. Model (foreign key) columns have no declared type so they
// keep whatever primary key type the related entity uses. Arrays and objects
// are stored as canonical JSON text.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement enabled
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/stitch/internal/adapter"
)

// Kind is the adapter kind name.
const Kind = "sqlite"

// Store is a SQLite-backed adapter.
type Store struct {
	db *sql.DB
}

var (
	_ adapter.Finder       = (*Store)(nil)
	_ adapter.Creator      = (*Store)(nil)
	_ adapter.BatchCreator = (*Store)(nil)
	_ adapter.Updater      = (*Store)(nil)
	_ adapter.Destroyer    = (*Store)(nil)
	_ adapter.Definer      = (*Store)(nil)
	_ adapter.Closer       = (*Store)(nil)
)

// Open creates or opens a SQLite database at path and applies the required
// pragmas. Use ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return &Store{db: db}, nil
}

// Kind implements adapter.Adapter.
func (s *Store) Kind() string { return Kind }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(ctx context.Context, name, expected string) error {
	var value string
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
