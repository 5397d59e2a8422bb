package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// NewTestDB returns an empty campaign database in memory. It is closed when
// the test ends.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return openTestDB(t, ":memory:")
}

// NewSharedTestDB opens two handles on one campaign file, the way two server
// instances share a database. Both are closed when the test ends.
func NewSharedTestDB(t *testing.T) (*sql.DB, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "squire.db")
	first := openTestDB(t, path)
	return first, openTestDB(t, path)
}

func openTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("opening campaign database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := EnsureSchema(db); err != nil {
		t.Fatalf("applying campaign schema: %v", err)
	}
	return db
}
