package testutil

import (
	"testing"

	"stash-go/internal/database"
)

// NewTestDatabase returns a private in-memory SQLite store carrying the
// generated schema. It is closed during test cleanup.
func NewTestDatabase(tb testing.TB) *database.SQLiteDatabase {
	tb.Helper()

	conn, err := database.OpenConnection(":memory:")
	if err != nil {
		tb.Fatalf("opening in-memory sqlite: %v", err)
	}
	if _, err := conn.Exec(database.Schema); err != nil {
		conn.Close()
		tb.Fatalf("loading schema: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(conn, ":memory:")
	tb.Cleanup(func() { db.Close() })
	return db
}
