package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"stash-go/internal/model"
	"stash-go/internal/stash"
)

// newPostgresTestDB connects to STASH_TEST_POSTGRES_URL and empties the
// tables. Tests are skipped when the variable is unset.
func newPostgresTestDB(t *testing.T) *PostgresDatabase {
	t.Helper()

	dsn := os.Getenv("STASH_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("STASH_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	db, err := NewPostgresDatabase(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresDatabase() error = %v", err)
	}
	if _, err := db.pool.Exec(ctx, "TRUNCATE files, directories, content_refs, operations"); err != nil {
		db.Close()
		t.Fatalf("truncating tables: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresDatabase_EntryAndLedger(t *testing.T) {
	ctx := context.Background()
	db := newPostgresTestDB(t)

	root := &model.DirectoryEntry{
		ID:        uuid.NewString(),
		Owner:     "alice",
		Name:      "/",
		CreatedAt: time.Now().UTC(),
	}
	if err := db.CreateDirectory(ctx, root); err != nil {
		t.Fatalf("CreateDirectory() error = %v", err)
	}
	if err := db.CreateDirectory(ctx, root); !errors.Is(err, stash.ErrExists) {
		t.Errorf("duplicate CreateDirectory() error = %v, want ErrExists", err)
	}

	a := newEntry(root, "a.txt", "same")
	b := newEntry(root, "a.txt", "same")
	if refs, err := db.CreateEntryAndReference(ctx, a); err != nil || refs != 1 {
		t.Fatalf("CreateEntryAndReference(a) = %d, %v", refs, err)
	}
	if refs, err := db.CreateEntryAndReference(ctx, b); err != nil || refs != 2 {
		t.Fatalf("CreateEntryAndReference(b) = %d, %v", refs, err)
	}
	if want := stash.DisambiguateName("a.txt", b.ID); b.Name != want {
		t.Errorf("b.Name = %q, want %q", b.Name, want)
	}

	if _, refs, err := db.RemoveEntryAndDereference(ctx, a.ID); err != nil || refs != 1 {
		t.Fatalf("RemoveEntryAndDereference(a) = %d, %v", refs, err)
	}
	if _, refs, err := db.RemoveEntryAndDereference(ctx, b.ID); err != nil || refs != 0 {
		t.Fatalf("RemoveEntryAndDereference(b) = %d, %v", refs, err)
	}
	if _, err := db.Decrement(ctx, a.Hash); !errors.Is(err, stash.ErrInvariantViolation) {
		t.Errorf("Decrement() error = %v, want ErrInvariantViolation", err)
	}

	op, err := db.CreateOperation(ctx, "upload", "alice", "a.txt")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if err := db.FinishOperation(ctx, op.ID, "success"); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}
	ops, err := db.ListOperations(ctx, 5)
	if err != nil || len(ops) != 1 || ops[0].Status != "success" {
		t.Errorf("ListOperations() = %v, %v", ops, err)
	}
}
