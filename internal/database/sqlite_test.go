package database

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"stash-go/internal/model"
	"stash-go/internal/stash"
)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	if _, err := db.db.Exec(Schema); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func hashOf(s string) model.ContentHash {
	return sha256.Sum256([]byte(s))
}

// mustRoot creates the owner's root directory.
func mustRoot(t *testing.T, db *SQLiteDatabase, owner string) *model.DirectoryEntry {
	t.Helper()
	root := &model.DirectoryEntry{
		ID:        uuid.NewString(),
		Owner:     owner,
		Name:      "/",
		CreatedAt: time.Now().UTC(),
	}
	if err := db.CreateDirectory(context.Background(), root); err != nil {
		t.Fatalf("CreateDirectory(root) error = %v", err)
	}
	return root
}

func mustSubdir(t *testing.T, db *SQLiteDatabase, parent *model.DirectoryEntry, name string) *model.DirectoryEntry {
	t.Helper()
	dir := &model.DirectoryEntry{
		ID:        uuid.NewString(),
		Owner:     parent.Owner,
		Name:      name,
		ParentID:  parent.ID,
		Path:      stash.JoinPath(parent.Path, name),
		CreatedAt: time.Now().UTC(),
	}
	if err := db.CreateDirectory(context.Background(), dir); err != nil {
		t.Fatalf("CreateDirectory(%q) error = %v", name, err)
	}
	return dir
}

func newEntry(dir *model.DirectoryEntry, name, content string) *model.FileEntry {
	return &model.FileEntry{
		ID:          uuid.NewString(),
		Owner:       dir.Owner,
		DirectoryID: dir.ID,
		Name:        name,
		Hash:        hashOf(content),
		Size:        int64(len(content)),
		CreatedAt:   time.Now().UTC(),
	}
}

func TestSQLiteDatabase_Directories(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when directory not found", func(t *testing.T) {
		db := newTestDB(t)

		dir, err := db.FindDirectoryByPath(ctx, "alice", "nonexistent/path")
		if err != nil {
			t.Fatalf("FindDirectoryByPath() error = %v", err)
		}
		if dir != nil {
			t.Errorf("FindDirectoryByPath() = %v, want nil", dir)
		}

		root, err := db.FindRootDirectory(ctx, "alice")
		if err != nil {
			t.Fatalf("FindRootDirectory() error = %v", err)
		}
		if root != nil {
			t.Errorf("FindRootDirectory() = %v, want nil", root)
		}
	})

	t.Run("finds root and children", func(t *testing.T) {
		db := newTestDB(t)
		root := mustRoot(t, db, "alice")
		docs := mustSubdir(t, db, root, "docs")
		mustSubdir(t, db, root, "archive")

		found, err := db.FindRootDirectory(ctx, "alice")
		if err != nil {
			t.Fatalf("FindRootDirectory() error = %v", err)
		}
		if found == nil || found.ID != root.ID {
			t.Fatalf("FindRootDirectory() = %v, want %v", found, root.ID)
		}
		if !found.IsRoot() {
			t.Error("root.IsRoot() = false, want true")
		}

		byPath, err := db.FindDirectoryByPath(ctx, "alice", "docs")
		if err != nil {
			t.Fatalf("FindDirectoryByPath() error = %v", err)
		}
		if byPath == nil || byPath.ID != docs.ID {
			t.Fatalf("FindDirectoryByPath() = %v, want %v", byPath, docs.ID)
		}
		if byPath.ParentID != root.ID {
			t.Errorf("ParentID = %q, want %q", byPath.ParentID, root.ID)
		}

		children, err := db.ListSubdirectories(ctx, root)
		if err != nil {
			t.Fatalf("ListSubdirectories() error = %v", err)
		}
		if len(children) != 2 || children[0].Name != "archive" || children[1].Name != "docs" {
			t.Errorf("ListSubdirectories() = %v, want [archive docs]", children)
		}
	})

	t.Run("paths are scoped by owner", func(t *testing.T) {
		db := newTestDB(t)
		mustSubdir(t, db, mustRoot(t, db, "alice"), "docs")
		mustRoot(t, db, "bob")

		dir, err := db.FindDirectoryByPath(ctx, "bob", "docs")
		if err != nil {
			t.Fatalf("FindDirectoryByPath() error = %v", err)
		}
		if dir != nil {
			t.Errorf("bob sees alice's directory: %v", dir)
		}
	})

	t.Run("duplicate path returns ErrExists", func(t *testing.T) {
		db := newTestDB(t)
		root := mustRoot(t, db, "alice")
		mustSubdir(t, db, root, "docs")

		dup := &model.DirectoryEntry{
			ID:        uuid.NewString(),
			Owner:     "alice",
			Name:      "docs",
			ParentID:  root.ID,
			Path:      "docs",
			CreatedAt: time.Now().UTC(),
		}
		err := db.CreateDirectory(ctx, dup)
		if !errors.Is(err, stash.ErrExists) {
			t.Errorf("CreateDirectory() error = %v, want ErrExists", err)
		}
	})

	t.Run("unknown parent returns ErrNotFound", func(t *testing.T) {
		db := newTestDB(t)
		dir := &model.DirectoryEntry{
			ID:        uuid.NewString(),
			Owner:     "alice",
			Name:      "docs",
			ParentID:  "missing",
			Path:      "docs",
			CreatedAt: time.Now().UTC(),
		}
		err := db.CreateDirectory(ctx, dir)
		if !errors.Is(err, stash.ErrNotFound) {
			t.Errorf("CreateDirectory() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("non-empty directory cannot be deleted", func(t *testing.T) {
		db := newTestDB(t)
		root := mustRoot(t, db, "alice")
		docs := mustSubdir(t, db, root, "docs")
		if err := db.CreateEntry(ctx, newEntry(docs, "a.txt", "a")); err != nil {
			t.Fatalf("CreateEntry() error = %v", err)
		}

		if err := db.DeleteDirectory(ctx, docs); !errors.Is(err, stash.ErrValidation) {
			t.Errorf("DeleteDirectory(docs) error = %v, want ErrValidation", err)
		}
		if err := db.DeleteDirectory(ctx, root); !errors.Is(err, stash.ErrValidation) {
			t.Errorf("DeleteDirectory(root) error = %v, want ErrValidation", err)
		}
	})

	t.Run("directory with only subdirectories cannot be deleted", func(t *testing.T) {
		db := newTestDB(t)
		root := mustRoot(t, db, "alice")
		docs := mustSubdir(t, db, root, "docs")
		mustSubdir(t, db, docs, "drafts")

		if err := db.DeleteDirectory(ctx, docs); !errors.Is(err, stash.ErrValidation) {
			t.Errorf("DeleteDirectory(docs) error = %v, want ErrValidation", err)
		}
		if d, err := db.FindDirectory(ctx, docs.ID); err != nil || d == nil {
			t.Errorf("FindDirectory() after refused delete = %v, %v", d, err)
		}
	})

	t.Run("empty directory is deleted", func(t *testing.T) {
		db := newTestDB(t)
		docs := mustSubdir(t, db, mustRoot(t, db, "alice"), "docs")

		if err := db.DeleteDirectory(ctx, docs); err != nil {
			t.Fatalf("DeleteDirectory() error = %v", err)
		}
		found, err := db.FindDirectory(ctx, docs.ID)
		if err != nil {
			t.Fatalf("FindDirectory() error = %v", err)
		}
		if found != nil {
			t.Errorf("FindDirectory() = %v, want nil after delete", found)
		}
	})
}

func TestIsForeignKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"foreign key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, true},
		{"restrict on delete", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintTrigger}, true},
		{"wrapped", fmt.Errorf("deleting: %w", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintTrigger}), true},
		{"unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, false},
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isForeignKey(tt.err); got != tt.want {
				t.Errorf("isForeignKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSQLiteDatabase_Entries(t *testing.T) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		db := newTestDB(t)
		root := mustRoot(t, db, "alice")
		entry := newEntry(root, "report.pdf", "pdf bytes")

		if err := db.CreateEntry(ctx, entry); err != nil {
			t.Fatalf("CreateEntry() error = %v", err)
		}

		found, err := db.FindFile(ctx, entry.ID)
		if err != nil {
			t.Fatalf("FindFile() error = %v", err)
		}
		if found == nil {
			t.Fatal("FindFile() returned nil")
		}
		if found.Hash != entry.Hash {
			t.Errorf("Hash = %s, want %s", found.Hash, entry.Hash)
		}
		if found.Size != entry.Size || found.Name != "report.pdf" || found.Owner != "alice" {
			t.Errorf("FindFile() = %+v, want %+v", found, entry)
		}

		byName, err := db.FindFileByName(ctx, root.ID, "report.pdf")
		if err != nil {
			t.Fatalf("FindFileByName() error = %v", err)
		}
		if byName == nil || byName.ID != entry.ID {
			t.Errorf("FindFileByName() = %v, want %s", byName, entry.ID)
		}
	})

	t.Run("name collision is disambiguated", func(t *testing.T) {
		db := newTestDB(t)
		root := mustRoot(t, db, "alice")
		first := newEntry(root, "report.pdf", "one")
		second := newEntry(root, "report.pdf", "two")

		if err := db.CreateEntry(ctx, first); err != nil {
			t.Fatalf("CreateEntry(first) error = %v", err)
		}
		if err := db.CreateEntry(ctx, second); err != nil {
			t.Fatalf("CreateEntry(second) error = %v", err)
		}

		if first.Name != "report.pdf" {
			t.Errorf("first.Name = %q, want report.pdf", first.Name)
		}
		want := stash.DisambiguateName("report.pdf", second.ID)
		if second.Name != want {
			t.Errorf("second.Name = %q, want %q", second.Name, want)
		}

		files, err := db.ListFiles(ctx, root)
		if err != nil {
			t.Fatalf("ListFiles() error = %v", err)
		}
		if len(files) != 2 {
			t.Errorf("ListFiles() returned %d entries, want 2", len(files))
		}
	})

	t.Run("same name in different directories", func(t *testing.T) {
		db := newTestDB(t)
		root := mustRoot(t, db, "alice")
		docs := mustSubdir(t, db, root, "docs")
		a := newEntry(root, "a.txt", "x")
		b := newEntry(docs, "a.txt", "x")

		for _, e := range []*model.FileEntry{a, b} {
			if err := db.CreateEntry(ctx, e); err != nil {
				t.Fatalf("CreateEntry() error = %v", err)
			}
			if e.Name != "a.txt" {
				t.Errorf("Name = %q, want a.txt", e.Name)
			}
		}
	})

	t.Run("unknown directory returns ErrNotFound", func(t *testing.T) {
		db := newTestDB(t)
		entry := newEntry(&model.DirectoryEntry{ID: "missing", Owner: "alice"}, "a.txt", "a")

		if err := db.CreateEntry(ctx, entry); !errors.Is(err, stash.ErrNotFound) {
			t.Errorf("CreateEntry() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("remove returns the entry", func(t *testing.T) {
		db := newTestDB(t)
		entry := newEntry(mustRoot(t, db, "alice"), "a.txt", "a")
		if err := db.CreateEntry(ctx, entry); err != nil {
			t.Fatalf("CreateEntry() error = %v", err)
		}

		removed, err := db.RemoveEntry(ctx, entry.ID)
		if err != nil {
			t.Fatalf("RemoveEntry() error = %v", err)
		}
		if removed.ID != entry.ID || removed.Hash != entry.Hash {
			t.Errorf("RemoveEntry() = %+v, want %+v", removed, entry)
		}

		if _, err := db.RemoveEntry(ctx, entry.ID); !errors.Is(err, stash.ErrNotFound) {
			t.Errorf("second RemoveEntry() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("rename", func(t *testing.T) {
		db := newTestDB(t)
		root := mustRoot(t, db, "alice")
		a := newEntry(root, "a.txt", "a")
		b := newEntry(root, "b.txt", "b")
		for _, e := range []*model.FileEntry{a, b} {
			if err := db.CreateEntry(ctx, e); err != nil {
				t.Fatalf("CreateEntry() error = %v", err)
			}
		}

		renamed, err := db.RenameEntry(ctx, a.ID, "c.txt")
		if err != nil {
			t.Fatalf("RenameEntry() error = %v", err)
		}
		if renamed.Name != "c.txt" || renamed.Hash != a.Hash {
			t.Errorf("RenameEntry() = %+v, want name c.txt with unchanged hash", renamed)
		}

		collided, err := db.RenameEntry(ctx, renamed.ID, "b.txt")
		if err != nil {
			t.Fatalf("RenameEntry() error = %v", err)
		}
		if want := stash.DisambiguateName("b.txt", a.ID); collided.Name != want {
			t.Errorf("RenameEntry() collision name = %q, want %q", collided.Name, want)
		}

		same, err := db.RenameEntry(ctx, b.ID, "b.txt")
		if err != nil {
			t.Fatalf("RenameEntry() to own name error = %v", err)
		}
		if same.Name != "b.txt" {
			t.Errorf("RenameEntry() to own name = %q, want b.txt", same.Name)
		}

		if _, err := db.RenameEntry(ctx, "missing", "x"); !errors.Is(err, stash.ErrNotFound) {
			t.Errorf("RenameEntry(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("counts entries by hash", func(t *testing.T) {
		db := newTestDB(t)
		alice := mustRoot(t, db, "alice")
		bob := mustRoot(t, db, "bob")
		for _, e := range []*model.FileEntry{
			newEntry(alice, "a.txt", "shared"),
			newEntry(alice, "b.txt", "shared"),
			newEntry(bob, "a.txt", "shared"),
			newEntry(bob, "c.txt", "other"),
		} {
			if err := db.CreateEntry(ctx, e); err != nil {
				t.Fatalf("CreateEntry() error = %v", err)
			}
		}

		n, err := db.CountEntries(ctx, hashOf("shared"))
		if err != nil {
			t.Fatalf("CountEntries() error = %v", err)
		}
		if n != 3 {
			t.Errorf("CountEntries(shared) = %d, want 3", n)
		}

		counts, err := db.CountEntriesByHash(ctx)
		if err != nil {
			t.Fatalf("CountEntriesByHash() error = %v", err)
		}
		if counts[hashOf("shared")] != 3 || counts[hashOf("other")] != 1 || len(counts) != 2 {
			t.Errorf("CountEntriesByHash() = %v", counts)
		}
	})
}

func TestSQLiteDatabase_Ledger(t *testing.T) {
	ctx := context.Background()
	h := hashOf("content")

	t.Run("increment creates and counts", func(t *testing.T) {
		db := newTestDB(t)

		for want := int64(1); want <= 3; want++ {
			got, err := db.Increment(ctx, h)
			if err != nil {
				t.Fatalf("Increment() error = %v", err)
			}
			if got != want {
				t.Errorf("Increment() = %d, want %d", got, want)
			}
		}

		n, err := db.ReferenceCount(ctx, h)
		if err != nil {
			t.Fatalf("ReferenceCount() error = %v", err)
		}
		if n != 3 {
			t.Errorf("ReferenceCount() = %d, want 3", n)
		}
	})

	t.Run("decrement to zero deletes the row", func(t *testing.T) {
		db := newTestDB(t)
		db.Increment(ctx, h)
		db.Increment(ctx, h)

		got, err := db.Decrement(ctx, h)
		if err != nil || got != 1 {
			t.Fatalf("Decrement() = %d, %v, want 1, nil", got, err)
		}
		got, err = db.Decrement(ctx, h)
		if err != nil || got != 0 {
			t.Fatalf("Decrement() = %d, %v, want 0, nil", got, err)
		}

		refs, err := db.ListReferences(ctx)
		if err != nil {
			t.Fatalf("ListReferences() error = %v", err)
		}
		if _, ok := refs[h]; ok {
			t.Errorf("ListReferences() still has a row for %s", h.Short())
		}
	})

	t.Run("decrement without row is an invariant violation", func(t *testing.T) {
		db := newTestDB(t)

		_, err := db.Decrement(ctx, h)
		if !errors.Is(err, stash.ErrInvariantViolation) {
			t.Errorf("Decrement() error = %v, want ErrInvariantViolation", err)
		}
		n, _ := db.ReferenceCount(ctx, h)
		if n != 0 {
			t.Errorf("ReferenceCount() = %d after failed decrement, want 0", n)
		}
	})

	t.Run("set reference count", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.SetReferenceCount(ctx, h, 7); err != nil {
			t.Fatalf("SetReferenceCount(7) error = %v", err)
		}
		if n, _ := db.ReferenceCount(ctx, h); n != 7 {
			t.Errorf("ReferenceCount() = %d, want 7", n)
		}
		if err := db.SetReferenceCount(ctx, h, 2); err != nil {
			t.Fatalf("SetReferenceCount(2) error = %v", err)
		}
		if n, _ := db.ReferenceCount(ctx, h); n != 2 {
			t.Errorf("ReferenceCount() = %d, want 2", n)
		}
		if err := db.SetReferenceCount(ctx, h, 0); err != nil {
			t.Fatalf("SetReferenceCount(0) error = %v", err)
		}
		if n, _ := db.ReferenceCount(ctx, h); n != 0 {
			t.Errorf("ReferenceCount() = %d, want 0", n)
		}
		if err := db.SetReferenceCount(ctx, h, -1); err == nil {
			t.Error("SetReferenceCount(-1) expected error, got nil")
		}
	})
}

func TestSQLiteDatabase_CombinedTransactions(t *testing.T) {
	ctx := context.Background()

	t.Run("create entry and reference", func(t *testing.T) {
		db := newTestDB(t)
		root := mustRoot(t, db, "alice")

		refs, err := db.CreateEntryAndReference(ctx, newEntry(root, "a.txt", "same"))
		if err != nil || refs != 1 {
			t.Fatalf("CreateEntryAndReference() = %d, %v, want 1, nil", refs, err)
		}
		refs, err = db.CreateEntryAndReference(ctx, newEntry(root, "b.txt", "same"))
		if err != nil || refs != 2 {
			t.Fatalf("CreateEntryAndReference() = %d, %v, want 2, nil", refs, err)
		}
	})

	t.Run("failed insert leaves the ledger untouched", func(t *testing.T) {
		db := newTestDB(t)
		orphan := newEntry(&model.DirectoryEntry{ID: "missing", Owner: "alice"}, "a.txt", "content")

		if _, err := db.CreateEntryAndReference(ctx, orphan); !errors.Is(err, stash.ErrNotFound) {
			t.Fatalf("CreateEntryAndReference() error = %v, want ErrNotFound", err)
		}
		if n, _ := db.ReferenceCount(ctx, orphan.Hash); n != 0 {
			t.Errorf("ReferenceCount() = %d after rollback, want 0", n)
		}
	})

	t.Run("remove entry and dereference", func(t *testing.T) {
		db := newTestDB(t)
		root := mustRoot(t, db, "alice")
		a := newEntry(root, "a.txt", "same")
		b := newEntry(root, "b.txt", "same")
		db.CreateEntryAndReference(ctx, a)
		db.CreateEntryAndReference(ctx, b)

		removed, refs, err := db.RemoveEntryAndDereference(ctx, a.ID)
		if err != nil {
			t.Fatalf("RemoveEntryAndDereference() error = %v", err)
		}
		if removed.ID != a.ID || refs != 1 {
			t.Errorf("RemoveEntryAndDereference() = %s, %d, want %s, 1", removed.ID, refs, a.ID)
		}

		_, refs, err = db.RemoveEntryAndDereference(ctx, b.ID)
		if err != nil || refs != 0 {
			t.Fatalf("RemoveEntryAndDereference() = %d, %v, want 0, nil", refs, err)
		}

		if _, _, err := db.RemoveEntryAndDereference(ctx, b.ID); !errors.Is(err, stash.ErrNotFound) {
			t.Errorf("RemoveEntryAndDereference(removed) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("underflow rolls back the removal", func(t *testing.T) {
		db := newTestDB(t)
		entry := newEntry(mustRoot(t, db, "alice"), "a.txt", "content")
		if err := db.CreateEntry(ctx, entry); err != nil {
			t.Fatalf("CreateEntry() error = %v", err)
		}

		_, _, err := db.RemoveEntryAndDereference(ctx, entry.ID)
		if !errors.Is(err, stash.ErrInvariantViolation) {
			t.Fatalf("RemoveEntryAndDereference() error = %v, want ErrInvariantViolation", err)
		}
		found, err := db.FindFile(ctx, entry.ID)
		if err != nil {
			t.Fatalf("FindFile() error = %v", err)
		}
		if found == nil {
			t.Error("entry was removed despite the ledger error")
		}
	})
}

func TestSQLiteDatabase_Operations(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	db.SetClock(fixedClock{now})

	first, err := db.CreateOperation(ctx, "upload", "alice", "report.pdf")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if first.ID == 0 || first.Status != "running" {
		t.Errorf("CreateOperation() = %+v", first)
	}
	second, err := db.CreateOperation(ctx, "delete", "bob", "")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if err := db.FinishOperation(ctx, first.ID, "success"); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	ops, err := db.ListOperations(ctx, 10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("ListOperations() returned %d, want 2", len(ops))
	}
	if ops[0].ID != second.ID {
		t.Errorf("ListOperations()[0].ID = %d, want newest %d", ops[0].ID, second.ID)
	}
	if ops[1].Status != "success" || ops[1].FinishedAt == nil || !ops[1].FinishedAt.Equal(now) {
		t.Errorf("finished operation = %+v", ops[1])
	}
	if ops[0].FinishedAt != nil {
		t.Errorf("running operation has FinishedAt %v", ops[0].FinishedAt)
	}

	limited, err := db.ListOperations(ctx, 1)
	if err != nil {
		t.Fatalf("ListOperations(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListOperations(1) returned %d", len(limited))
	}
}

func TestSQLiteDatabase_FileBacked(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "stash.db")

	db, err := NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	if err := db.CheckMigrations(); err == nil {
		t.Error("CheckMigrations() on fresh file expected error, got nil")
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() after migrate error = %v", err)
	}
	if _, err := db.Increment(ctx, hashOf("x")); err != nil {
		t.Fatalf("Increment() error = %v", err)
	}

	backup := filepath.Join(dir, "backup.db")
	if err := db.BackupTo(backup); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}
	db.Close()

	restored, err := NewSQLiteDatabase(backup)
	if err != nil {
		t.Fatalf("opening backup error = %v", err)
	}
	defer restored.Close()
	if n, _ := restored.ReferenceCount(ctx, hashOf("x")); n != 1 {
		t.Errorf("backup ReferenceCount() = %d, want 1", n)
	}
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
