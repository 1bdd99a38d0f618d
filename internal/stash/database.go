package stash

import (
	"context"

	"stash-go/internal/model"
)

// Database holds the file entry registry, the directory tree and the
// reference ledger. Lookups return (nil, nil) when nothing matches.
// Implementations retry transient conflicts a bounded number of times.
type Database interface {
	// Directory operations

	// FindDirectory returns a directory by ID.
	FindDirectory(ctx context.Context, id string) (*model.DirectoryEntry, error)

	// FindRootDirectory returns the owner's root directory.
	FindRootDirectory(ctx context.Context, owner string) (*model.DirectoryEntry, error)

	// FindDirectoryByPath returns the owner's directory with an exact path match.
	FindDirectoryByPath(ctx context.Context, owner, path string) (*model.DirectoryEntry, error)

	// CreateDirectory inserts a directory row. Fails with ErrExists if the
	// owner already has a directory at the same path.
	CreateDirectory(ctx context.Context, dir *model.DirectoryEntry) error

	// ListSubdirectories returns the direct children of dir, ordered by name.
	ListSubdirectories(ctx context.Context, dir *model.DirectoryEntry) ([]*model.DirectoryEntry, error)

	// DeleteDirectory removes an empty directory row.
	DeleteDirectory(ctx context.Context, dir *model.DirectoryEntry) error

	// File entry operations

	// FindFile returns a file entry by ID.
	FindFile(ctx context.Context, id string) (*model.FileEntry, error)

	// FindFileByName returns the entry with the given display name in a directory.
	FindFileByName(ctx context.Context, directoryID, name string) (*model.FileEntry, error)

	// ListFiles returns the entries of a directory, ordered by name.
	ListFiles(ctx context.Context, dir *model.DirectoryEntry) ([]*model.FileEntry, error)

	// CreateEntry inserts a file entry without touching the ledger. If the
	// name is taken in the directory, entry.Name is disambiguated in place.
	CreateEntry(ctx context.Context, entry *model.FileEntry) error

	// RemoveEntry deletes a file entry without touching the ledger.
	// Returns the removed entry, or ErrNotFound.
	RemoveEntry(ctx context.Context, id string) (*model.FileEntry, error)

	// RenameEntry changes only the display name, disambiguating on collision.
	RenameEntry(ctx context.Context, id, name string) (*model.FileEntry, error)

	// CountEntries returns the number of live entries referencing hash.
	CountEntries(ctx context.Context, hash ContentHash) (int64, error)

	// CountEntriesByHash returns live entry counts for every referenced hash.
	CountEntriesByHash(ctx context.Context) (map[ContentHash]int64, error)

	// Reference ledger

	// Increment adds one reference to hash, creating the row at 1.
	Increment(ctx context.Context, hash ContentHash) (int64, error)

	// Decrement removes one reference from hash and deletes the row when it
	// reaches zero, in the same transaction. Fails with ErrInvariantViolation
	// when no row exists.
	Decrement(ctx context.Context, hash ContentHash) (int64, error)

	// ReferenceCount returns the ledger count for hash, 0 when no row exists.
	ReferenceCount(ctx context.Context, hash ContentHash) (int64, error)

	// ListReferences returns every ledger row.
	ListReferences(ctx context.Context) (map[ContentHash]int64, error)

	// SetReferenceCount overwrites a ledger row; n == 0 deletes it.
	SetReferenceCount(ctx context.Context, hash ContentHash, n int64) error

	// Combined registry + ledger transactions

	// CreateEntryAndReference runs CreateEntry and Increment atomically.
	// Returns the resulting reference count.
	CreateEntryAndReference(ctx context.Context, entry *model.FileEntry) (int64, error)

	// RemoveEntryAndDereference runs RemoveEntry and Decrement atomically.
	// Returns the removed entry and the remaining reference count.
	RemoveEntryAndDereference(ctx context.Context, id string) (*model.FileEntry, int64, error)

	// Operation log

	// CreateOperation records the start of a mutating operation.
	CreateOperation(ctx context.Context, operation, owner, parameters string) (*model.Operation, error)

	// FinishOperation records the final status of an operation.
	FinishOperation(ctx context.Context, id int64, status string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(ctx context.Context, limit int) ([]*model.Operation, error)

	// Close closes the database connection.
	Close() error
}
