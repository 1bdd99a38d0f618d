package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"stash-go/internal/database/migrations"
	"stash-go/internal/database/sqlc"
	"stash-go/internal/model"
	"stash-go/internal/stash"
)

// maxTxAttempts bounds retries of a transaction that failed because the
// database was busy or locked.
const maxTxAttempts = 5

// SQLiteDatabase implements the Database interface using SQLite.
// Write transactions take the lock up front (_txlock=immediate), so a
// check-then-write inside one transaction cannot interleave with another.
type SQLiteDatabase struct {
	db      *sql.DB
	queries *sqlc.Queries
	path    string
	clock   stash.Clock
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, path), nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string) *SQLiteDatabase {
	return &SQLiteDatabase{
		db:      db,
		queries: sqlc.New(db),
		path:    path,
		clock:   stash.RealClock{},
	}
}

// SetClock replaces the clock used for operation timestamps.
func (s *SQLiteDatabase) SetClock(c stash.Clock) {
	s.clock = c
}

// OpenConnection opens and configures a SQLite database connection.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	memory := path == ":memory:"
	if !memory {
		params += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", path+"?"+params)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// withTx runs fn in a transaction, retrying when SQLite reports the
// database busy or locked.
func (s *SQLiteDatabase) withTx(ctx context.Context, fn func(q *sqlc.Queries) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxTxAttempts, err)
}

func (s *SQLiteDatabase) runTx(ctx context.Context, fn func(q *sqlc.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}

// isForeignKey matches foreign key failures. SQLite reports an ON DELETE
// RESTRICT violation through the trigger code rather than the foreign key
// one, and the schema defines no triggers of its own.
func isForeignKey(err error) bool {
	return isConstraint(err, sqlite3.ErrConstraintForeignKey) || isConstraint(err, sqlite3.ErrConstraintTrigger)
}

// Directory operations

func (s *SQLiteDatabase) FindDirectory(ctx context.Context, id string) (*model.DirectoryEntry, error) {
	dir, err := s.queries.GetDirectoryByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding directory: %w", err)
	}
	return directoryFromRow(dir), nil
}

func (s *SQLiteDatabase) FindRootDirectory(ctx context.Context, owner string) (*model.DirectoryEntry, error) {
	dir, err := s.queries.GetRootDirectory(ctx, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding root directory: %w", err)
	}
	return directoryFromRow(dir), nil
}

func (s *SQLiteDatabase) FindDirectoryByPath(ctx context.Context, owner, path string) (*model.DirectoryEntry, error) {
	dir, err := s.queries.GetDirectoryByOwnerAndPath(ctx, sqlc.GetDirectoryByOwnerAndPathParams{
		Owner: owner,
		Path:  path,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding directory by path: %w", err)
	}
	return directoryFromRow(dir), nil
}

func (s *SQLiteDatabase) CreateDirectory(ctx context.Context, dir *model.DirectoryEntry) error {
	err := s.queries.InsertDirectory(ctx, sqlc.InsertDirectoryParams{
		ID:        dir.ID,
		Owner:     dir.Owner,
		Name:      dir.Name,
		ParentID:  nullString(dir.ParentID),
		Path:      dir.Path,
		CreatedAt: dir.CreatedAt,
	})
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) || isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
			return fmt.Errorf("%w: directory %q", stash.ErrExists, dir.Path)
		}
		if isForeignKey(err) {
			return fmt.Errorf("%w: parent directory %s", stash.ErrNotFound, dir.ParentID)
		}
		return fmt.Errorf("inserting directory: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListSubdirectories(ctx context.Context, dir *model.DirectoryEntry) ([]*model.DirectoryEntry, error) {
	dirs, err := s.queries.GetChildDirectories(ctx, nullString(dir.ID))
	if err != nil {
		return nil, fmt.Errorf("listing subdirectories: %w", err)
	}
	return directoriesFromRows(dirs), nil
}

func (s *SQLiteDatabase) DeleteDirectory(ctx context.Context, dir *model.DirectoryEntry) error {
	if err := s.queries.DeleteDirectoryByID(ctx, dir.ID); err != nil {
		if isForeignKey(err) {
			return fmt.Errorf("%w: directory %q is not empty", stash.ErrValidation, dir.Path)
		}
		return fmt.Errorf("deleting directory: %w", err)
	}
	return nil
}

// File entry operations

func (s *SQLiteDatabase) FindFile(ctx context.Context, id string) (*model.FileEntry, error) {
	f, err := s.queries.GetFileByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return fileFromRow(f)
}

func (s *SQLiteDatabase) FindFileByName(ctx context.Context, directoryID, name string) (*model.FileEntry, error) {
	f, err := s.queries.GetFileByDirectoryAndName(ctx, sqlc.GetFileByDirectoryAndNameParams{
		DirectoryID: directoryID,
		Name:        name,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file by name: %w", err)
	}
	return fileFromRow(f)
}

func (s *SQLiteDatabase) ListFiles(ctx context.Context, dir *model.DirectoryEntry) ([]*model.FileEntry, error) {
	files, err := s.queries.GetFilesByDirectoryID(ctx, dir.ID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return filesFromRows(files)
}

func (s *SQLiteDatabase) CreateEntry(ctx context.Context, entry *model.FileEntry) error {
	return s.withTx(ctx, func(q *sqlc.Queries) error {
		return insertEntry(ctx, q, entry)
	})
}

// freeName returns the first candidate name not taken in the directory.
func freeName(ctx context.Context, q *sqlc.Queries, directoryID, name, id string) (string, error) {
	for _, candidate := range stash.NameCandidates(name, id) {
		_, err := q.GetFileByDirectoryAndName(ctx, sqlc.GetFileByDirectoryAndNameParams{
			DirectoryID: directoryID,
			Name:        candidate,
		})
		if errors.Is(err, sql.ErrNoRows) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking name %q: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("%w: no free name for %q", stash.ErrValidation, name)
}

// insertEntry disambiguates entry.Name and inserts the row.
func insertEntry(ctx context.Context, q *sqlc.Queries, entry *model.FileEntry) error {
	name, err := freeName(ctx, q, entry.DirectoryID, entry.Name, entry.ID)
	if err != nil {
		return err
	}
	err = q.InsertFile(ctx, sqlc.InsertFileParams{
		ID:          entry.ID,
		Owner:       entry.Owner,
		DirectoryID: entry.DirectoryID,
		Name:        name,
		ContentHash: entry.Hash.String(),
		Size:        entry.Size,
		CreatedAt:   entry.CreatedAt,
	})
	if err != nil {
		if isForeignKey(err) {
			return fmt.Errorf("%w: directory %s", stash.ErrNotFound, entry.DirectoryID)
		}
		return fmt.Errorf("inserting file: %w", err)
	}
	entry.Name = name
	return nil
}

func (s *SQLiteDatabase) RemoveEntry(ctx context.Context, id string) (*model.FileEntry, error) {
	var removed *model.FileEntry
	err := s.withTx(ctx, func(q *sqlc.Queries) error {
		var err error
		removed, err = removeEntry(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func removeEntry(ctx context.Context, q *sqlc.Queries, id string) (*model.FileEntry, error) {
	row, err := q.GetFileByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: file %s", stash.ErrNotFound, id)
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	entry, err := fileFromRow(row)
	if err != nil {
		return nil, err
	}
	if _, err := q.DeleteFileByID(ctx, id); err != nil {
		return nil, fmt.Errorf("deleting file: %w", err)
	}
	return entry, nil
}

func (s *SQLiteDatabase) RenameEntry(ctx context.Context, id, name string) (*model.FileEntry, error) {
	var renamed *model.FileEntry
	err := s.withTx(ctx, func(q *sqlc.Queries) error {
		row, err := q.GetFileByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: file %s", stash.ErrNotFound, id)
			}
			return fmt.Errorf("finding file: %w", err)
		}
		if row.Name != name {
			free, err := freeName(ctx, q, row.DirectoryID, name, id)
			if err != nil {
				return err
			}
			if err := q.UpdateFileName(ctx, sqlc.UpdateFileNameParams{Name: free, ID: id}); err != nil {
				return fmt.Errorf("renaming file: %w", err)
			}
			row.Name = free
		}
		renamed, err = fileFromRow(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

func (s *SQLiteDatabase) CountEntries(ctx context.Context, hash model.ContentHash) (int64, error) {
	n, err := s.queries.CountFilesByContentHash(ctx, hash.String())
	if err != nil {
		return 0, fmt.Errorf("counting files: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) CountEntriesByHash(ctx context.Context) (map[model.ContentHash]int64, error) {
	rows, err := s.queries.ListFileHashCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting files by hash: %w", err)
	}
	counts := make(map[model.ContentHash]int64, len(rows))
	for _, r := range rows {
		h, err := model.ParseContentHash(r.ContentHash)
		if err != nil {
			return nil, err
		}
		counts[h] = r.Count
	}
	return counts, nil
}

// Reference ledger

func (s *SQLiteDatabase) Increment(ctx context.Context, hash model.ContentHash) (int64, error) {
	var refs int64
	err := s.withTx(ctx, func(q *sqlc.Queries) error {
		var err error
		refs, err = q.IncrementRef(ctx, hash.String())
		if err != nil {
			return fmt.Errorf("incrementing reference: %w", err)
		}
		return nil
	})
	return refs, err
}

func (s *SQLiteDatabase) Decrement(ctx context.Context, hash model.ContentHash) (int64, error) {
	var refs int64
	err := s.withTx(ctx, func(q *sqlc.Queries) error {
		var err error
		refs, err = decrement(ctx, q, hash)
		return err
	})
	return refs, err
}

// decrement lowers the count by one, deleting the row instead of storing zero.
func decrement(ctx context.Context, q *sqlc.Queries, hash model.ContentHash) (int64, error) {
	refs, err := q.DecrementRef(ctx, hash.String())
	if err == nil {
		return refs, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("decrementing reference: %w", err)
	}

	// no row with refs > 1: either the last reference or no row at all
	if _, err := q.GetRef(ctx, hash.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: no reference row for %s", stash.ErrInvariantViolation, hash.String())
		}
		return 0, fmt.Errorf("reading reference: %w", err)
	}
	if err := q.DeleteRef(ctx, hash.String()); err != nil {
		return 0, fmt.Errorf("deleting reference: %w", err)
	}
	return 0, nil
}

func (s *SQLiteDatabase) ReferenceCount(ctx context.Context, hash model.ContentHash) (int64, error) {
	ref, err := s.queries.GetRef(ctx, hash.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading reference: %w", err)
	}
	return ref.Refs, nil
}

func (s *SQLiteDatabase) ListReferences(ctx context.Context) (map[model.ContentHash]int64, error) {
	rows, err := s.queries.ListRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	refs := make(map[model.ContentHash]int64, len(rows))
	for _, r := range rows {
		h, err := model.ParseContentHash(r.Hash)
		if err != nil {
			return nil, err
		}
		refs[h] = r.Refs
	}
	return refs, nil
}

func (s *SQLiteDatabase) SetReferenceCount(ctx context.Context, hash model.ContentHash, n int64) error {
	if n < 0 {
		return fmt.Errorf("negative reference count %d", n)
	}
	var err error
	if n == 0 {
		err = s.queries.DeleteRef(ctx, hash.String())
	} else {
		err = s.queries.UpsertRef(ctx, sqlc.UpsertRefParams{Hash: hash.String(), Refs: n})
	}
	if err != nil {
		return fmt.Errorf("setting reference count: %w", err)
	}
	return nil
}

// Combined registry + ledger transactions

// CreateEntryAndReference inserts the entry and increments its hash in one
// transaction, so the ledger never counts an entry that does not exist.
func (s *SQLiteDatabase) CreateEntryAndReference(ctx context.Context, entry *model.FileEntry) (int64, error) {
	var refs int64
	err := s.withTx(ctx, func(q *sqlc.Queries) error {
		if err := insertEntry(ctx, q, entry); err != nil {
			return err
		}
		var err error
		refs, err = q.IncrementRef(ctx, entry.Hash.String())
		if err != nil {
			return fmt.Errorf("incrementing reference: %w", err)
		}
		return nil
	})
	return refs, err
}

// RemoveEntryAndDereference deletes the entry and decrements its hash in
// one transaction.
func (s *SQLiteDatabase) RemoveEntryAndDereference(ctx context.Context, id string) (*model.FileEntry, int64, error) {
	var (
		removed *model.FileEntry
		refs    int64
	)
	err := s.withTx(ctx, func(q *sqlc.Queries) error {
		var err error
		removed, err = removeEntry(ctx, q, id)
		if err != nil {
			return err
		}
		refs, err = decrement(ctx, q, removed.Hash)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return removed, refs, nil
}

// Operation log

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, operation, owner, parameters string) (*model.Operation, error) {
	started := s.clock.Now()
	id, err := s.queries.InsertOperation(ctx, sqlc.InsertOperationParams{
		Operation:  operation,
		Owner:      owner,
		Parameters: parameters,
		StartedAt:  started,
	})
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return &model.Operation{
		ID:         id,
		Operation:  operation,
		Owner:      owner,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  started,
	}, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string) error {
	err := s.queries.UpdateOperationFinished(ctx, sqlc.UpdateOperationFinishedParams{
		FinishedAt: sql.NullTime{Time: s.clock.Now(), Valid: true},
		Status:     status,
		ID:         id,
	})
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*model.Operation, error) {
	ops, err := s.queries.GetOperations(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	result := make([]*model.Operation, len(ops))
	for i := range ops {
		result[i] = operationFromRow(ops[i])
	}
	return result, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// MigrateUp applies pending schema migrations.
func (s *SQLiteDatabase) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if strings.TrimSpace(destPath) == "" {
		return fmt.Errorf("backup path is empty")
	}
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements stash.Database interface
var _ stash.Database = (*SQLiteDatabase)(nil)
