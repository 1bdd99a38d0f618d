package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"stash-go/internal/model"
	"stash-go/internal/stash"
)

//go:embed postgres/schema.sql
var postgresSchema string

// Postgres SQLSTATE codes mapped to domain errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// pgQuerier is satisfied by both the pool and a transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresDatabase implements the Database interface on PostgreSQL or
// CockroachDB. Transactions run at serializable isolation and are retried
// by crdbpgx on serialization failures.
type PostgresDatabase struct {
	pool  *pgxpool.Pool
	clock stash.Clock
}

// NewPostgresDatabase connects to the database at dsn and creates the
// schema if it does not exist. Environment variables in dsn are expanded.
func NewPostgresDatabase(ctx context.Context, dsn string) (*PostgresDatabase, error) {
	config, err := pgxpool.ParseConfig(os.ExpandEnv(dsn))
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating postgres schema: %w", err)
	}

	return &PostgresDatabase{pool: pool, clock: stash.RealClock{}}, nil
}

// SetClock replaces the clock used for operation timestamps.
func (p *PostgresDatabase) SetClock(c stash.Clock) {
	p.clock = c
}

func (p *PostgresDatabase) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return crdbpgx.ExecuteTx(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const directoryColumns = "id, owner, name, parent_id, path, created_at"

func scanDirectory(row pgx.Row) (*model.DirectoryEntry, error) {
	var (
		d        model.DirectoryEntry
		parentID *string
	)
	if err := row.Scan(&d.ID, &d.Owner, &d.Name, &parentID, &d.Path, &d.CreatedAt); err != nil {
		return nil, err
	}
	if parentID != nil {
		d.ParentID = *parentID
	}
	return &d, nil
}

func (p *PostgresDatabase) findDirectory(ctx context.Context, what, where string, args ...interface{}) (*model.DirectoryEntry, error) {
	d, err := scanDirectory(p.pool.QueryRow(ctx, "SELECT "+directoryColumns+" FROM directories WHERE "+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding %s: %w", what, err)
	}
	return d, nil
}

// Directory operations

func (p *PostgresDatabase) FindDirectory(ctx context.Context, id string) (*model.DirectoryEntry, error) {
	return p.findDirectory(ctx, "directory", "id = $1", id)
}

func (p *PostgresDatabase) FindRootDirectory(ctx context.Context, owner string) (*model.DirectoryEntry, error) {
	return p.findDirectory(ctx, "root directory", "owner = $1 AND parent_id IS NULL", owner)
}

func (p *PostgresDatabase) FindDirectoryByPath(ctx context.Context, owner, path string) (*model.DirectoryEntry, error) {
	return p.findDirectory(ctx, "directory by path", "owner = $1 AND path = $2", owner, path)
}

func (p *PostgresDatabase) CreateDirectory(ctx context.Context, dir *model.DirectoryEntry) error {
	var parentID *string
	if dir.ParentID != "" {
		parentID = &dir.ParentID
	}
	_, err := p.pool.Exec(ctx,
		"INSERT INTO directories ("+directoryColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		dir.ID, dir.Owner, dir.Name, parentID, dir.Path, dir.CreatedAt)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return fmt.Errorf("%w: directory %q", stash.ErrExists, dir.Path)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: parent directory %s", stash.ErrNotFound, dir.ParentID)
		}
		return fmt.Errorf("inserting directory: %w", err)
	}
	return nil
}

func (p *PostgresDatabase) ListSubdirectories(ctx context.Context, dir *model.DirectoryEntry) ([]*model.DirectoryEntry, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT "+directoryColumns+" FROM directories WHERE parent_id = $1 ORDER BY name", dir.ID)
	if err != nil {
		return nil, fmt.Errorf("listing subdirectories: %w", err)
	}
	defer rows.Close()

	var dirs []*model.DirectoryEntry
	for rows.Next() {
		d, err := scanDirectory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning directory: %w", err)
		}
		dirs = append(dirs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing subdirectories: %w", err)
	}
	return dirs, nil
}

func (p *PostgresDatabase) DeleteDirectory(ctx context.Context, dir *model.DirectoryEntry) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM directories WHERE id = $1", dir.ID); err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("%w: directory %q is not empty", stash.ErrValidation, dir.Path)
		}
		return fmt.Errorf("deleting directory: %w", err)
	}
	return nil
}

// File entry operations

const fileColumns = "id, owner, directory_id, name, content_hash, size, created_at"

func scanFile(row pgx.Row) (*model.FileEntry, error) {
	var (
		f    model.FileEntry
		hash string
	)
	if err := row.Scan(&f.ID, &f.Owner, &f.DirectoryID, &f.Name, &hash, &f.Size, &f.CreatedAt); err != nil {
		return nil, err
	}
	h, err := model.ParseContentHash(hash)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", f.ID, err)
	}
	f.Hash = h
	return &f, nil
}

func getFile(ctx context.Context, q pgQuerier, where string, args ...interface{}) (*model.FileEntry, error) {
	f, err := scanFile(q.QueryRow(ctx, "SELECT "+fileColumns+" FROM files WHERE "+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return f, nil
}

func (p *PostgresDatabase) FindFile(ctx context.Context, id string) (*model.FileEntry, error) {
	return getFile(ctx, p.pool, "id = $1", id)
}

func (p *PostgresDatabase) FindFileByName(ctx context.Context, directoryID, name string) (*model.FileEntry, error) {
	return getFile(ctx, p.pool, "directory_id = $1 AND name = $2", directoryID, name)
}

func (p *PostgresDatabase) ListFiles(ctx context.Context, dir *model.DirectoryEntry) ([]*model.FileEntry, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT "+fileColumns+" FROM files WHERE directory_id = $1 ORDER BY name", dir.ID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var files []*model.FileEntry
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return files, nil
}

// pgFreeName returns the first candidate name not taken in the directory.
func pgFreeName(ctx context.Context, q pgQuerier, directoryID, name, id string) (string, error) {
	for _, candidate := range stash.NameCandidates(name, id) {
		existing, err := getFile(ctx, q, "directory_id = $1 AND name = $2", directoryID, candidate)
		if err != nil {
			return "", fmt.Errorf("checking name %q: %w", candidate, err)
		}
		if existing == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free name for %q", stash.ErrValidation, name)
}

func pgInsertEntry(ctx context.Context, q pgQuerier, entry *model.FileEntry) error {
	name, err := pgFreeName(ctx, q, entry.DirectoryID, entry.Name, entry.ID)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx,
		"INSERT INTO files ("+fileColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		entry.ID, entry.Owner, entry.DirectoryID, name, entry.Hash.String(), entry.Size, entry.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("%w: directory %s", stash.ErrNotFound, entry.DirectoryID)
		}
		return fmt.Errorf("inserting file: %w", err)
	}
	entry.Name = name
	return nil
}

func pgRemoveEntry(ctx context.Context, q pgQuerier, id string) (*model.FileEntry, error) {
	entry, err := scanFile(q.QueryRow(ctx,
		"DELETE FROM files WHERE id = $1 RETURNING "+fileColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: file %s", stash.ErrNotFound, id)
		}
		return nil, fmt.Errorf("deleting file: %w", err)
	}
	return entry, nil
}

func (p *PostgresDatabase) CreateEntry(ctx context.Context, entry *model.FileEntry) error {
	name := entry.Name
	return p.withTx(ctx, func(tx pgx.Tx) error {
		// the closure may run again after a retry
		entry.Name = name
		return pgInsertEntry(ctx, tx, entry)
	})
}

func (p *PostgresDatabase) RemoveEntry(ctx context.Context, id string) (*model.FileEntry, error) {
	var removed *model.FileEntry
	err := p.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		removed, err = pgRemoveEntry(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (p *PostgresDatabase) RenameEntry(ctx context.Context, id, name string) (*model.FileEntry, error) {
	var renamed *model.FileEntry
	err := p.withTx(ctx, func(tx pgx.Tx) error {
		f, err := getFile(ctx, tx, "id = $1", id)
		if err != nil {
			return err
		}
		if f == nil {
			return fmt.Errorf("%w: file %s", stash.ErrNotFound, id)
		}
		if f.Name != name {
			free, err := pgFreeName(ctx, tx, f.DirectoryID, name, id)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, "UPDATE files SET name = $1 WHERE id = $2", free, id); err != nil {
				return fmt.Errorf("renaming file: %w", err)
			}
			f.Name = free
		}
		renamed = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

func (p *PostgresDatabase) CountEntries(ctx context.Context, hash model.ContentHash) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM files WHERE content_hash = $1", hash.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting files: %w", err)
	}
	return n, nil
}

func (p *PostgresDatabase) CountEntriesByHash(ctx context.Context) (map[model.ContentHash]int64, error) {
	return p.hashCounts(ctx, "counting files by hash",
		"SELECT content_hash, COUNT(*) FROM files GROUP BY content_hash")
}

func (p *PostgresDatabase) hashCounts(ctx context.Context, what, query string) (map[model.ContentHash]int64, error) {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	counts := make(map[model.ContentHash]int64)
	for rows.Next() {
		var (
			hash string
			n    int64
		)
		if err := rows.Scan(&hash, &n); err != nil {
			return nil, fmt.Errorf("%s: %w", what, err)
		}
		h, err := model.ParseContentHash(hash)
		if err != nil {
			return nil, err
		}
		counts[h] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return counts, nil
}

// Reference ledger

func pgIncrement(ctx context.Context, q pgQuerier, hash model.ContentHash) (int64, error) {
	var refs int64
	err := q.QueryRow(ctx, `INSERT INTO content_refs (hash, refs) VALUES ($1, 1)
		ON CONFLICT (hash) DO UPDATE SET refs = content_refs.refs + 1
		RETURNING refs`, hash.String()).Scan(&refs)
	if err != nil {
		return 0, fmt.Errorf("incrementing reference: %w", err)
	}
	return refs, nil
}

// pgDecrement lowers the count by one, deleting the row instead of storing zero.
func pgDecrement(ctx context.Context, q pgQuerier, hash model.ContentHash) (int64, error) {
	var refs int64
	err := q.QueryRow(ctx,
		"UPDATE content_refs SET refs = refs - 1 WHERE hash = $1 AND refs > 1 RETURNING refs",
		hash.String()).Scan(&refs)
	if err == nil {
		return refs, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("decrementing reference: %w", err)
	}

	tag, err := q.Exec(ctx, "DELETE FROM content_refs WHERE hash = $1", hash.String())
	if err != nil {
		return 0, fmt.Errorf("deleting reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("%w: no reference row for %s", stash.ErrInvariantViolation, hash.String())
	}
	return 0, nil
}

func (p *PostgresDatabase) Increment(ctx context.Context, hash model.ContentHash) (int64, error) {
	var refs int64
	err := p.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		refs, err = pgIncrement(ctx, tx, hash)
		return err
	})
	return refs, err
}

func (p *PostgresDatabase) Decrement(ctx context.Context, hash model.ContentHash) (int64, error) {
	var refs int64
	err := p.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		refs, err = pgDecrement(ctx, tx, hash)
		return err
	})
	return refs, err
}

func (p *PostgresDatabase) ReferenceCount(ctx context.Context, hash model.ContentHash) (int64, error) {
	var refs int64
	err := p.pool.QueryRow(ctx, "SELECT refs FROM content_refs WHERE hash = $1", hash.String()).Scan(&refs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading reference: %w", err)
	}
	return refs, nil
}

func (p *PostgresDatabase) ListReferences(ctx context.Context) (map[model.ContentHash]int64, error) {
	return p.hashCounts(ctx, "listing references", "SELECT hash, refs FROM content_refs ORDER BY hash")
}

func (p *PostgresDatabase) SetReferenceCount(ctx context.Context, hash model.ContentHash, n int64) error {
	if n < 0 {
		return fmt.Errorf("negative reference count %d", n)
	}
	var err error
	if n == 0 {
		_, err = p.pool.Exec(ctx, "DELETE FROM content_refs WHERE hash = $1", hash.String())
	} else {
		_, err = p.pool.Exec(ctx, `INSERT INTO content_refs (hash, refs) VALUES ($1, $2)
			ON CONFLICT (hash) DO UPDATE SET refs = excluded.refs`, hash.String(), n)
	}
	if err != nil {
		return fmt.Errorf("setting reference count: %w", err)
	}
	return nil
}

// Combined registry + ledger transactions

func (p *PostgresDatabase) CreateEntryAndReference(ctx context.Context, entry *model.FileEntry) (int64, error) {
	var refs int64
	name := entry.Name
	err := p.withTx(ctx, func(tx pgx.Tx) error {
		entry.Name = name
		if err := pgInsertEntry(ctx, tx, entry); err != nil {
			return err
		}
		var err error
		refs, err = pgIncrement(ctx, tx, entry.Hash)
		return err
	})
	return refs, err
}

func (p *PostgresDatabase) RemoveEntryAndDereference(ctx context.Context, id string) (*model.FileEntry, int64, error) {
	var (
		removed *model.FileEntry
		refs    int64
	)
	err := p.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		removed, err = pgRemoveEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		refs, err = pgDecrement(ctx, tx, removed.Hash)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return removed, refs, nil
}

// Operation log

func (p *PostgresDatabase) CreateOperation(ctx context.Context, operation, owner, parameters string) (*model.Operation, error) {
	started := p.clock.Now()
	var id int64
	err := p.pool.QueryRow(ctx, `INSERT INTO operations (operation, owner, parameters, started_at)
		VALUES ($1, $2, $3, $4) RETURNING id`, operation, owner, parameters, started).Scan(&id)
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

func (p *PostgresDatabase) FinishOperation(ctx context.Context, id int64, status string) error {
	_, err := p.pool.Exec(ctx, "UPDATE operations SET finished_at = $1, status = $2 WHERE id = $3",
		p.clock.Now(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (p *PostgresDatabase) ListOperations(ctx context.Context, limit int) ([]*model.Operation, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, operation, owner, parameters, status, started_at, finished_at
		FROM operations ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		var op model.Operation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Owner, &op.Parameters, &op.Status, &op.StartedAt, &op.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// Close closes the connection pool.
func (p *PostgresDatabase) Close() error {
	p.pool.Close()
	return nil
}

var _ stash.Database = (*PostgresDatabase)(nil)
