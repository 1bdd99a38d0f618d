package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"stash-go/internal/blobstore"
	"stash-go/internal/config"
	"stash-go/internal/database"
	"stash-go/internal/encryption"
	"stash-go/internal/fs"
	"stash-go/internal/httpapi"
	"stash-go/internal/metrics"
	"stash-go/internal/model"
	"stash-go/internal/staging"
	"stash-go/internal/stash"
)

// StaleStagingAge is how old a staged object must be before startup sweeps it.
const StaleStagingAge = 24 * time.Hour

// Options controls how NewStashApp wires the application.
type Options struct {
	// Operation identifies the CLI command being run (e.g. "Upload", "Check").
	Operation string
	// Owner is the namespace the command acts in.
	Owner string
	// Passphrase unlocks the private key when encrypted content is read.
	// It is only called on the first read.
	Passphrase PassphraseFunc
	// SkipMigrationCheck opens a database whose schema is out of date.
	// Only the migrate command sets it.
	SkipMigrationCheck bool
}

// StashApp is the application layer between the CLI and StashService.
// It constructs all dependencies from config, exposes high-level operations
// that accept user-visible paths, and manages the DB lifecycle on Close.
type StashApp struct {
	cfg     *config.Config
	owner   string
	db      stash.Database
	blobs   stash.BlobStore
	local   afero.Fs
	walker  *fs.Walker
	metrics *metrics.Prometheus
	service *stash.StashService
	logger  *slog.Logger
	op      *Operation
	logFile *os.File
}

// NewStashApp creates a fully wired StashApp from the given config.
// The caller must call Close when done.
func NewStashApp(ctx context.Context, cfg *config.Config, opts Options) (*StashApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	sa, err := staging.NewStagingAreaFromConfig(cfg, enc)
	if err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}

	blobs, err := blobstore.NewBlobStoreFromConfig(ctx, cfg.Blobs, sa.Fs())
	if err != nil {
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(ctx, cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if m, ok := db.(database.Migratable); ok && !opts.SkipMigrationCheck {
		if err := m.CheckMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("database schema out of date (run `stash db migrate`): %w", err)
		}
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	m := metrics.New()
	decrypt := newLazyDecryption(cfg.Encryption, enc, opts.Passphrase)
	svc := stash.NewStashService(db, sa, blobs, decrypt, &slogAdapter{l: logger}, m, stash.RealClock{}, stash.UUIDGenerator{})

	local := afero.NewOsFs()
	a := &StashApp{
		cfg:     cfg,
		owner:   opts.Owner,
		db:      db,
		blobs:   blobs,
		local:   local,
		walker:  fs.NewWalker(local, cfg.Filesystem.Ignore),
		metrics: m,
		service: svc,
		logger:  logger,
		op:      NewOperation(opts.Operation, opts.Owner),
		logFile: logFile,
	}

	if _, err := svc.SweepStaging(ctx, StaleStagingAge); err != nil {
		logger.Warn("sweeping staging area failed", "error", err)
	}
	return a, nil
}

// Service exposes the wired StashService.
func (a *StashApp) Service() *stash.StashService {
	return a.service
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for mutating commands.
func (a *StashApp) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(ctx, a.op.Operation, a.op.Owner, parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// lookupFile resolves a remote path that must name a file.
func (a *StashApp) lookupFile(ctx context.Context, remotePath string) (*model.FileEntry, error) {
	res, err := a.service.Lookup(ctx, a.owner, remotePath)
	if err != nil {
		return nil, err
	}
	if res.File == nil {
		return nil, fmt.Errorf("%w: %s is a directory", stash.ErrValidation, remotePath)
	}
	return res.File, nil
}

// lookupDirectory resolves a remote path that must name a directory.
func (a *StashApp) lookupDirectory(ctx context.Context, remotePath string) (*model.DirectoryEntry, error) {
	res, err := a.service.Lookup(ctx, a.owner, remotePath)
	if err != nil {
		return nil, err
	}
	if res.Directory == nil {
		return nil, fmt.Errorf("%w: %s is a file", stash.ErrValidation, remotePath)
	}
	return res.Directory, nil
}

// MakeDirectories creates remotePath and any missing parents.
func (a *StashApp) MakeDirectories(ctx context.Context, remotePath string) (*model.DirectoryEntry, error) {
	if err := a.persistOperation(ctx, remotePath); err != nil {
		return nil, err
	}
	dir, err := a.service.MakeDirectories(ctx, a.owner, remotePath)
	return dir, a.op.Record(err)
}

// List returns the content of the directory at remotePath. A path naming
// a file yields a listing holding only that file.
func (a *StashApp) List(ctx context.Context, remotePath string) (*stash.Listing, error) {
	res, err := a.service.Lookup(ctx, a.owner, remotePath)
	if err != nil {
		return nil, err
	}
	if res.File != nil {
		return &stash.Listing{Files: []*model.FileEntry{res.File}}, nil
	}
	return a.service.ListDirectory(ctx, a.owner, res.Directory.ID)
}

// Upload stores the local file or directory tree at localPath under the
// remote directory remoteDir, mirroring subdirectories. Files that change
// while being read are removed again and reported. Returns the entries
// created; on partial failure the error joins every per-file failure.
func (a *StashApp) Upload(ctx context.Context, localPath, remoteDir string, recursive bool) ([]*model.FileEntry, error) {
	if err := a.persistOperation(ctx, localPath+" -> "+remoteDir); err != nil {
		return nil, err
	}

	files, err := a.walker.FindFiles(localPath, recursive)
	if err != nil {
		return nil, a.op.Record(err)
	}

	var (
		created []*model.FileEntry
		errs    []error
	)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		entry, err := a.uploadOne(ctx, f, path.Join(remoteDir, f.Dir()))
		if err != nil {
			a.logger.Warn("upload failed", "path", f.Path, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", f.Rel, err))
			continue
		}
		created = append(created, entry)
	}
	return created, a.op.Record(errors.Join(errs...))
}

func (a *StashApp) uploadOne(ctx context.Context, f *fs.LocalFile, remoteDir string) (*model.FileEntry, error) {
	dir, err := a.service.MakeDirectories(ctx, a.owner, remoteDir)
	if err != nil {
		return nil, err
	}

	rc, err := a.walker.Open(f)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	entry, err := a.service.Upload(ctx, a.owner, dir.ID, filepath.Base(f.Path), rc, f.Size)
	rc.Close()
	if err != nil {
		return nil, err
	}

	unchanged, err := a.walker.Unchanged(f)
	if err == nil && unchanged {
		return entry, nil
	}
	if delErr := a.service.DeleteFile(ctx, a.owner, entry.ID); delErr != nil {
		return nil, errors.Join(fmt.Errorf("file changed during upload"), delErr)
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("file changed during upload")
}

// Download writes the content of the remote file to localPath. When
// localPath is an existing directory, the display name is appended.
// The file is written to a temporary name and renamed into place.
func (a *StashApp) Download(ctx context.Context, remotePath, localPath string) (string, error) {
	file, err := a.lookupFile(ctx, remotePath)
	if err != nil {
		return "", err
	}

	target, err := filepath.Abs(localPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if info, err := a.local.Stat(target); err == nil && info.IsDir() {
		target = filepath.Join(target, file.Name)
	}

	rc, _, err := a.service.Download(ctx, a.owner, file.ID)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := afero.TempFile(a.local, filepath.Dir(target), ".stash-download-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary file: %w", err)
	}
	tmpName := tmp.Name()
	written, err := io.Copy(tmp, rc)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && written != file.Size {
		err = fmt.Errorf("%w: read %d bytes, entry records %d", stash.ErrInvariantViolation, written, file.Size)
	}
	if err != nil {
		a.local.Remove(tmpName)
		return "", fmt.Errorf("writing %s: %w", target, err)
	}
	if err := a.local.Rename(tmpName, target); err != nil {
		a.local.Remove(tmpName)
		return "", fmt.Errorf("moving download into place: %w", err)
	}
	return target, nil
}

// Remove deletes the file entry at remotePath.
func (a *StashApp) Remove(ctx context.Context, remotePath string) error {
	if err := a.persistOperation(ctx, remotePath); err != nil {
		return err
	}
	file, err := a.lookupFile(ctx, remotePath)
	if err != nil {
		return a.op.Record(err)
	}
	return a.op.Record(a.service.DeleteFile(ctx, a.owner, file.ID))
}

// RemoveDirectory deletes the directory at remotePath and everything below
// it. Returns the number of file entries removed.
func (a *StashApp) RemoveDirectory(ctx context.Context, remotePath string) (int, error) {
	if err := a.persistOperation(ctx, remotePath); err != nil {
		return 0, err
	}
	dir, err := a.lookupDirectory(ctx, remotePath)
	if err != nil {
		return 0, a.op.Record(err)
	}
	n, err := a.service.DeleteDirectory(ctx, a.owner, dir.ID)
	return n, a.op.Record(err)
}

// Rename gives the file at remotePath a new display name in the same
// directory.
func (a *StashApp) Rename(ctx context.Context, remotePath, newName string) (*model.FileEntry, error) {
	if strings.Contains(newName, "/") {
		return nil, fmt.Errorf("%w: files can only be renamed within their directory", stash.ErrValidation)
	}
	if err := a.persistOperation(ctx, remotePath+" -> "+newName); err != nil {
		return nil, err
	}
	file, err := a.lookupFile(ctx, remotePath)
	if err != nil {
		return nil, a.op.Record(err)
	}
	renamed, err := a.service.Rename(ctx, a.owner, file.ID, newName)
	return renamed, a.op.Record(err)
}

// Check runs a consistency check of the whole store. Only repairing runs
// are recorded as operations.
func (a *StashApp) Check(ctx context.Context, repair bool) (*stash.CheckReport, error) {
	if repair {
		if err := a.persistOperation(ctx, "repair"); err != nil {
			return nil, err
		}
	}
	report, err := a.service.Check(ctx, repair)
	return report, a.op.Record(err)
}

// GetHistory returns the most recent recorded operations.
func (a *StashApp) GetHistory(ctx context.Context, limit int) ([]*model.Operation, error) {
	return a.service.GetHistory(ctx, limit)
}

// BackupDatabase snapshots the metadata database to path.
func (a *StashApp) BackupDatabase(path string) error {
	b, ok := a.db.(database.Backupable)
	if !ok {
		return fmt.Errorf("database type %q does not support backups", a.cfg.Database.Type)
	}
	return b.BackupTo(path)
}

// MigrateDatabase applies pending schema migrations.
func (a *StashApp) MigrateDatabase() error {
	m, ok := a.db.(database.Migratable)
	if !ok {
		return fmt.Errorf("database type %q manages its own schema", a.cfg.Database.Type)
	}
	return m.MigrateUp()
}

// Serve runs the HTTP adapter until ctx is cancelled.
func (a *StashApp) Serve(ctx context.Context) error {
	srv := httpapi.New(a.service, &slogAdapter{l: a.logger}, a.cfg.Server, a.metrics.Handler())
	return srv.ListenAndServe(ctx, a.cfg.Server.Listen)
}

// Close finalizes the operation and closes all resources.
func (a *StashApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(context.Background(), a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
