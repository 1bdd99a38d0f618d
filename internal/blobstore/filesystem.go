package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/locker"
	"github.com/spf13/afero"

	"stash-go/internal/model"
	"stash-go/internal/stash"
)

// FileSystemBlobStore stores each blob as one file named by its hash:
//
//	<root>/
//	  <hash>    (64 lowercase hex characters)
//
// It must share its afero filesystem with the staging area so that
// publishing is a rename within one volume.
type FileSystemBlobStore struct {
	fs    afero.Fs
	root  string
	locks *locker.Locker
}

var _ stash.BlobStore = (*FileSystemBlobStore)(nil)

// NewFileSystemBlobStore creates a blob store rooted at root on fsys.
func NewFileSystemBlobStore(fsys afero.Fs, root string) (*FileSystemBlobStore, error) {
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileSystemBlobStore{
		fs:    fsys,
		root:  root,
		locks: locker.New(),
	}, nil
}

func (s *FileSystemBlobStore) path(hash model.ContentHash) string {
	return filepath.Join(s.root, hash.String())
}

// Publish renames the staged object into place unless the blob exists,
// in which case the staged object is removed.
func (s *FileSystemBlobStore) Publish(ctx context.Context, staged *stash.StagedObject) (stash.PublishOutcome, error) {
	key := staged.Hash.String()
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	dest := s.path(staged.Hash)
	exists, err := afero.Exists(s.fs, dest)
	if err != nil {
		return 0, stash.NewIOError("checking blob", err)
	}
	if exists {
		// The outcome stands even if removal fails; the caller discards leftovers.
		_ = s.fs.Remove(staged.Path)
		return stash.BlobExisted, nil
	}

	if err := s.fs.Rename(staged.Path, dest); err != nil {
		return 0, stash.NewIOError("publishing blob", err)
	}
	return stash.BlobCreated, nil
}

// Open returns a reader over the stored blob.
func (s *FileSystemBlobStore) Open(ctx context.Context, hash model.ContentHash) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.path(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
		}
		return nil, stash.NewIOError("opening blob", err)
	}
	return f, nil
}

// Locate returns the blob's path.
func (s *FileSystemBlobStore) Locate(ctx context.Context, hash model.ContentHash) (string, error) {
	ok, err := s.Has(ctx, hash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
	}
	return s.path(hash), nil
}

// Has reports whether the blob file exists.
func (s *FileSystemBlobStore) Has(ctx context.Context, hash model.ContentHash) (bool, error) {
	ok, err := afero.Exists(s.fs, s.path(hash))
	if err != nil {
		return false, stash.NewIOError("checking blob", err)
	}
	return ok, nil
}

// Modified returns the blob file's mtime, which a rename from staging
// carries over from the moment the upload finished.
func (s *FileSystemBlobStore) Modified(ctx context.Context, hash model.ContentHash) (time.Time, error) {
	info, err := s.fs.Stat(s.path(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
		}
		return time.Time{}, stash.NewIOError("checking blob", err)
	}
	return info.ModTime(), nil
}

// Delete removes the blob file.
func (s *FileSystemBlobStore) Delete(ctx context.Context, hash model.ContentHash) error {
	key := hash.String()
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if err := s.fs.Remove(s.path(hash)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
		}
		return stash.NewIOError("erasing blob", err)
	}
	return nil
}

// List returns the hashes of all blob files. Files whose names are not
// hashes are skipped.
func (s *FileSystemBlobStore) List(ctx context.Context) ([]model.ContentHash, error) {
	infos, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, stash.NewIOError("listing blobs", err)
	}
	hashes := make([]model.ContentHash, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		h, err := model.ParseContentHash(info.Name())
		if err != nil {
			continue
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// ValidateSetup verifies that the blob directory is accessible and writable.
func (s *FileSystemBlobStore) ValidateSetup(ctx context.Context) error {
	info, err := s.fs.Stat(s.root)
	if err != nil {
		return fmt.Errorf("blob root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root is not a directory: %s", s.root)
	}

	tmp, err := afero.TempFile(s.fs, s.root, ".writable-*")
	if err != nil {
		return fmt.Errorf("blob root not writable: %w", err)
	}
	name := tmp.Name()
	tmp.Close()
	if err := s.fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing write test file: %w", err)
	}
	return nil
}
