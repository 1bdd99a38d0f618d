package stash

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"stash-go/internal/model"
)

// Listing is the content of one directory.
type Listing struct {
	Directory   *model.DirectoryEntry
	Directories []*model.DirectoryEntry
	Files       []*model.FileEntry
}

// LookupResult is a path resolved to either a directory or a file.
type LookupResult struct {
	Directory *model.DirectoryEntry
	File      *model.FileEntry
}

// RootDirectory returns the owner's root directory, creating it on first use.
func (s *StashService) RootDirectory(ctx context.Context, owner string) (*model.DirectoryEntry, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is empty", ErrValidation)
	}
	root, err := s.database.FindRootDirectory(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("finding root directory: %w", err)
	}
	if root != nil {
		return root, nil
	}

	root = &model.DirectoryEntry{
		ID:        s.idgen.New(),
		Owner:     owner,
		Name:      "/",
		CreatedAt: s.clock.Now(),
	}
	err = s.database.CreateDirectory(ctx, root)
	if errors.Is(err, ErrExists) {
		// created concurrently
		root, err = s.database.FindRootDirectory(ctx, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	s.logger.Info("root directory created", "owner", owner)
	return root, nil
}

// CreateDirectory creates a directory named name below parentID.
func (s *StashService) CreateDirectory(ctx context.Context, owner, parentID, name string) (*model.DirectoryEntry, error) {
	if err := ValidateDirectoryName(name); err != nil {
		return nil, err
	}
	parent, err := s.ownedDirectory(ctx, owner, parentID)
	if err != nil {
		return nil, err
	}

	dir := &model.DirectoryEntry{
		ID:        s.idgen.New(),
		Owner:     owner,
		Name:      name,
		ParentID:  parent.ID,
		Path:      JoinPath(parent.Path, name),
		CreatedAt: s.clock.Now(),
	}
	if err := s.database.CreateDirectory(ctx, dir); err != nil {
		return nil, fmt.Errorf("creating directory %q: %w", dir.Path, err)
	}
	s.logger.Info("directory created", "owner", owner, "path", dir.Path)
	return dir, nil
}

// MakeDirectories creates every missing directory along p, like mkdir -p,
// and returns the last one.
func (s *StashService) MakeDirectories(ctx context.Context, owner, p string) (*model.DirectoryEntry, error) {
	dir, err := s.RootDirectory(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, name := range splitPath(p) {
		existing, err := s.database.FindDirectoryByPath(ctx, owner, JoinPath(dir.Path, name))
		if err != nil {
			return nil, fmt.Errorf("finding directory: %w", err)
		}
		if existing != nil {
			dir = existing
			continue
		}
		dir, err = s.CreateDirectory(ctx, owner, dir.ID, name)
		if err != nil {
			return nil, err
		}
	}
	return dir, nil
}

// ListDirectory returns the subdirectories and files of a directory.
func (s *StashService) ListDirectory(ctx context.Context, owner, directoryID string) (*Listing, error) {
	dir, err := s.ownedDirectory(ctx, owner, directoryID)
	if err != nil {
		return nil, err
	}
	dirs, err := s.database.ListSubdirectories(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("listing subdirectories: %w", err)
	}
	files, err := s.database.ListFiles(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return &Listing{Directory: dir, Directories: dirs, Files: files}, nil
}

// Lookup resolves a slash-separated path in the owner's namespace.
// The empty path and "/" resolve to the root directory.
func (s *StashService) Lookup(ctx context.Context, owner, p string) (*LookupResult, error) {
	segments := splitPath(p)
	if len(segments) == 0 {
		root, err := s.RootDirectory(ctx, owner)
		if err != nil {
			return nil, err
		}
		return &LookupResult{Directory: root}, nil
	}

	full := strings.Join(segments, "/")
	dir, err := s.database.FindDirectoryByPath(ctx, owner, full)
	if err != nil {
		return nil, fmt.Errorf("finding directory: %w", err)
	}
	if dir != nil {
		return &LookupResult{Directory: dir}, nil
	}

	parentPath := strings.Join(segments[:len(segments)-1], "/")
	parent, err := s.database.FindDirectoryByPath(ctx, owner, parentPath)
	if err != nil {
		return nil, fmt.Errorf("finding directory: %w", err)
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, full)
	}
	file, err := s.database.FindFileByName(ctx, parent.ID, segments[len(segments)-1])
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if file == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, full)
	}
	return &LookupResult{File: file}, nil
}

// Rename changes the display name of a file entry. The content, and so the
// ledger, is untouched. A colliding name is disambiguated.
func (s *StashService) Rename(ctx context.Context, owner, fileID, newName string) (*model.FileEntry, error) {
	name, err := SanitizeName(newName)
	if err != nil {
		return nil, err
	}
	entry, err := s.ownedFile(ctx, owner, fileID)
	if err != nil {
		return nil, err
	}
	if entry.Name == name {
		return entry, nil
	}
	renamed, err := s.database.RenameEntry(ctx, entry.ID, name)
	if err != nil {
		return nil, fmt.Errorf("renaming file: %w", err)
	}
	s.logger.Info("file renamed", "owner", owner, "file_id", entry.ID, "from", entry.Name, "to", renamed.Name)
	return renamed, nil
}

func splitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}
