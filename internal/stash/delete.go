package stash

import (
	"context"
	"errors"
	"fmt"

	"stash-go/internal/model"
)

// blobDeleteAttempts bounds retries of a blob erase after the ledger has
// dropped the last reference. A blob that still cannot be erased is left
// for Check to reclaim.
const blobDeleteAttempts = 3

// DeleteFile removes a file entry and releases its reference. The blob is
// erased only when no other entry, of any owner, still references it.
func (s *StashService) DeleteFile(ctx context.Context, owner, fileID string) error {
	entry, err := s.ownedFile(ctx, owner, fileID)
	if err != nil {
		return err
	}
	return s.deleteEntry(ctx, entry)
}

// deleteEntry removes entry and decrements the ledger in one transaction,
// then reclaims the blob if that was the last reference.
func (s *StashService) deleteEntry(ctx context.Context, entry *model.FileEntry) error {
	unlock := s.lockHash(entry.Hash)
	defer unlock()

	removed, remaining, err := s.database.RemoveEntryAndDereference(ctx, entry.ID)
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			s.violation("ledger_underflow", "file_id", entry.ID, "hash", entry.Hash.String())
		}
		return fmt.Errorf("removing file entry: %w", err)
	}

	if remaining > 0 {
		s.metrics.Deleted(false)
		s.logger.Info("file deleted",
			"owner", removed.Owner,
			"file_id", removed.ID,
			"hash", removed.Hash.Short(),
			"refs", remaining,
		)
		return nil
	}

	// The entry is gone either way; finish reclaiming even if the caller left.
	if err := s.reclaim(context.WithoutCancel(ctx), removed.Hash); err != nil {
		return err
	}
	s.metrics.Deleted(true)
	s.logger.Info("file deleted",
		"owner", removed.Owner,
		"file_id", removed.ID,
		"hash", removed.Hash.Short(),
		"refs", 0,
		"reclaimed", true,
	)
	return nil
}

// reclaim erases the blob for hash. The caller holds the hash lock and has
// observed the ledger row reach zero.
func (s *StashService) reclaim(ctx context.Context, hash ContentHash) error {
	var err error
	for attempt := 1; attempt <= blobDeleteAttempts; attempt++ {
		err = s.blobs.Delete(ctx, hash)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			s.violation("missing_blob", "hash", hash.String(), "during", "reclaim")
			return nil
		}
		s.logger.Warn("erasing blob failed", "hash", hash.Short(), "attempt", attempt, "error", err)
	}
	return NewIOError("erasing blob "+hash.Short(), err)
}

// DeleteDirectory removes a directory with every file and directory below
// it, innermost first. Each file goes through the full delete path, so
// shared content survives as long as another entry references it.
// The owner's root directory cannot be deleted.
func (s *StashService) DeleteDirectory(ctx context.Context, owner, directoryID string) (int, error) {
	dir, err := s.ownedDirectory(ctx, owner, directoryID)
	if err != nil {
		return 0, err
	}
	if dir.IsRoot() {
		return 0, fmt.Errorf("%w: cannot delete the root directory", ErrValidation)
	}
	return s.deleteTree(ctx, dir)
}

// deleteTree removes dir in post-order and returns the number of file
// entries deleted.
func (s *StashService) deleteTree(ctx context.Context, dir *model.DirectoryEntry) (int, error) {
	children, err := s.database.ListSubdirectories(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("listing subdirectories of %q: %w", dir.Path, err)
	}

	deleted := 0
	for _, child := range children {
		n, err := s.deleteTree(ctx, child)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}

	files, err := s.database.ListFiles(ctx, dir)
	if err != nil {
		return deleted, fmt.Errorf("listing files of %q: %w", dir.Path, err)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := s.deleteEntry(ctx, f); err != nil {
			if errors.Is(err, ErrNotFound) {
				// removed concurrently
				continue
			}
			return deleted, fmt.Errorf("deleting %q: %w", f.Name, err)
		}
		deleted++
	}

	if err := s.database.DeleteDirectory(ctx, dir); err != nil {
		return deleted, fmt.Errorf("removing directory %q: %w", dir.Path, err)
	}
	s.logger.Info("directory deleted", "owner", dir.Owner, "path", dir.Path, "files", deleted)
	return deleted, nil
}
