package stash

import (
	"context"
	"errors"
	"fmt"
	"io"

	"stash-go/internal/model"
)

// Upload ingests r as a new file entry named displayName in the owner's
// directory. declaredSize is the size announced by the client, or -1 when
// unknown; a mismatch with the bytes actually received fails the upload.
//
// The stages run in order: stage and hash, publish the blob, then create
// the entry and increment the ledger in one transaction. Identical content
// uploaded twice is stored once and referenced twice.
func (s *StashService) Upload(ctx context.Context, owner, directoryID, displayName string, r io.Reader, declaredSize int64) (*model.FileEntry, error) {
	name, err := SanitizeName(displayName)
	if err != nil {
		return nil, err
	}
	dir, err := s.ownedDirectory(ctx, owner, directoryID)
	if err != nil {
		return nil, err
	}

	staged, err := s.staging.Stage(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("staging upload: %w", err)
	}
	if declaredSize >= 0 && staged.Size != declaredSize {
		s.discard(staged)
		return nil, NewIOError("receiving upload", fmt.Errorf("got %d bytes, declared %d", staged.Size, declaredSize))
	}

	entry := &model.FileEntry{
		ID:          s.idgen.New(),
		Owner:       owner,
		DirectoryID: dir.ID,
		Name:        name,
		Hash:        staged.Hash,
		Size:        staged.Size,
		CreatedAt:   s.clock.Now(),
	}

	unlock := s.lockHash(staged.Hash)
	defer unlock()

	outcome, err := s.blobs.Publish(ctx, staged)
	if err != nil {
		s.discard(staged)
		return nil, fmt.Errorf("publishing blob: %w", err)
	}
	// usually a no-op; the store may leave the staged object behind
	s.discard(staged)

	refs, err := s.database.CreateEntryAndReference(ctx, entry)
	if err != nil {
		if outcome == BlobCreated {
			s.reclaimUnregistered(context.WithoutCancel(ctx), staged.Hash)
		}
		return nil, fmt.Errorf("registering file entry: %w", err)
	}

	s.metrics.Uploaded(entry.Size, outcome == BlobExisted)
	s.logger.Info("file uploaded",
		"owner", owner,
		"file_id", entry.ID,
		"name", entry.Name,
		"hash", entry.Hash.Short(),
		"size", entry.Size,
		"blob", outcome.String(),
		"refs", refs,
	)
	return entry, nil
}

// discard removes a staged object that will not be published.
func (s *StashService) discard(staged *StagedObject) {
	if err := s.staging.Discard(staged); err != nil {
		s.logger.Warn("discarding staged object", "path", staged.Path, "error", err)
	}
}

// reclaimUnregistered erases a blob this upload published when registering
// the entry failed. The caller holds the hash lock.
func (s *StashService) reclaimUnregistered(ctx context.Context, hash ContentHash) {
	refs, err := s.database.ReferenceCount(ctx, hash)
	if err != nil {
		s.logger.Warn("blob left unreferenced", "hash", hash.String(), "error", err)
		return
	}
	if refs > 0 {
		return
	}
	if err := s.blobs.Delete(ctx, hash); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("blob left unreferenced", "hash", hash.String(), "error", err)
		return
	}
	s.logger.Debug("reclaimed unregistered blob", "hash", hash.Short())
}
