package stash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moby/locker"

	"stash-go/internal/model"
)

// StashService is the ingest orchestrator. It sequences the digest computer,
// the blob store, the file entry registry and the reference ledger so that
// every live file entry resolves to a stored blob and the ledger counts
// exactly the live entries per hash.
//
// Publishing a blob and reclaiming one are serialized per hash, so a delete
// that drops the last reference cannot erase a blob another upload has
// just published but not yet registered.
type StashService struct {
	database Database
	staging  StagingArea
	blobs    BlobStore
	decrypt  DecryptionContext
	logger   Logger
	metrics  Metrics
	clock    Clock
	idgen    IDGenerator

	hashLocks *locker.Locker
}

// NewStashService creates a new StashService with the provided dependencies.
// decrypt may be nil for services that never read content back.
func NewStashService(database Database, staging StagingArea, blobs BlobStore, decrypt DecryptionContext, logger Logger, metrics Metrics, clock Clock, idgen IDGenerator) *StashService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &StashService{
		database:  database,
		staging:   staging,
		blobs:     blobs,
		decrypt:   decrypt,
		logger:    logger,
		metrics:   metrics,
		clock:     clock,
		idgen:     idgen,
		hashLocks: locker.New(),
	}
}

// lockHash serializes publish/register and dereference/reclaim for one hash.
func (s *StashService) lockHash(hash ContentHash) func() {
	key := hash.String()
	s.hashLocks.Lock(key)
	return func() {
		_ = s.hashLocks.Unlock(key)
	}
}

// violation logs and counts a detected consistency violation.
func (s *StashService) violation(kind string, args ...any) {
	s.metrics.ConsistencyViolation(kind)
	s.logger.Error("consistency violation", append([]any{"kind", kind}, args...)...)
}

// ownedDirectory returns the directory if it exists and belongs to owner.
// Entries of other owners are reported as not found.
func (s *StashService) ownedDirectory(ctx context.Context, owner, id string) (*model.DirectoryEntry, error) {
	dir, err := s.database.FindDirectory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding directory: %w", err)
	}
	if dir == nil || dir.Owner != owner {
		return nil, fmt.Errorf("%w: directory %s", ErrNotFound, id)
	}
	return dir, nil
}

// ownedFile returns the file entry if it exists and belongs to owner.
func (s *StashService) ownedFile(ctx context.Context, owner, id string) (*model.FileEntry, error) {
	entry, err := s.database.FindFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if entry == nil || entry.Owner != owner {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, id)
	}
	return entry, nil
}

// FileInfo returns a file entry owned by owner.
func (s *StashService) FileInfo(ctx context.Context, owner, fileID string) (*model.FileEntry, error) {
	return s.ownedFile(ctx, owner, fileID)
}

// BlobLocation returns where the content of a file entry is stored.
func (s *StashService) BlobLocation(ctx context.Context, owner, fileID string) (string, error) {
	entry, err := s.ownedFile(ctx, owner, fileID)
	if err != nil {
		return "", err
	}
	loc, err := s.blobs.Locate(ctx, entry.Hash)
	if errors.Is(err, ErrNotFound) {
		s.violation("missing_blob", "file_id", entry.ID, "hash", entry.Hash.String())
		return "", fmt.Errorf("%w: %w: blob %s for file %s", ErrNotFound, ErrInvariantViolation, entry.Hash.Short(), entry.ID)
	}
	if err != nil {
		return "", fmt.Errorf("locating blob: %w", err)
	}
	return loc, nil
}

// SweepStaging removes staged objects abandoned by an earlier process.
func (s *StashService) SweepStaging(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := s.staging.Sweep(s.clock.Now().Add(-maxAge))
	if err != nil {
		return n, fmt.Errorf("sweeping staging area: %w", err)
	}
	if n > 0 {
		s.logger.Info("removed stale staged objects", "count", n)
	}
	return n, nil
}
