package stash

import (
	"context"
	"io"
	"time"

	"stash-go/internal/model"
)

// ContentHash is re-exported for callers of the service layer.
type ContentHash = model.ContentHash

// PublishOutcome reports what Publish did with a staged object.
type PublishOutcome int

const (
	// BlobCreated: the staged object became the canonical blob.
	BlobCreated PublishOutcome = iota + 1
	// BlobExisted: a blob was already present; the staged bytes were discarded.
	BlobExisted
)

func (o PublishOutcome) String() string {
	switch o {
	case BlobCreated:
		return "created"
	case BlobExisted:
		return "existed"
	default:
		return "unknown"
	}
}

// BlobStore maps a content hash to exactly one physical object.
// Objects live in a flat namespace named by ContentHash.String().
type BlobStore interface {
	// Publish makes the staged object the canonical blob for its hash if no
	// blob exists yet, or discards the staged bytes if one does. Concurrent
	// callers with the same hash all succeed and exactly one object results.
	// Once the blob is stored the outcome is returned even if the staged
	// object could not be removed; the caller discards whatever is left.
	// On error the caller discards the staged object.
	Publish(ctx context.Context, staged *StagedObject) (PublishOutcome, error)

	// Open returns a reader over the stored (possibly sealed) bytes.
	// Returns ErrNotFound if the blob does not exist.
	Open(ctx context.Context, hash ContentHash) (io.ReadCloser, error)

	// Locate returns the location of a blob, a filesystem path or an URL.
	// Returns ErrNotFound if the blob does not exist.
	Locate(ctx context.Context, hash ContentHash) (string, error)

	// Has reports whether a blob exists for hash.
	Has(ctx context.Context, hash ContentHash) (bool, error)

	// Modified returns when the blob was stored. Returns ErrNotFound if the
	// blob does not exist.
	Modified(ctx context.Context, hash ContentHash) (time.Time, error)

	// Delete physically removes a blob. Returns ErrNotFound if it is absent.
	// The caller must hold the ledger's guarantee that no reference remains.
	Delete(ctx context.Context, hash ContentHash) error

	// List returns the hashes of all stored blobs.
	List(ctx context.Context) ([]ContentHash, error)

	// ValidateSetup verifies that the store is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
