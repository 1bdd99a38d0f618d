package stash

import (
	"context"
	"io"
	"time"
)

// StagedObject is a temporary object holding the full bytes of one upload,
// together with the hash computed over those bytes while they were written.
// A staged object is either published by the BlobStore or discarded.
type StagedObject struct {
	Path string      // location inside the staging filesystem
	Hash ContentHash // hash of the plaintext
	Size int64       // plaintext size in bytes
}

// StagingArea is the digest computer: it streams an upload to temporary
// storage in fixed-size chunks while hashing it incrementally.
type StagingArea interface {
	// Stage copies r to a new temporary object. On any error, including
	// context cancellation, the partial object has already been removed.
	// Fails with an *IOError when the temporary object cannot be written
	// and with ErrTooLarge when the upload exceeds the size limit.
	Stage(ctx context.Context, r io.Reader) (*StagedObject, error)

	// Discard removes a staged object that will not be published.
	// Discarding an object that no longer exists is not an error.
	Discard(obj *StagedObject) error

	// Sweep removes staged objects last modified before the cutoff, left
	// behind by a crashed process. Returns the number removed.
	Sweep(cutoff time.Time) (int, error)
}
