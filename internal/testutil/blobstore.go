package testutil

import (
	"stash-go/internal/blobstore"
	"stash-go/internal/staging"
)

// NewTestBlobStore creates an in-memory blob store that publishes from the
// given staging area's filesystem.
func NewTestBlobStore(sa *staging.StagingArea) *blobstore.MemoryBlobStore {
	return blobstore.NewMemoryBlobStore(sa.Fs())
}
