package staging

import (
	"github.com/spf13/afero"

	"stash-go/internal/stash"
)

// memoryStagingDir is where staged objects live inside the in-memory filesystem.
const memoryStagingDir = "/staging"

// NewMemoryStagingArea creates a staging area backed by an in-memory
// filesystem, useful for testing. Pair it with a blob store built on Fs().
func NewMemoryStagingArea(enc stash.Encryptor, chunkSize int, maxSize int64) *StagingArea {
	s, err := New(afero.NewMemMapFs(), memoryStagingDir, enc, chunkSize, maxSize)
	if err != nil {
		// MkdirAll on a fresh MemMapFs cannot fail
		panic(err)
	}
	return s
}
