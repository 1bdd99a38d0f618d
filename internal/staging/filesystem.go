package staging

import (
	"github.com/spf13/afero"

	"stash-go/internal/stash"
)

// NewFileSystemStagingArea creates a staging area in dir on the OS
// filesystem. dir should live on the same volume as the filesystem blob
// store so that publishing is an atomic rename.
func NewFileSystemStagingArea(dir string, enc stash.Encryptor, chunkSize int, maxSize int64) (*StagingArea, error) {
	return New(afero.NewOsFs(), dir, enc, chunkSize, maxSize)
}
