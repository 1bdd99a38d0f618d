package staging

import (
	"fmt"

	"stash-go/internal/config"
	"stash-go/internal/stash"
)

// NewStagingAreaFromConfig creates the staging area matching the blob store:
// in memory for the memory blob store, on the OS filesystem otherwise.
func NewStagingAreaFromConfig(cfg *config.Config, enc stash.Encryptor) (*StagingArea, error) {
	switch cfg.Blobs.Type {
	case "memory":
		return NewMemoryStagingArea(enc, cfg.Staging.ChunkSize, cfg.Staging.MaxSize), nil
	case "filesystem", "s3":
		if cfg.Staging.Dir == "" {
			return nil, fmt.Errorf("staging area requires staging.dir to be set")
		}
		return NewFileSystemStagingArea(cfg.Staging.Dir, enc, cfg.Staging.ChunkSize, cfg.Staging.MaxSize)
	default:
		return nil, fmt.Errorf("unknown blobs type: %s", cfg.Blobs.Type)
	}
}
