package blobstore

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"stash-go/internal/config"
	"stash-go/internal/stash"
)

// NewBlobStoreFromConfig creates a BlobStore implementation based on the
// blobs config type. staging is the filesystem the staging area writes to.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.BlobsConfig, staging afero.Fs) (stash.BlobStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryBlobStore(staging), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 blob store requires s3_bucket to be set")
		}
		return NewS3BlobStoreFromConfig(ctx, cfg, staging)
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem blob store requires root to be set")
		}
		return NewFileSystemBlobStore(staging, cfg.Root)
	default:
		return nil, fmt.Errorf("unknown blobs type: %s", cfg.Type)
	}
}
