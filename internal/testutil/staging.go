package testutil

import (
	"stash-go/internal/staging"
	"stash-go/internal/stash"
)

const (
	// DefaultStagingMaxSize is the default max size for test staging areas (10MB).
	DefaultStagingMaxSize = 10 * 1024 * 1024

	// TestChunkSize is small so multi-chunk paths run on short test inputs.
	TestChunkSize = 16
)

// NewTestStagingArea creates a new in-memory staging area for testing.
func NewTestStagingArea(enc stash.Encryptor) *staging.StagingArea {
	return staging.NewMemoryStagingArea(enc, TestChunkSize, DefaultStagingMaxSize)
}

// NewTestStagingAreaWithSize creates a new in-memory staging area with a custom max size.
func NewTestStagingAreaWithSize(enc stash.Encryptor, maxSize int64) *staging.StagingArea {
	return staging.NewMemoryStagingArea(enc, TestChunkSize, maxSize)
}
