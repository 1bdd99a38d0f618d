package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// HashSize is the length in bytes of a ContentHash (SHA-256).
const HashSize = sha256.Size

// ContentHash identifies file content independent of its name or owner.
// It is the key of physical blob storage and of the reference ledger.
type ContentHash [HashSize]byte

// ParseContentHash decodes the canonical lowercase hex form of a hash.
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	if len(s) != hex.EncodedLen(HashSize) {
		return h, fmt.Errorf("invalid content hash length %d: %q", len(s), s)
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("invalid content hash %q: %w", s, err)
	}
	return h, nil
}

// String returns the canonical encoding, which is also the blob's object name.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns an abbreviated form for display.
func (h ContentHash) Short() string {
	return h.String()[:12]
}

// IsZero reports whether h is the zero value.
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

// DirectoryEntry is a logical container in an owner's namespace.
// The owner's root has an empty ParentID and an empty Path.
type DirectoryEntry struct {
	ID        string // UUID
	Owner     string
	Name      string
	ParentID  string // empty only for the root
	Path      string // materialized path, "" for the root, "a/b" below it
	CreatedAt time.Time
}

// IsRoot reports whether d is its owner's root directory.
func (d *DirectoryEntry) IsRoot() bool {
	return d.ParentID == ""
}

// FileEntry is a logical file. It references content by hash and owns no bytes.
type FileEntry struct {
	ID          string // UUID
	Owner       string
	DirectoryID string
	Name        string
	Hash        ContentHash
	Size        int64
	CreatedAt   time.Time
}

// Operation is an audit record of a mutating command.
type Operation struct {
	ID         int64
	Operation  string
	Owner      string
	Parameters string
	Status     string // "running", "success" or "error"
	StartedAt  time.Time
	FinishedAt *time.Time
}
