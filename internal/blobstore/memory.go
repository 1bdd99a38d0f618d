package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/moby/locker"
	"github.com/spf13/afero"

	"stash-go/internal/model"
	"stash-go/internal/stash"
)

type memoryBlob struct {
	data     []byte
	modified time.Time
}

// MemoryBlobStore keeps blobs in a map. It reads staged objects from the
// staging filesystem, making it useful for testing. Publish and Delete
// serialize per hash like the other stores; mu only guards the map.
type MemoryBlobStore struct {
	staging afero.Fs
	locks   *locker.Locker

	mu    sync.RWMutex
	blobs map[model.ContentHash]memoryBlob
}

var _ stash.BlobStore = (*MemoryBlobStore)(nil)

// NewMemoryBlobStore creates an empty in-memory blob store that publishes
// staged objects found on staging.
func NewMemoryBlobStore(staging afero.Fs) *MemoryBlobStore {
	return &MemoryBlobStore{
		staging: staging,
		locks:   locker.New(),
		blobs:   make(map[model.ContentHash]memoryBlob),
	}
}

func (m *MemoryBlobStore) get(hash model.ContentHash) (memoryBlob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[hash]
	return b, ok
}

// Publish copies the staged object into memory unless the hash is present.
func (m *MemoryBlobStore) Publish(ctx context.Context, staged *stash.StagedObject) (stash.PublishOutcome, error) {
	key := staged.Hash.String()
	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	outcome := stash.BlobExisted
	if _, ok := m.get(staged.Hash); !ok {
		data, err := afero.ReadFile(m.staging, staged.Path)
		if err != nil {
			return 0, stash.NewIOError("reading staged object", err)
		}
		m.mu.Lock()
		m.blobs[staged.Hash] = memoryBlob{data: data, modified: time.Now()}
		m.mu.Unlock()
		outcome = stash.BlobCreated
	}

	// The outcome stands even if removal fails; the caller discards leftovers.
	_ = m.staging.Remove(staged.Path)
	return outcome, nil
}

// Open returns a reader over the stored bytes.
func (m *MemoryBlobStore) Open(ctx context.Context, hash model.ContentHash) (io.ReadCloser, error) {
	b, ok := m.get(hash)
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Locate returns a mem:// pseudo-URL for the blob.
func (m *MemoryBlobStore) Locate(ctx context.Context, hash model.ContentHash) (string, error) {
	if _, ok := m.get(hash); !ok {
		return "", fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
	}
	return "mem://" + hash.String(), nil
}

func (m *MemoryBlobStore) Has(ctx context.Context, hash model.ContentHash) (bool, error) {
	_, ok := m.get(hash)
	return ok, nil
}

func (m *MemoryBlobStore) Modified(ctx context.Context, hash model.ContentHash) (time.Time, error) {
	b, ok := m.get(hash)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
	}
	return b.modified, nil
}

// Delete drops the stored bytes.
func (m *MemoryBlobStore) Delete(ctx context.Context, hash model.ContentHash) error {
	key := hash.String()
	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[hash]; !ok {
		return fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
	}
	delete(m.blobs, hash)
	return nil
}

// List returns every stored hash.
func (m *MemoryBlobStore) List(ctx context.Context) ([]model.ContentHash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hashes := make([]model.ContentHash, 0, len(m.blobs))
	for h := range m.blobs {
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// Count returns the number of stored blobs.
func (m *MemoryBlobStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryBlobStore) ValidateSetup(ctx context.Context) error {
	return nil
}
