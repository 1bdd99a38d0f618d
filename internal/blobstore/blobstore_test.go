package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"stash-go/internal/model"
	"stash-go/internal/stash"
)

type storeFactory func(t *testing.T, staging afero.Fs) stash.BlobStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"filesystem": func(t *testing.T, staging afero.Fs) stash.BlobStore {
			s, err := NewFileSystemBlobStore(staging, "/blobs")
			if err != nil {
				t.Fatalf("NewFileSystemBlobStore() error = %v", err)
			}
			return s
		},
		"memory": func(t *testing.T, staging afero.Fs) stash.BlobStore {
			return NewMemoryBlobStore(staging)
		},
		"s3": func(t *testing.T, staging afero.Fs) stash.BlobStore {
			return NewS3BlobStore(newFakeS3(), "bucket", "blobs/", staging)
		},
	}
}

var stageCounter struct {
	sync.Mutex
	n int
}

// stage writes content to a fresh staged object on fsys.
func stage(t *testing.T, fsys afero.Fs, content string) *stash.StagedObject {
	t.Helper()
	stageCounter.Lock()
	stageCounter.n++
	name := filepath.Join("/staging", fmt.Sprintf("upload-%d", stageCounter.n))
	stageCounter.Unlock()

	if err := afero.WriteFile(fsys, name, []byte(content), 0o600); err != nil {
		t.Fatalf("writing staged object: %v", err)
	}
	return &stash.StagedObject{
		Path: name,
		Hash: model.ContentHash(sha256.Sum256([]byte(content))),
		Size: int64(len(content)),
	}
}

func readBlob(t *testing.T, s stash.BlobStore, hash model.ContentHash) string {
	t.Helper()
	rc, err := s.Open(context.Background(), hash)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	return string(data)
}

func TestBlobStore_PublishOpen(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fsys := afero.NewMemMapFs()
			s := newStore(t, fsys)

			staged := stage(t, fsys, "hello world")
			outcome, err := s.Publish(ctx, staged)
			if err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if outcome != stash.BlobCreated {
				t.Errorf("Publish() outcome = %v, want %v", outcome, stash.BlobCreated)
			}
			if got := readBlob(t, s, staged.Hash); got != "hello world" {
				t.Errorf("Open() content = %q, want %q", got, "hello world")
			}
			if ok, _ := afero.Exists(fsys, staged.Path); ok {
				t.Error("staged object still present after Publish")
			}
		})
	}
}

func TestBlobStore_PublishExisting(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fsys := afero.NewMemMapFs()
			s := newStore(t, fsys)

			first := stage(t, fsys, "same bytes")
			if _, err := s.Publish(ctx, first); err != nil {
				t.Fatalf("first Publish() error = %v", err)
			}

			second := stage(t, fsys, "same bytes")
			outcome, err := s.Publish(ctx, second)
			if err != nil {
				t.Fatalf("second Publish() error = %v", err)
			}
			if outcome != stash.BlobExisted {
				t.Errorf("second Publish() outcome = %v, want %v", outcome, stash.BlobExisted)
			}
			if ok, _ := afero.Exists(fsys, second.Path); ok {
				t.Error("duplicate staged object was not discarded")
			}

			hashes, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(hashes) != 1 {
				t.Errorf("List() returned %d blobs, want 1", len(hashes))
			}
		})
	}
}

func TestBlobStore_ConcurrentPublish(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fsys := afero.NewMemMapFs()
			s := newStore(t, fsys)

			const n = 8
			staged := make([]*stash.StagedObject, n)
			for i := range staged {
				staged[i] = stage(t, fsys, "contended content")
			}

			var wg sync.WaitGroup
			outcomes := make([]stash.PublishOutcome, n)
			errs := make([]error, n)
			for i := range staged {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					outcomes[i], errs[i] = s.Publish(ctx, staged[i])
				}(i)
			}
			wg.Wait()

			created := 0
			for i := range outcomes {
				if errs[i] != nil {
					t.Fatalf("Publish() #%d error = %v", i, errs[i])
				}
				if outcomes[i] == stash.BlobCreated {
					created++
				}
			}
			if created != 1 {
				t.Errorf("%d publishers created the blob, want exactly 1", created)
			}
			if got := readBlob(t, s, staged[0].Hash); got != "contended content" {
				t.Errorf("Open() content = %q", got)
			}
		})
	}
}

func TestBlobStore_Delete(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fsys := afero.NewMemMapFs()
			s := newStore(t, fsys)

			staged := stage(t, fsys, "to be erased")
			if _, err := s.Publish(ctx, staged); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}

			if err := s.Delete(ctx, staged.Hash); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if ok, err := s.Has(ctx, staged.Hash); err != nil || ok {
				t.Errorf("Has() = %v, %v after Delete, want false, nil", ok, err)
			}

			err := s.Delete(ctx, staged.Hash)
			if !errors.Is(err, stash.ErrNotFound) {
				t.Errorf("second Delete() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestBlobStore_MissingBlob(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t, afero.NewMemMapFs())
			missing := model.ContentHash(sha256.Sum256([]byte("never stored")))

			if _, err := s.Open(ctx, missing); !errors.Is(err, stash.ErrNotFound) {
				t.Errorf("Open() error = %v, want ErrNotFound", err)
			}
			if _, err := s.Locate(ctx, missing); !errors.Is(err, stash.ErrNotFound) {
				t.Errorf("Locate() error = %v, want ErrNotFound", err)
			}
			if ok, err := s.Has(ctx, missing); err != nil || ok {
				t.Errorf("Has() = %v, %v, want false, nil", ok, err)
			}
		})
	}
}

// sticky wraps a filesystem whose Remove always fails.
type sticky struct{ afero.Fs }

func (sticky) Remove(string) error { return errors.New("device busy") }

func TestBlobStore_PublishKeepsOutcomeWhenStagedRemovalFails(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fsys := sticky{afero.NewMemMapFs()}
			s := newStore(t, fsys)

			outcome, err := s.Publish(ctx, stage(t, fsys, "kept"))
			if err != nil || outcome != stash.BlobCreated {
				t.Fatalf("Publish() = %v, %v, want created, nil", outcome, err)
			}
			dup := stage(t, fsys, "kept")
			outcome, err = s.Publish(ctx, dup)
			if err != nil || outcome != stash.BlobExisted {
				t.Fatalf("duplicate Publish() = %v, %v, want existed, nil", outcome, err)
			}
			if got := readBlob(t, s, dup.Hash); got != "kept" {
				t.Errorf("Open() content = %q", got)
			}
		})
	}
}

func TestBlobStore_Modified(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fsys := afero.NewMemMapFs()
			s := newStore(t, fsys)

			before := time.Now().Add(-time.Minute)
			staged := stage(t, fsys, "dated")
			if _, err := s.Publish(ctx, staged); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			got, err := s.Modified(ctx, staged.Hash)
			if err != nil {
				t.Fatalf("Modified() error = %v", err)
			}
			if got.Before(before) || got.After(time.Now().Add(time.Minute)) {
				t.Errorf("Modified() = %v, want about now", got)
			}

			missing := model.ContentHash(sha256.Sum256([]byte("absent")))
			if _, err := s.Modified(ctx, missing); !errors.Is(err, stash.ErrNotFound) {
				t.Errorf("Modified() of missing blob error = %v, want ErrNotFound", err)
			}
		})
	}
}

// gatedFs blocks opening one path until the gate is closed.
type gatedFs struct {
	afero.Fs
	path    string
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedFs) Open(name string) (afero.File, error) {
	if name == g.path {
		close(g.entered)
		<-g.gate
	}
	return g.Fs.Open(name)
}

func TestMemoryBlobStore_PublishLocksPerHash(t *testing.T) {
	ctx := context.Background()
	base := afero.NewMemMapFs()
	slow := stage(t, base, "slow upload")
	fast := stage(t, base, "fast upload")

	fsys := &gatedFs{Fs: base, path: slow.Path, entered: make(chan struct{}), gate: make(chan struct{})}
	s := NewMemoryBlobStore(fsys)

	slowDone := make(chan error, 1)
	go func() {
		_, err := s.Publish(ctx, slow)
		slowDone <- err
	}()
	<-fsys.entered

	fastDone := make(chan error, 1)
	go func() {
		_, err := s.Publish(ctx, fast)
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("Publish() of another hash error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Publish() of another hash waited on an unrelated publish")
	}

	close(fsys.gate)
	if err := <-slowDone; err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if s.Count() != 2 {
		t.Errorf("Count() = %d, want 2", s.Count())
	}
}

func TestBlobStore_ValidateSetup(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, afero.NewMemMapFs())
			if err := s.ValidateSetup(context.Background()); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}

func TestFileSystemBlobStore_Layout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fsys := afero.NewOsFs()
	s, err := NewFileSystemBlobStore(fsys, filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewFileSystemBlobStore() error = %v", err)
	}

	staged := &stash.StagedObject{Path: filepath.Join(dir, "upload-1")}
	content := []byte("on disk")
	staged.Hash = model.ContentHash(sha256.Sum256(content))
	staged.Size = int64(len(content))
	if err := afero.WriteFile(fsys, staged.Path, content, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := s.Publish(ctx, staged); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	loc, err := s.Locate(ctx, staged.Hash)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	want := filepath.Join(dir, "blobs", staged.Hash.String())
	if loc != want {
		t.Errorf("Locate() = %q, want %q", loc, want)
	}

	// stray files in the root are not blobs
	if err := afero.WriteFile(fsys, filepath.Join(dir, "blobs", "README"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	hashes, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(hashes) != 1 || hashes[0] != staged.Hash {
		t.Errorf("List() = %v, want [%s]", hashes, staged.Hash.Short())
	}
}
