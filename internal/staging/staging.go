package staging

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"stash-go/internal/model"
	"stash-go/internal/stash"
)

// DefaultChunkSize is the read and hash granularity used when none is configured.
const DefaultChunkSize = 1024

// tempPrefix marks staged objects so Sweep never touches unrelated files.
const tempPrefix = "upload-"

// StagingArea implements stash.StagingArea on an afero filesystem. Each
// upload is written to its own temporary file, sealed by the encryptor,
// while the plaintext is hashed chunk by chunk.
//
// The filesystem is shared with the blob store so that publishing a staged
// object is a rename.
type StagingArea struct {
	fs        afero.Fs
	dir       string
	enc       stash.Encryptor
	chunkSize int
	maxSize   int64
}

var _ stash.StagingArea = (*StagingArea)(nil)

// New creates a staging area rooted at dir on fsys. chunkSize <= 0 selects
// DefaultChunkSize; maxSize <= 0 means uploads are unlimited.
func New(fsys afero.Fs, dir string, enc stash.Encryptor, chunkSize int, maxSize int64) (*StagingArea, error) {
	if enc == nil {
		return nil, errors.New("staging area requires an encryptor")
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &StagingArea{
		fs:        fsys,
		dir:       dir,
		enc:       enc,
		chunkSize: chunkSize,
		maxSize:   maxSize,
	}, nil
}

// Fs returns the filesystem holding staged objects.
func (s *StagingArea) Fs() afero.Fs {
	return s.fs
}

// Stage copies r into a new staged object and returns its hash and size.
func (s *StagingArea) Stage(ctx context.Context, r io.Reader) (*stash.StagedObject, error) {
	f, err := afero.TempFile(s.fs, s.dir, tempPrefix+"*")
	if err != nil {
		return nil, stash.NewIOError("creating staged object", err)
	}
	name := f.Name()

	hash, size, err := s.copy(ctx, f, r)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = stash.NewIOError("closing staged object", closeErr)
	}
	if err != nil {
		if rmErr := s.fs.Remove(name); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return nil, errors.Join(err, fmt.Errorf("removing partial staged object: %w", rmErr))
		}
		return nil, err
	}

	return &stash.StagedObject{Path: name, Hash: hash, Size: size}, nil
}

// copy streams r through the hash and the sealing writer in chunkSize
// pieces, checking for cancellation between chunks.
func (s *StagingArea) copy(ctx context.Context, w io.Writer, r io.Reader) (model.ContentHash, int64, error) {
	var sum model.ContentHash

	sealed, err := s.enc.Seal(w)
	if err != nil {
		return sum, 0, fmt.Errorf("sealing staged object: %w", err)
	}

	h := sha256.New()
	buf := make([]byte, s.chunkSize)
	var size int64
	for {
		if err := ctx.Err(); err != nil {
			return sum, size, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			size += int64(n)
			if s.maxSize > 0 && size > s.maxSize {
				return sum, size, fmt.Errorf("%w: exceeds %d bytes", stash.ErrTooLarge, s.maxSize)
			}
			h.Write(buf[:n])
			if _, err := sealed.Write(buf[:n]); err != nil {
				return sum, size, stash.NewIOError("writing staged object", err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return sum, size, stash.NewIOError("reading upload", rerr)
		}
	}
	if err := sealed.Close(); err != nil {
		return sum, size, stash.NewIOError("flushing staged object", err)
	}

	copy(sum[:], h.Sum(nil))
	return sum, size, nil
}

// Discard removes a staged object that will not be published.
func (s *StagingArea) Discard(obj *stash.StagedObject) error {
	if err := s.fs.Remove(obj.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing staged object: %w", err)
	}
	return nil
}

// Sweep removes staged objects last modified before cutoff.
func (s *StagingArea) Sweep(cutoff time.Time) (int, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading staging directory: %w", err)
	}
	removed := 0
	for _, info := range infos {
		if info.IsDir() || !strings.HasPrefix(info.Name(), tempPrefix) {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, info.Name())
		if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("removing stale staged object: %w", err)
		}
		removed++
	}
	return removed, nil
}
