package stash

import (
	"context"
	"errors"
	"fmt"
	"io"

	"stash-go/internal/model"
)

// Download opens the content of a file entry for reading. The returned
// reader yields plaintext; the caller must Close it.
//
// A live entry whose blob is missing is a consistency violation: it is
// logged and reported as ErrNotFound wrapping ErrInvariantViolation.
func (s *StashService) Download(ctx context.Context, owner, fileID string) (io.ReadCloser, *model.FileEntry, error) {
	entry, err := s.ownedFile(ctx, owner, fileID)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.blobs.Open(ctx, entry.Hash)
	if errors.Is(err, ErrNotFound) {
		s.violation("missing_blob", "file_id", entry.ID, "hash", entry.Hash.String())
		return nil, nil, fmt.Errorf("%w: %w: blob %s for file %s", ErrNotFound, ErrInvariantViolation, entry.Hash.Short(), entry.ID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening blob: %w", err)
	}

	if s.decrypt == nil {
		rc.Close()
		return nil, nil, errors.New("content is not readable: no decryption context")
	}
	plain, err := s.decrypt.Open(rc)
	if err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("decrypting blob: %w", err)
	}
	return &contentReader{Reader: plain, closer: rc}, entry, nil
}

type contentReader struct {
	io.Reader
	closer io.Closer
}

func (r *contentReader) Close() error {
	return r.closer.Close()
}
