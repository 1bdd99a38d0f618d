package encryption

import (
	"io"

	"stash-go/internal/stash"
)

// NoneEncryptor stores blobs as plaintext.
type NoneEncryptor struct{}

var _ stash.Encryptor = NoneEncryptor{}

// NewNoneEncryptor creates an encryptor that passes bytes through unchanged.
func NewNoneEncryptor() NoneEncryptor {
	return NoneEncryptor{}
}

func (NoneEncryptor) Setup(string) error { return nil }

func (NoneEncryptor) Seal(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (NoneEncryptor) Unlock(string) (stash.DecryptionContext, error) {
	return PlainContext{}, nil
}

func (NoneEncryptor) IsConfigured() bool { return true }

// PlainContext reads blobs stored without encryption.
type PlainContext struct{}

var _ stash.DecryptionContext = PlainContext{}

func (PlainContext) Open(r io.Reader) (io.Reader, error) { return r, nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
