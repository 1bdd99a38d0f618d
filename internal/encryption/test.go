package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"stash-go/internal/stash"
)

// testMagic opens every stream sealed by TestEncryptor.
var testMagic = []byte("STASHENC")

// testMask is XORed over the payload so stored blobs never contain the
// plaintext verbatim.
const testMask byte = 0x5a

// TestEncryptor is a deterministic stand-in for AgeEncryptor. It needs no
// keys and equal plaintexts seal to equal bytes, which keeps blob store
// assertions simple.
type TestEncryptor struct{}

var _ stash.Encryptor = TestEncryptor{}

func NewTestEncryptor() *TestEncryptor { return &TestEncryptor{} }

func (TestEncryptor) Setup(string) error { return nil }

func (TestEncryptor) IsConfigured() bool { return true }

func (TestEncryptor) Seal(w io.Writer) (io.WriteCloser, error) {
	if _, err := w.Write(testMagic); err != nil {
		return nil, fmt.Errorf("writing test magic: %w", err)
	}
	return &maskWriter{w: w}, nil
}

func (TestEncryptor) Unlock(string) (stash.DecryptionContext, error) {
	return TestDecryptionContext{}, nil
}

// TestDecryptionContext reverses TestEncryptor.Seal.
type TestDecryptionContext struct{}

var _ stash.DecryptionContext = TestDecryptionContext{}

func (TestDecryptionContext) Open(r io.Reader) (io.Reader, error) {
	magic := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("reading test magic: %w", err)
	}
	if !bytes.Equal(magic, testMagic) {
		return nil, errors.New("not a test-sealed stream")
	}
	return &maskReader{r: r}, nil
}

type maskWriter struct {
	w   io.Writer
	buf []byte
}

func (m *maskWriter) Write(p []byte) (int, error) {
	m.buf = append(m.buf[:0], p...)
	for i := range m.buf {
		m.buf[i] ^= testMask
	}
	return m.w.Write(m.buf)
}

func (*maskWriter) Close() error { return nil }

type maskReader struct {
	r io.Reader
}

func (m *maskReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	for i := range p[:n] {
		p[i] ^= testMask
	}
	return n, err
}
