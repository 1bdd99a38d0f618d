package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"stash-go/internal/config"
	"stash-go/internal/stash"
)

// ErrKeysExist is returned by Setup when a key pair is already on disk.
var ErrKeysExist = errors.New("encryption keys already exist")

// AgeEncryptor seals blobs to an X25519 recipient. The identity lives on disk
// wrapped with a scrypt passphrase, so writes never need the passphrase.
type AgeEncryptor struct {
	pubPath  string
	privPath string

	mu        sync.Mutex
	recipient age.Recipient
}

var _ stash.Encryptor = (*AgeEncryptor)(nil)

func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		pubPath:  cfg.PublicKeyPath,
		privPath: cfg.PrivateKeyPath,
	}
}

// Setup creates a fresh key pair. Existing keys are never overwritten since
// every sealed blob would become unreadable.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("%w: empty passphrase", stash.ErrValidation)
	}
	if exists(e.pubPath) || exists(e.privPath) {
		return ErrKeysExist
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}
	wrap, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("deriving passphrase key: %w", err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, wrap)
	if err != nil {
		return fmt.Errorf("wrapping identity: %w", err)
	}
	if _, err := fmt.Fprintln(w, id.String()); err != nil {
		return fmt.Errorf("wrapping identity: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("wrapping identity: %w", err)
	}

	// The private half goes first so a crash never leaves a usable public
	// key without the identity that can read its blobs.
	if err := writeKeyFile(e.privPath, sealed.Bytes(), 0600); err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	if err := writeKeyFile(e.pubPath, []byte(id.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("public key: %w", err)
	}

	e.mu.Lock()
	e.recipient = id.Recipient()
	e.mu.Unlock()
	return nil
}

func (e *AgeEncryptor) Seal(w io.Writer) (io.WriteCloser, error) {
	r, err := e.publicKey()
	if err != nil {
		return nil, err
	}
	sw, err := age.Encrypt(w, r)
	if err != nil {
		return nil, fmt.Errorf("starting age stream: %w", err)
	}
	return sw, nil
}

// Unlock unwraps the stored identity with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (stash.DecryptionContext, error) {
	f, err := os.Open(e.privPath)
	if err != nil {
		return nil, fmt.Errorf("opening private key: %w", err)
	}
	defer f.Close()

	unwrap, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}
	plain, err := age.Decrypt(f, unwrap)
	if err != nil {
		return nil, fmt.Errorf("unwrapping private key: %w", err)
	}
	ids, err := age.ParseIdentities(plain)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(ids) == 0 {
		return nil, errors.New("private key file holds no identity")
	}
	return &AgeDecryptionContext{ids: ids}, nil
}

func (e *AgeEncryptor) IsConfigured() bool {
	return exists(e.pubPath) && exists(e.privPath)
}

// publicKey parses the recipient file once and caches the result.
func (e *AgeEncryptor) publicKey() (age.Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipient != nil {
		return e.recipient, nil
	}

	f, err := os.Open(e.pubPath)
	if err != nil {
		return nil, fmt.Errorf("opening public key: %w", err)
	}
	defer f.Close()
	rs, err := age.ParseRecipients(f)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(rs) != 1 {
		return nil, fmt.Errorf("public key file holds %d recipients, want 1", len(rs))
	}
	e.recipient = rs[0]
	return e.recipient, nil
}

// AgeDecryptionContext holds unlocked identities.
type AgeDecryptionContext struct {
	ids []age.Identity
}

var _ stash.DecryptionContext = (*AgeDecryptionContext)(nil)

func (c *AgeDecryptionContext) Open(r io.Reader) (io.Reader, error) {
	pr, err := age.Decrypt(r, c.ids...)
	if err != nil {
		return nil, fmt.Errorf("opening age stream: %w", err)
	}
	return pr, nil
}

// writeKeyFile writes data next to path and renames it into place.
func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
