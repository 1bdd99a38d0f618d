package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"stash-go/internal/config"
	"stash-go/internal/encryption"
	"stash-go/internal/stash"
)

// PassphraseFunc supplies the passphrase protecting the private key.
type PassphraseFunc func() (string, error)

// ErrNoPassphrase is returned when encrypted content is read without a way
// to obtain the passphrase.
var ErrNoPassphrase = errors.New("content is encrypted but no passphrase was provided")

// EnvOrPrompt reads STASH_PASSPHRASE, falling back to an interactive prompt
// on the controlling terminal.
func EnvOrPrompt(prompt string) PassphraseFunc {
	return func() (string, error) {
		if p := os.Getenv("STASH_PASSPHRASE"); p != "" {
			return p, nil
		}
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", ErrNoPassphrase
		}
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(b), nil
	}
}

// lazyDecryption unlocks the private key the first time content is read,
// so commands that only write never prompt.
type lazyDecryption struct {
	enc        stash.Encryptor
	needsPass  bool
	passphrase PassphraseFunc

	once sync.Once
	dc   stash.DecryptionContext
	err  error
}

func newLazyDecryption(cfg config.EncryptionConfig, enc stash.Encryptor, passphrase PassphraseFunc) *lazyDecryption {
	return &lazyDecryption{
		enc:        enc,
		needsPass:  encryption.NeedsPassphrase(cfg),
		passphrase: passphrase,
	}
}

func (l *lazyDecryption) unlock() {
	var pass string
	if l.needsPass {
		if l.passphrase == nil {
			l.err = ErrNoPassphrase
			return
		}
		p, err := l.passphrase()
		if err != nil {
			l.err = err
			return
		}
		pass = p
	}
	dc, err := l.enc.Unlock(pass)
	if err != nil {
		l.err = fmt.Errorf("unlocking private key: %w", err)
		return
	}
	l.dc = dc
}

func (l *lazyDecryption) Open(r io.Reader) (io.Reader, error) {
	l.once.Do(l.unlock)
	if l.err != nil {
		return nil, l.err
	}
	return l.dc.Open(r)
}

var _ stash.DecryptionContext = (*lazyDecryption)(nil)
