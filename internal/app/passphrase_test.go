package app

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"stash-go/internal/config"
	"stash-go/internal/encryption"
)

func sealed(t *testing.T, enc *encryption.TestEncryptor, plaintext string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := enc.Seal(&buf)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, plaintext)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLazyDecryption(t *testing.T) {
	enc := encryption.NewTestEncryptor()
	if err := enc.Setup("secret"); err != nil {
		t.Fatal(err)
	}
	data := sealed(t, enc, "plain")

	t.Run("no passphrase needed", func(t *testing.T) {
		l := newLazyDecryption(config.EncryptionConfig{Type: "test"}, enc, nil)
		r, err := l.Open(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		got, _ := io.ReadAll(r)
		if string(got) != "plain" {
			t.Errorf("Open() = %q, want %q", got, "plain")
		}
	})

	t.Run("prompts once", func(t *testing.T) {
		calls := 0
		prompt := func() (string, error) {
			calls++
			return "secret", nil
		}
		l := newLazyDecryption(config.EncryptionConfig{Type: "test"}, enc, prompt)
		l.needsPass = true
		for i := 0; i < 3; i++ {
			if _, err := l.Open(bytes.NewReader(data)); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
		}
		if calls != 1 {
			t.Errorf("passphrase requested %d times, want 1", calls)
		}
	})

	t.Run("missing passphrase", func(t *testing.T) {
		l := newLazyDecryption(config.EncryptionConfig{Type: "age"}, enc, nil)
		if _, err := l.Open(bytes.NewReader(data)); !errors.Is(err, ErrNoPassphrase) {
			t.Errorf("Open() error = %v, want ErrNoPassphrase", err)
		}
	})

	t.Run("prompt failure is sticky", func(t *testing.T) {
		boom := errors.New("boom")
		l := newLazyDecryption(config.EncryptionConfig{Type: "age"}, enc, func() (string, error) { return "", boom })
		for i := 0; i < 2; i++ {
			if _, err := l.Open(bytes.NewReader(data)); !errors.Is(err, boom) {
				t.Errorf("Open() error = %v, want %v", err, boom)
			}
		}
	})
}

func TestEnvOrPrompt_Env(t *testing.T) {
	t.Setenv("STASH_PASSPHRASE", "from-env")
	got, err := EnvOrPrompt("Passphrase: ")()
	if err != nil {
		t.Fatalf("EnvOrPrompt() error = %v", err)
	}
	if got != "from-env" {
		t.Errorf("EnvOrPrompt() = %q, want from-env", got)
	}
}
