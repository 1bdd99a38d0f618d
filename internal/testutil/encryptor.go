package testutil

import (
	"testing"

	"stash-go/internal/encryption"
	"stash-go/internal/stash"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}

// UnlockTest returns the decryption context of a test encryptor.
func UnlockTest(t *testing.T, enc stash.Encryptor) stash.DecryptionContext {
	t.Helper()
	dec, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("unlocking test encryptor: %v", err)
	}
	return dec
}
