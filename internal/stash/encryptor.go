package stash

import "io"

// Encryptor seals blob content at rest and unlocks the key for reading.
// Sealing uses the public key only. Reading requires a passphrase to unlock
// the private key, producing a DecryptionContext for the process lifetime.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `stash config init`.
	Setup(passphrase string) error

	// Seal returns a writer that encrypts everything written to it into w.
	// The caller must Close the returned writer to flush the final chunk.
	Seal(w io.Writer) (io.WriteCloser, error)

	// Unlock decrypts the private key using the passphrase and returns a
	// DecryptionContext. Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if the encryptor's keys are present.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	// Open returns a reader yielding the plaintext of the sealed stream r.
	Open(r io.Reader) (io.Reader, error)
}
