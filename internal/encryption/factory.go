package encryption

import (
	"fmt"

	"stash-go/internal/config"
	"stash-go/internal/stash"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (stash.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return NewNoneEncryptor(), nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// NeedsPassphrase reports whether reading content requires unlocking a key.
func NeedsPassphrase(cfg config.EncryptionConfig) bool {
	return cfg.Type == "age"
}
