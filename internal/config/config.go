package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk stash.toml.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info" (default), "warn" or "error"
	Blobs      BlobsConfig      `toml:"blobs"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Staging    StagingConfig    `toml:"staging"`
	Server     ServerConfig     `toml:"server"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// EncryptionConfig holds paths to the age key pair used to seal blobs at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// FilesystemConfig holds settings for bulk uploads from the local filesystem.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// BlobsConfig selects where sealed blobs live. Type picks the backend and
// only that backend's fields are read.
type BlobsConfig struct {
	Type string `toml:"type"` // "filesystem", "memory" or "s3"

	Root string `toml:"root,omitempty"`

	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"` // S3-compatible servers; enables path-style addressing
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// DatabaseConfig selects the metadata store.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// StagingConfig represents configuration for the digest computer's
// temporary objects.
type StagingConfig struct {
	Dir       string `toml:"dir,omitempty"`
	ChunkSize int    `toml:"chunk_size,omitempty"` // read/hash granularity in bytes; defaults to 1024
	MaxSize   int64  `toml:"max_size,omitempty"`   // max bytes per upload; 0 means unlimited
}

// ServerConfig represents configuration for the HTTP adapter.
type ServerConfig struct {
	Listen      string `toml:"listen"`
	OwnerHeader string `toml:"owner_header"` // trusted header carrying the authenticated owner
	MaxUpload   int64  `toml:"max_upload,omitempty"`
}

// NewConfig creates a new Config with the provided values and defaults for
// a single-host installation under baseDir.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:   hostID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Blobs: BlobsConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "blobs"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "stash.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "stash.key"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Staging: StagingConfig{
			Dir:       filepath.Join(baseDir, "staging"),
			ChunkSize: 1024,
		},
		Server: ServerConfig{
			Listen:      "127.0.0.1:8080",
			OwnerHeader: "X-Remote-User",
		},
	}
}

// Decode parses a TOML document. Keys that match no field are rejected so a
// typo such as "s3_buckt" fails loudly instead of falling back to defaults.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if extra := md.Undecoded(); len(extra) > 0 {
		keys := make([]string, len(extra))
		for i, k := range extra {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return &cfg, nil
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Init writes cfg to a new file at path. The file may hold S3 credentials,
// so it is created owner-only, and an existing file is never replaced.
func Init(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	if err := Encode(f, cfg); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// Validate checks that every tagged union names a known type and carries
// the fields that type needs.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "memory":
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("database: sqlite requires data_dir")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database: postgres requires dsn")
		}
	default:
		return fmt.Errorf("database: unknown type %q", c.Database.Type)
	}

	switch c.Blobs.Type {
	case "memory":
	case "filesystem":
		if c.Blobs.Root == "" {
			return fmt.Errorf("blobs: filesystem requires root")
		}
	case "s3":
		if c.Blobs.S3Bucket == "" {
			return fmt.Errorf("blobs: s3 requires s3_bucket")
		}
		if (c.Blobs.S3AccessKeyID == "") != (c.Blobs.S3SecretAccessKey == "") {
			return fmt.Errorf("blobs: s3_access_key_id and s3_secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("blobs: unknown type %q", c.Blobs.Type)
	}

	switch c.Encryption.Type {
	case "", "none", "test":
	case "age":
		if c.Encryption.PublicKeyPath == "" || c.Encryption.PrivateKeyPath == "" {
			return fmt.Errorf("encryption: age requires public_key_path and private_key_path")
		}
	default:
		return fmt.Errorf("encryption: unknown type %q", c.Encryption.Type)
	}

	if c.Staging.ChunkSize < 0 {
		return fmt.Errorf("staging: chunk_size must not be negative")
	}
	if c.Staging.MaxSize < 0 {
		return fmt.Errorf("staging: max_size must not be negative")
	}
	return nil
}
