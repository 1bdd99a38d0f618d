package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"stash-go/internal/config"
	"stash-go/internal/stash"
)

// Migratable is implemented by databases whose schema is versioned.
type Migratable interface {
	MigrateUp() error
	CheckMigrations() error
}

// Backupable is implemented by databases that can snapshot themselves to a file.
type Backupable interface {
	BackupTo(destPath string) error
}

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
// SQLite files are opened as-is; callers check or apply migrations through Migratable.
// In-memory databases are migrated immediately.
func NewDatabaseFromConfig(ctx context.Context, cfg config.DatabaseConfig, hostID string) (stash.Database, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, hostID+".db")
		return NewSQLiteDatabase(dbPath)
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		if err := db.MigrateUp(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating memory database: %w", err)
		}
		return db, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		return NewPostgresDatabase(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
