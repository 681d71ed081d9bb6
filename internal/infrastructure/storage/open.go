package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"PolicyWatch/internal/config"
)

// Open builds the document store selected by configuration.
func Open(ctx context.Context, cfg config.StorageConfig) (DocumentStore, error) {
	switch cfg.Driver {
	case "", config.DriverFile:
		store, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverBolt:
		path, err := dataFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		store, err := NewBoltStore(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite, config.DriverPostgres:
		dsn := cfg.DSN
		if dsn == "" && cfg.Driver == config.DriverSQLite && cfg.Path != "" {
			path, err := dataFile(cfg.Path)
			if err != nil {
				return nil, err
			}
			dsn = path
		}
		if dsn == "" {
			return nil, fmt.Errorf("storage driver %s needs a dsn", cfg.Driver)
		}
		store, err := OpenSQLStore(ctx, cfg.Driver, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// dataFile resolves a storage path to a database file. A path without an
// extension is a data directory and gets policywatch.db inside it.
func dataFile(path string) (string, error) {
	if filepath.Ext(path) != "" {
		return path, nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return filepath.Join(path, "policywatch.db"), nil
}
