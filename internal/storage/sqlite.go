package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteConfig holds SQLite configuration.
type SQLiteConfig struct {
	Path   string // file path or ":memory:"
	Logger *zap.Logger
}

// NewSQLiteStorage opens (or creates) the database file and applies the
// schema. SQLite has a single writer so the pool is capped at one connection.
func NewSQLiteStorage(ctx context.Context, cfg *SQLiteConfig) (*SQLStorage, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := newSQLStorage(db, dialectSQLite, cfg.Logger)
	if err = s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	cfg.Logger.Info("sqlite-storage-opened", zap.String("path", cfg.Path))

	return s, nil
}
