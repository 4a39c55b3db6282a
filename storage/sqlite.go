package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLite stores keys as rows of a single kv table.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

func openSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	logger.Info("Using SQLite storage", "path", path)
	return &SQLite{db: db, logger: logger}, nil
}

// NewSQLite opens (and migrates) a SQLite database file.
func NewSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	return openSQLite(ctx, path, logger)
}

// Read returns the stored value for key.
func (s *SQLite) Read(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", cleaned).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("sqlite select: %w", err)
	}
	return data, nil
}

// Write upserts the value for key.
func (s *SQLite) Write(ctx context.Context, key string, data []byte) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		cleaned, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite upsert: %w", err)
	}
	s.logger.Debug("Object saved to sqlite", "key", cleaned, "bytes", len(data))
	return nil
}

// List returns keys that start with prefix.
func (s *SQLite) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key", len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
