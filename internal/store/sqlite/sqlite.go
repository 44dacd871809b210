// Package sqlite is the default local key-value backend for the session store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"threadai-backend/internal/store"

	_ "modernc.org/sqlite"
)

// Compile-time check to ensure Store implements store.KV
var _ store.KV = (*Store)(nil)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Store keeps key-value pairs in one SQLite table, bounded by a byte quota over all values.
type Store struct {
	db    *sql.DB
	quota int64
}

// Open opens (creating if needed) the database at path. quota <= 0 means unlimited.
func Open(ctx context.Context, path string, quota int64) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer keeps the quota check and the upsert consistent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	log.Printf("[SQLiteStore] Opened %s (quota %d bytes)", path, quota)
	return &Store{db: db, quota: quota}, nil
}

// Get returns the value for key, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("database error reading %s: %w", key, err)
	}
	return value, nil
}

// Set upserts key. Fails with store.ErrQuotaExceeded when the total stored size would exceed the quota.
func (s *Store) Set(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.quota > 0 {
		var others int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM kv WHERE key <> ?`,
			key).Scan(&others)
		if err != nil {
			return fmt.Errorf("failed to compute stored size: %w", err)
		}
		if total := others + int64(len(key)+len(value)); total > s.quota {
			return fmt.Errorf("%w: %d bytes needed, quota is %d", store.ErrQuotaExceeded, total, s.quota)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("database error writing %s: %w", key, err)
	}
	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
