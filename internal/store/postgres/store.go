// Package postgres is a key-value backend for the session store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"

	"threadai-backend/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check to ensure PostgresStore implements store.KV
var _ store.KV = (*PostgresStore)(nil)

const schema = `CREATE TABLE IF NOT EXISTS threadai_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type PostgresStore struct {
	db    *pgxpool.Pool
	quota int64
}

// NewPostgresStore wraps an existing pool. quota <= 0 means unlimited.
func NewPostgresStore(db *pgxpool.Pool, quota int64) *PostgresStore {
	return &PostgresStore{db: db, quota: quota}
}

// Connect creates a pool for databaseURL, pings it and ensures the kv table exists.
func Connect(ctx context.Context, databaseURL string, quota int64) (*PostgresStore, error) {
	dbpool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if _, err := dbpool.Exec(ctx, schema); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("failed to create threadai_kv table: %w", err)
	}
	log.Println("[PostgresStore] Database connection pool established and pinged successfully.")
	return NewPostgresStore(dbpool, quota), nil
}

// Get returns the value for key, or store.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM threadai_kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrNotFound
		}
		log.Printf("ERROR [PostgresStore] Get: Failed to query key %s: %v", key, err)
		return "", fmt.Errorf("database error fetching %s: %w", key, err)
	}
	return value, nil
}

// Set upserts key inside a transaction that also enforces the quota.
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.quota > 0 {
		// Serialise writers so two saves cannot both pass the check.
		if _, err := tx.Exec(ctx, `LOCK TABLE threadai_kv IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("failed to lock kv table: %w", err)
		}
		var others int64
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(octet_length(key) + octet_length(value)), 0) FROM threadai_kv WHERE key <> $1`,
			key).Scan(&others)
		if err != nil {
			return fmt.Errorf("failed to compute stored size: %w", err)
		}
		if total := others + int64(len(key)+len(value)); total > s.quota {
			return fmt.Errorf("%w: %d bytes needed, quota is %d", store.ErrQuotaExceeded, total, s.quota)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO threadai_kv (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		log.Printf("ERROR [PostgresStore] Set: Failed to upsert key %s: %v", key, err)
		return fmt.Errorf("database error writing %s: %w", key, err)
	}
	return tx.Commit(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
