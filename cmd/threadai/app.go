package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"threadai-backend/internal/client"
	"threadai-backend/internal/config"
	"threadai-backend/internal/crypto"
	"threadai-backend/internal/engine"
	"threadai-backend/internal/store"
	"threadai-backend/internal/store/memory"
	"threadai-backend/internal/store/postgres"
	"threadai-backend/internal/store/sqlite"
)

// app bundles what every command needs.
type app struct {
	cfg     *config.ClientConfig
	client  *client.Client
	store   *store.SessionStore
	logFile io.Closer
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if storageBackend != "" {
		cfg.StorageBackend = storageBackend
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "threadai.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(logFile)

	kv, err := openKV(ctx, cfg)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	sessions := store.NewSessionStore(kv)
	if cfg.Passphrase != "" {
		if err := sessions.UsePassphrase(ctx, cfg.Passphrase); err != nil {
			sessions.Close()
			logFile.Close()
			return nil, fmt.Errorf("failed to enable encryption: %w", err)
		}
	}

	return &app{
		cfg:     cfg,
		client:  client.New(cfg.ServerURL),
		store:   sessions,
		logFile: logFile,
	}, nil
}

func openKV(ctx context.Context, cfg *config.ClientConfig) (store.KV, error) {
	switch cfg.StorageBackend {
	case "sqlite", "":
		return sqlite.Open(ctx, filepath.Join(cfg.DataDir, "threadai.db"), cfg.StorageQuota)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL must be set for the postgres storage backend")
		}
		return postgres.Connect(ctx, cfg.DatabaseURL, cfg.StorageQuota)
	case "memory":
		return memory.New(cfg.StorageQuota), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (supported: sqlite, postgres, memory)", cfg.StorageBackend)
	}
}

// checkReadable refuses to continue when saved sessions exist but cannot be opened with the
// current passphrase; starting anyway would overwrite them with a fresh session.
func (a *app) checkReadable(ctx context.Context) error {
	_, err := a.store.Load(ctx)
	switch {
	case errors.Is(err, store.ErrSealedPayload):
		return errors.New("saved sessions are encrypted: set THREADAI_PASSPHRASE")
	case errors.Is(err, crypto.ErrAuthenticationFailed):
		return errors.New("saved sessions cannot be decrypted with this passphrase")
	}
	return nil
}

func (a *app) startEngine(ctx context.Context) (*engine.Engine, error) {
	if err := a.checkReadable(ctx); err != nil {
		return nil, err
	}
	return engine.New(ctx, a.client, a.store, engine.WithDefaultModel(a.cfg.DefaultModel)), nil
}

func (a *app) Close() error {
	err := a.store.Close()
	a.logFile.Close()
	return err
}
