// Package memory is an in-process key-value backend for tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"threadai-backend/internal/store"
)

// Compile-time check to ensure Store implements store.KV
var _ store.KV = (*Store)(nil)

// Store is a map guarded by a mutex, with an optional byte quota.
type Store struct {
	mu    sync.RWMutex
	data  map[string]string
	quota int64
}

// New creates an empty store. quota <= 0 means unlimited.
func New(quota int64) *Store {
	return &Store{data: make(map[string]string), quota: quota}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quota > 0 {
		total := int64(len(key) + len(value))
		for k, v := range s.data {
			if k != key {
				total += int64(len(k) + len(v))
			}
		}
		if total > s.quota {
			return fmt.Errorf("%w: %d bytes needed, quota is %d", store.ErrQuotaExceeded, total, s.quota)
		}
	}
	s.data[key] = value
	return nil
}

func (s *Store) Close() error { return nil }
