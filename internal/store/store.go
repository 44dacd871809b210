// Package store persists chat sessions in a size-limited key-value store.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("record not found")

// ErrQuotaExceeded is returned when a write would grow the store beyond its quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Keys used by the session store.
const (
	KeySessions       = "sessions"
	KeyAutoSend       = "autoSendPreference"
	KeyPassphraseSalt = "sessionsSalt"
)

// KV is a string key-value store. Values are opaque text.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}
