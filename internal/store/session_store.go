package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"threadai-backend/internal/crypto"
	"threadai-backend/internal/models"
)

// ErrSealedPayload is returned when sessions were saved encrypted and no passphrase is set.
var ErrSealedPayload = errors.New("sessions are encrypted; a passphrase is required")

// SessionStore loads and saves the session map and the auto-send preference.
type SessionStore struct {
	kv  KV
	box *crypto.Box
}

// NewSessionStore creates a SessionStore over kv.
func NewSessionStore(kv KV) *SessionStore {
	return &SessionStore{kv: kv}
}

// UsePassphrase turns on at-rest encryption. The salt is created on first use and kept in
// the store next to the sessions.
func (s *SessionStore) UsePassphrase(ctx context.Context, passphrase string) error {
	var salt []byte
	encoded, err := s.kv.Get(ctx, KeyPassphraseSalt)
	switch {
	case err == nil:
		salt, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("failed to decode stored salt: %w", err)
		}
	case errors.Is(err, ErrNotFound):
		salt, err = crypto.NewSalt()
		if err != nil {
			return err
		}
		if err := s.kv.Set(ctx, KeyPassphraseSalt, base64.StdEncoding.EncodeToString(salt)); err != nil {
			return fmt.Errorf("failed to store salt: %w", err)
		}
	default:
		return fmt.Errorf("failed to read salt: %w", err)
	}

	box, err := crypto.NewPassphraseBox(passphrase, salt)
	if err != nil {
		return err
	}
	s.box = box
	log.Println("[SessionStore] At-rest encryption enabled.")
	return nil
}

// Load returns the persisted sessions. A missing value is an empty map, not an error.
func (s *SessionStore) Load(ctx context.Context) (map[string]models.ChatSession, error) {
	stored, err := s.kv.Get(ctx, KeySessions)
	if errors.Is(err, ErrNotFound) {
		return map[string]models.ChatSession{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	raw, err := s.decode(stored)
	if err != nil {
		return nil, err
	}
	return Unmarshal(raw)
}

// Save writes the whole session map.
func (s *SessionStore) Save(ctx context.Context, sessions map[string]models.ChatSession) error {
	raw, err := Marshal(sessions)
	if err != nil {
		return err
	}
	encoded, err := s.encode(raw)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, KeySessions, encoded); err != nil {
		return fmt.Errorf("failed to write sessions (%d bytes): %w", len(encoded), err)
	}
	return nil
}

// LoadAutoSend returns the auto-send preference, false when unset.
func (s *SessionStore) LoadAutoSend(ctx context.Context) (bool, error) {
	v, err := s.kv.Get(ctx, KeyAutoSend)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read auto-send preference: %w", err)
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid auto-send preference %q: %w", v, err)
	}
	return enabled, nil
}

// SaveAutoSend stores the auto-send preference.
func (s *SessionStore) SaveAutoSend(ctx context.Context, enabled bool) error {
	if err := s.kv.Set(ctx, KeyAutoSend, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("failed to write auto-send preference: %w", err)
	}
	return nil
}

// Close closes the underlying key-value store.
func (s *SessionStore) Close() error {
	return s.kv.Close()
}

func (s *SessionStore) encode(raw []byte) (string, error) {
	if s.box == nil {
		return Compact(raw), nil
	}
	sealed, err := s.box.Seal(compress(raw), KeySessions)
	if err != nil {
		return "", err
	}
	return prefixSealed + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *SessionStore) decode(stored string) ([]byte, error) {
	if !strings.HasPrefix(stored, prefixSealed) {
		return Expand(stored)
	}
	if s.box == nil {
		return nil, ErrSealedPayload
	}
	sealed, err := base64.StdEncoding.DecodeString(stored[len(prefixSealed):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	compressed, err := s.box.Open(sealed, KeySessions)
	if err != nil {
		return nil, err
	}
	return decompress(compressed)
}
