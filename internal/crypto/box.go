// Package crypto seals stored session payloads with a passphrase-derived AES-GCM key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize selects AES-256.
	KeySize = 32
	// SaltSize is the length of the random salt stored next to sealed data.
	SaltSize = 16
	// Iterations is the PBKDF2 work factor.
	Iterations = 210_000
)

var (
	ErrEmptyPassphrase      = errors.New("passphrase must not be empty")
	ErrInvalidSalt          = errors.New("salt must be 16 bytes")
	ErrInvalidCiphertext    = errors.New("ciphertext too short to contain nonce")
	ErrAuthenticationFailed = errors.New("ciphertext authentication failed")
)

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey stretches a passphrase into a KeySize key.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if len(salt) != SaltSize {
		return nil, ErrInvalidSalt
	}
	return pbkdf2.Key([]byte(passphrase), salt, Iterations, KeySize, sha256.New), nil
}

// Box seals and opens payloads with one AES-GCM key.
type Box struct {
	aead cipher.AEAD
}

// NewBox creates a Box for a raw key.
func NewBox(key []byte) (*Box, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid AES key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

// NewPassphraseBox derives the key from passphrase and salt and returns its Box.
func NewPassphraseBox(passphrase string, salt []byte) (*Box, error) {
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return NewBox(key)
}

// Seal encrypts plaintext under a fresh random nonce, which is prepended to the result.
// label is authenticated but not stored; Open must be given the same label.
func (b *Box) Seal(plaintext []byte, label string) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, plaintext, []byte(label)), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed []byte, label string) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := b.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(label))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}
