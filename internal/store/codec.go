package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"threadai-backend/internal/models"

	"github.com/klauspost/compress/zstd"
)

// EnvelopeVersion is written with every persisted session map.
const EnvelopeVersion = 1

// Payload prefixes identify how a stored value was encoded.
const (
	prefixCompressed = "z1:"
	prefixSealed     = "e1:"
)

// ErrCorruptPayload is returned when a stored value cannot be decoded.
var ErrCorruptPayload = errors.New("corrupt session payload")

type envelope struct {
	Version  int                           `json:"version"`
	Sessions map[string]models.ChatSession `json:"sessions"`
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func zstdEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		// Only fails on invalid options.
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	return encoder
}

func zstdDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
	})
	return decoder, decoderErr
}

// Marshal encodes a session map into the versioned JSON envelope.
func Marshal(sessions map[string]models.ChatSession) ([]byte, error) {
	if sessions == nil {
		sessions = map[string]models.ChatSession{}
	}
	data, err := json.Marshal(envelope{Version: EnvelopeVersion, Sessions: sessions})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sessions: %w", err)
	}
	return data, nil
}

// Unmarshal decodes the versioned envelope, or a bare legacy session map.
func Unmarshal(data []byte) (map[string]models.ChatSession, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}

	if _, ok := probe["version"]; ok {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
		if env.Version > EnvelopeVersion {
			return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptPayload, env.Version)
		}
		if env.Sessions == nil {
			env.Sessions = map[string]models.ChatSession{}
		}
		return env.Sessions, nil
	}

	sessions := make(map[string]models.ChatSession, len(probe))
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return sessions, nil
}

// Compact compresses a serialized payload into storable text.
func Compact(raw []byte) string {
	return prefixCompressed + base64.StdEncoding.EncodeToString(compress(raw))
}

func compress(raw []byte) []byte {
	return zstdEncoder().EncodeAll(raw, make([]byte, 0, len(raw)/3))
}

func decompress(compressed []byte) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return raw, nil
}

// Expand reverses Compact. Uncompressed JSON is returned unchanged.
func Expand(stored string) ([]byte, error) {
	if !strings.HasPrefix(stored, prefixCompressed) {
		if trimmed := strings.TrimSpace(stored); strings.HasPrefix(trimmed, "{") {
			return []byte(trimmed), nil
		}
		return nil, fmt.Errorf("%w: unknown encoding", ErrCorruptPayload)
	}
	compressed, err := base64.StdEncoding.DecodeString(stored[len(prefixCompressed):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return decompress(compressed)
}
