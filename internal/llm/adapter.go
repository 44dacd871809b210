// Package llm wraps upstream completion providers behind a uniform streaming contract.
package llm

import (
	"context"
	"errors"
	"fmt"

	"threadai-backend/internal/models"
)

var (
	// ErrUnsupportedModel is returned when a model id is not in the catalog.
	ErrUnsupportedModel = errors.New("model not supported")
	// ErrMissingCredential is returned when a provider's API key is not configured.
	ErrMissingCredential = errors.New("missing provider credential")
)

// DeltaKind tags a delta as reasoning or answer text.
type DeltaKind string

const (
	KindReasoning DeltaKind = "reasoning"
	KindContent   DeltaKind = "content"
)

// Delta is one incremental text fragment of a generation.
type Delta struct {
	Kind DeltaKind
	Text string
}

// Stream yields the deltas of one upstream request in order.
// Recv returns io.EOF once the upstream signals completion and a *ProviderError when it fails.
// A Stream is not restartable.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}

// Adapter opens streaming completions against one provider.
// Implementations must be safe for concurrent use; they hold no per-call state.
type Adapter interface {
	Stream(ctx context.Context, model string, messages []models.ChatMessage) (Stream, error)
}

// ProviderError describes an upstream failure.
type ProviderError struct {
	Provider string
	Status   int    // HTTP status from upstream, 0 for transport failures
	Message  string
	Code     string // provider error code when present
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
