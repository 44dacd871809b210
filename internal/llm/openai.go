package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"threadai-backend/internal/models"
	"threadai-backend/pkg/sse"
)

// maxErrorBody bounds how much of an upstream error response is read.
const maxErrorBody = 64 * 1024

// Compile-time check to ensure OpenAIAdapter implements Adapter
var _ Adapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter talks to any provider exposing the OpenAI chat completions API.
// DeepSeek and Moonshot both report reasoning text in delta.reasoning_content.
type OpenAIAdapter struct {
	provider   string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIAdapter builds an adapter for provider p.
// Returns ErrMissingCredential when apiKey is empty.
func NewOpenAIAdapter(p ProviderConfig, apiKey string, httpClient *http.Client) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set %s for provider %s", ErrMissingCredential, p.APIKeyEnv, p.Name)
	}
	if httpClient == nil {
		// No overall timeout: streams stay open as long as the upstream keeps sending.
		httpClient = &http.Client{}
	}
	return &OpenAIAdapter{
		provider:   p.Name,
		baseURL:    strings.TrimRight(p.BaseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}, nil
}

type completionRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *upstreamError `json:"error,omitempty"`
}

type upstreamError struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"`
}

func (u *upstreamError) code() string {
	if len(u.Code) == 0 || string(u.Code) == "null" {
		return u.Type
	}
	var s string
	if err := json.Unmarshal(u.Code, &s); err == nil {
		return s
	}
	return string(u.Code) // numeric codes
}

// Stream opens one streaming completion request.
func (a *OpenAIAdapter) Stream(ctx context.Context, model string, messages []models.ChatMessage) (Stream, error) {
	log.Printf("[%s] Starting chat request for model: %s (%d messages)", a.provider, model, len(messages))

	body, err := json.Marshal(completionRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: a.provider, Message: err.Error(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, a.errorFromResponse(resp)
	}

	return &openAIStream{
		ctx:      ctx,
		provider: a.provider,
		body:     resp.Body,
		reader:   sse.NewReader(resp.Body),
	}, nil
}

func (a *OpenAIAdapter) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	pe := &ProviderError{Provider: a.provider, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var wrapped struct {
		Error *upstreamError `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Error != nil {
		pe.Message = wrapped.Error.Message
		pe.Code = wrapped.Error.code()
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(resp.StatusCode)
	}

	log.Printf("ERROR [%s] API error: status=%d code=%s message=%s", a.provider, pe.Status, pe.Code, pe.Message)
	return pe
}

// openAIStream turns upstream SSE chunks into deltas.
// One chunk can carry both reasoning and content text; the extra delta waits in pending.
type openAIStream struct {
	ctx      context.Context
	provider string
	body     io.ReadCloser
	reader   *sse.Reader
	pending  []Delta
	done     bool
}

func (s *openAIStream) Recv() (Delta, error) {
	for {
		if len(s.pending) > 0 {
			d := s.pending[0]
			s.pending = s.pending[1:]
			return d, nil
		}
		if s.done {
			return Delta{}, io.EOF
		}

		ev, err := s.reader.Next()
		if err != nil {
			if s.ctx.Err() != nil {
				return Delta{}, s.ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				s.done = true
				continue
			}
			return Delta{}, &ProviderError{Provider: s.provider, Message: "stream read failed: " + err.Error(), Err: err}
		}

		if string(ev.Data) == models.DoneSentinel {
			s.done = true
			continue
		}

		var chunk completionChunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			return Delta{}, &ProviderError{Provider: s.provider, Message: "malformed stream chunk", Code: "malformed_response", Err: err}
		}
		if chunk.Error != nil {
			return Delta{}, &ProviderError{Provider: s.provider, Message: chunk.Error.Message, Code: chunk.Error.code()}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.ReasoningContent != "" {
			s.pending = append(s.pending, Delta{Kind: KindReasoning, Text: delta.ReasoningContent})
		}
		if delta.Content != "" {
			s.pending = append(s.pending, Delta{Kind: KindContent, Text: delta.Content})
		}
	}
}

func (s *openAIStream) Close() error {
	return s.body.Close()
}
