package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"threadai-backend/internal/llm"
	"threadai-backend/internal/models"
)

// TitleContextMessages is how many opening messages are used as title context.
const TitleContextMessages = 4

// TitlePrompt is appended as a final user turn when asking for a title.
const TitlePrompt = `Generate a short, concise title (max 5 words) for this conversation based on the initial messages. Do not use quotes, prefixes, or "Title:". Just the title text itself.`

var (
	titleQuotes = regexp.MustCompile(`^["']|["']$`)
	titlePrefix = regexp.MustCompile(`(?i)^Title:\s*`)
)

// ModelResolver finds the adapter for a model id.
type ModelResolver interface {
	Resolve(modelID string) (llm.Adapter, llm.ModelConfig, error)
}

// TitleService generates conversation titles with the streaming adapters.
type TitleService struct {
	resolver ModelResolver
}

// NewTitleService creates a new TitleService.
func NewTitleService(resolver ModelResolver) *TitleService {
	return &TitleService{resolver: resolver}
}

// GenerateTitle drains one completion for the first messages of a conversation and returns the
// cleaned title. Only content deltas count; reasoning is discarded.
func (s *TitleService) GenerateTitle(ctx context.Context, model string, messages []models.ChatMessage) (string, error) {
	adapter, _, err := s.resolver.Resolve(model)
	if err != nil {
		return "", err
	}

	if len(messages) > TitleContextMessages {
		messages = messages[:TitleContextMessages]
	}
	prompt := make([]models.ChatMessage, 0, len(messages)+1)
	prompt = append(prompt, messages...)
	prompt = append(prompt, models.ChatMessage{Role: models.RoleUser, Content: TitlePrompt})

	stream, err := adapter.Stream(ctx, model, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to open title stream: %w", err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("title stream failed: %w", err)
		}
		if delta.Kind == llm.KindContent {
			b.WriteString(delta.Text)
		}
	}

	title := CleanTitle(b.String())
	log.Printf("[TitleService] Generated title with model %s: %q", model, title)
	return title, nil
}

// CleanTitle strips surrounding quotes and a leading "Title:" from a model answer.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = titleQuotes.ReplaceAllString(title, "")
	title = titlePrefix.ReplaceAllString(title, "")
	title = strings.TrimSpace(title)
	return strings.TrimSpace(titleQuotes.ReplaceAllString(title, ""))
}
