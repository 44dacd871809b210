package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"threadai-backend/internal/llm"
	"threadai-backend/internal/models"
	"threadai-backend/pkg/httputil"
)

// ChatStreamer serves a chat completion as an event stream.
type ChatStreamer interface {
	Serve(ctx context.Context, w http.ResponseWriter, req models.ChatRequest)
}

// TitleGenerator produces a short title for a conversation.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, model string, messages []models.ChatMessage) (string, error)
}

// ChatHandlers handles HTTP requests for chat streaming and titles.
type ChatHandlers struct {
	streamer ChatStreamer
	titles   TitleGenerator
}

// NewChatHandlers creates a new ChatHandlers instance.
func NewChatHandlers(streamer ChatStreamer, titles TitleGenerator) *ChatHandlers {
	return &ChatHandlers{
		streamer: streamer,
		titles:   titles,
	}
}

// HandleChat handles POST /api/chat.
func (h *ChatHandlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httputil.RespondErrorDetails(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	log.Printf("[ChatHandler] Streaming %d messages with model %s", len(req.Messages), req.Model)
	h.streamer.Serve(r.Context(), w, req)
}

// HandleTitle handles POST /api/title.
func (h *ChatHandlers) HandleTitle(w http.ResponseWriter, r *http.Request) {
	var req models.TitleRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httputil.RespondErrorDetails(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	title, err := h.titles.GenerateTitle(r.Context(), req.Model, req.Messages)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrUnsupportedModel), errors.Is(err, llm.ErrMissingCredential):
			httputil.RespondErrorDetails(w, http.StatusBadRequest, "Model not supported", err.Error())
		default:
			log.Printf("ERROR [ChatHandler] Title generation failed for model %s: %v", req.Model, err)
			httputil.RespondError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	httputil.RespondJSON(w, http.StatusOK, models.TitleResponse{Title: title})
}
