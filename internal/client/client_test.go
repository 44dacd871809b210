package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"threadai-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s models.FrameStream) ([]models.StreamFrame, error) {
	t.Helper()
	defer s.Close()
	var frames []models.StreamFrame
	for {
		f, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, err
		}
		frames = append(frames, f)
	}
}

func TestChat_DecodesFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req models.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-reasoner", req.Model)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"reasoning\",\"text\":\"hmm\"}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\"line1\\nline2\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	stream, err := New(srv.URL).Chat(context.Background(), "deepseek-reasoner", []models.ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	frames, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []models.StreamFrame{
		{Type: models.FrameReasoning, Text: "hmm"},
		{Type: models.FrameContent, Text: "line1\nline2"},
	}, frames)
}

func TestChat_MissingSentinelIsUnexpected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\"partial\"}\n\n")
	}))
	defer srv.Close()

	stream, err := New(srv.URL).Chat(context.Background(), "deepseek-chat", nil)
	require.NoError(t, err)

	frames, err := drain(t, stream)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Len(t, frames, 1)
}

func TestChat_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"Model not supported","details":"unsupported model: gpt-x"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "gpt-x", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Model not supported", apiErr.Message)
	assert.Equal(t, "unsupported model: gpt-x", apiErr.Details)
}

func TestTitleAndModels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/title", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.TitleResponse{Title: "Go Basics"})
	})
	mux.HandleFunc("/api/models", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.ListModelsResponse{Models: []models.ModelInfo{{ID: "deepseek-chat", Available: true}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL + "/")
	title, err := c.Title(context.Background(), "deepseek-chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "Go Basics", title)

	list, err := c.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Available)
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)

		json.NewEncoder(w).Encode(models.UploadResponse{
			Message: "File uploaded",
			File: models.UploadedFile{
				OriginalName: header.Filename,
				MimeType:     header.Header.Get("Content-Type"),
				Size:         int64(len(data)),
				Content:      string(data),
			},
		})
	}))
	defer srv.Close()

	got, err := New(srv.URL).Upload(context.Background(), models.RawFile{Name: "notes.md", MimeType: "text/markdown", Data: []byte("# hi")})
	require.NoError(t, err)
	assert.Equal(t, "notes.md", got.OriginalName)
	assert.Equal(t, "text/markdown", got.MimeType)
	assert.Equal(t, "# hi", got.Content)
}
