// Package client talks to the Thread AI HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"threadai-backend/internal/models"
	"threadai-backend/pkg/sse"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("server returned %d: %s (%s)", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client is an HTTP client for the chat, title, upload and model endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the server at baseURL.
// The default HTTP client has no overall timeout because chat streams are long-lived;
// callers bound requests with their context.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 2 * time.Minute,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat opens a chat stream. The stream ends with io.EOF after the [DONE] sentinel; a
// connection that closes without it yields io.ErrUnexpectedEOF.
func (c *Client) Chat(ctx context.Context, model string, messages []models.ChatMessage) (models.FrameStream, error) {
	body, err := json.Marshal(models.ChatRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	return &frameStream{body: resp.Body, reader: sse.NewReader(resp.Body)}, nil
}

// Title asks the server for a short title for the opening messages of a conversation.
func (c *Client) Title(ctx context.Context, model string, messages []models.ChatMessage) (string, error) {
	var out models.TitleResponse
	if err := c.postJSON(ctx, "/api/title", models.TitleRequest{Model: model, Messages: messages}, &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

// Upload sends one file as multipart field "file" and returns the server's description of it.
func (c *Client) Upload(ctx context.Context, file models.RawFile) (models.UploadedFile, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	hdr.Set("Content-Type", mimeType)

	part, err := mw.CreatePart(hdr)
	if err != nil {
		return models.UploadedFile{}, fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return models.UploadedFile{}, fmt.Errorf("failed to write multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return models.UploadedFile{}, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return models.UploadedFile{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out models.UploadResponse
	if err := c.do(req, &out); err != nil {
		return models.UploadedFile{}, err
	}
	return out.File, nil
}

// Models lists the models the server knows about.
func (c *Client) Models(ctx context.Context) ([]models.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}
	var out models.ListModelsResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var body models.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Details = body.Details
	} else if s := strings.TrimSpace(string(raw)); s != "" {
		apiErr.Details = s
	}
	return apiErr
}

// frameStream decodes the chat event stream into frames.
type frameStream struct {
	body   io.ReadCloser
	reader *sse.Reader
	done   bool
}

func (s *frameStream) Recv() (models.StreamFrame, error) {
	if s.done {
		return models.StreamFrame{}, io.EOF
	}
	for {
		ev, err := s.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return models.StreamFrame{}, io.ErrUnexpectedEOF
			}
			return models.StreamFrame{}, err
		}

		data := strings.TrimSpace(string(ev.Data))
		if data == models.DoneSentinel {
			s.done = true
			return models.StreamFrame{}, io.EOF
		}

		var frame models.StreamFrame
		if err := json.Unmarshal(ev.Data, &frame); err != nil {
			log.Printf("WARN [Client] Skipping malformed stream frame: %v", err)
			continue
		}
		return frame, nil
	}
}

func (s *frameStream) Close() error {
	return s.body.Close()
}
