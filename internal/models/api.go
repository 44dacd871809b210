package models

// --- Roles ---

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// --- Request Structs ---

// ChatMessage is one turn as sent to the API and forwarded to upstream providers.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest defines the expected body for the chat endpoint.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// TitleRequest defines the expected body for the title endpoint.
// Callers send the opening messages of a conversation; the server only looks at the first four.
type TitleRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// --- Response Structs ---

// TitleResponse is returned once the title has been generated.
type TitleResponse struct {
	Title string `json:"title"`
}

// ErrorResponse defines the standard structure for API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// UploadedFile describes a file received by the upload endpoint.
// Content is only populated for text-like files.
type UploadedFile struct {
	OriginalName string `json:"originalname"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	Content      string `json:"content"`
}

// UploadResponse is the body returned by the upload endpoint.
type UploadResponse struct {
	Message string       `json:"message"`
	File    UploadedFile `json:"file"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Env     map[string]bool `json:"env"`
}

// ModelInfo describes one entry of the model catalog as exposed over HTTP.
type ModelInfo struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Provider          string `json:"provider"`
	SupportsStreaming bool   `json:"supportsStreaming"`
	SupportsReasoning bool   `json:"supportsReasoning"`
	Available         bool   `json:"available"` // provider credential configured
}

// ListModelsResponse wraps the catalog listing.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}
