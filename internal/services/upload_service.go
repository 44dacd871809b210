package services

import (
	"log"
	"strings"

	"threadai-backend/internal/models"
)

// UploadService turns uploaded files into text that can be inlined into a prompt.
type UploadService struct{}

// NewUploadService creates a new UploadService.
func NewUploadService() *UploadService {
	return &UploadService{}
}

// Extract describes an uploaded file. Content holds the decoded text for text-like files
// (text/* mimetypes, .json and .md names) and is empty for anything else.
func (s *UploadService) Extract(name, mimetype string, data []byte) models.UploadedFile {
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}
	file := models.UploadedFile{
		OriginalName: name,
		MimeType:     mimetype,
		Size:         int64(len(data)),
	}
	if IsTextLike(name, mimetype) {
		file.Content = strings.ToValidUTF8(string(data), "�")
	}
	log.Printf("[UploadService] Received %s (%s, %d bytes, text=%t)", name, mimetype, file.Size, file.Content != "")
	return file
}

// IsTextLike reports whether a file's content is inlined as text.
func IsTextLike(name, mimetype string) bool {
	return strings.HasPrefix(mimetype, "text/") ||
		strings.HasSuffix(name, ".json") ||
		strings.HasSuffix(name, ".md")
}
