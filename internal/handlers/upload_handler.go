package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"threadai-backend/internal/models"
	"threadai-backend/pkg/httputil"
)

// FileExtractor turns raw upload bytes into a file description.
type FileExtractor interface {
	Extract(name, mimetype string, data []byte) models.UploadedFile
}

// UploadHandler handles multipart file uploads.
type UploadHandler struct {
	extractor FileExtractor
	maxBytes  int64
}

// NewUploadHandler creates a new UploadHandler accepting files up to maxBytes.
func NewUploadHandler(extractor FileExtractor, maxBytes int64) *UploadHandler {
	return &UploadHandler{
		extractor: extractor,
		maxBytes:  maxBytes,
	}
}

// HandleUpload handles POST /api/upload with a single "file" part.
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	// Multipart framing needs some headroom above the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RespondError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		httputil.RespondError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			log.Printf("WARN [UploadHandler] Failed to read multipart file: %v", err)
		}
		httputil.RespondError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		httputil.RespondError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		log.Printf("ERROR [UploadHandler] Failed to read upload %s: %v", header.Filename, err)
		httputil.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	uploaded := h.extractor.Extract(header.Filename, header.Header.Get("Content-Type"), data)
	httputil.RespondJSON(w, http.StatusOK, models.UploadResponse{
		Message: "File uploaded",
		File:    uploaded,
	})
}
