package handlers

import (
	"net/http"

	"threadai-backend/internal/llm"
	"threadai-backend/internal/models"
	"threadai-backend/pkg/httputil"
)

// ModelCatalog exposes configured models and whether their providers have credentials.
type ModelCatalog interface {
	Models() []llm.ModelConfig
	HasCredential(provider string) bool
}

// MetaHandlers serves health and model listing endpoints.
type MetaHandlers struct {
	catalog ModelCatalog
}

// NewMetaHandlers creates a new MetaHandlers instance.
func NewMetaHandlers(catalog ModelCatalog) *MetaHandlers {
	return &MetaHandlers{catalog: catalog}
}

// HandleHealth handles GET /api/health.
func (h *MetaHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Message: "Thread AI API is running",
		Env: map[string]bool{
			"hasDeepSeekKey": h.catalog.HasCredential("deepseek"),
			"hasKimiKey":     h.catalog.HasCredential("kimi"),
		},
	})
}

// HandleListModels handles GET /api/models.
func (h *MetaHandlers) HandleListModels(w http.ResponseWriter, r *http.Request) {
	configured := h.catalog.Models()
	resp := models.ListModelsResponse{Models: make([]models.ModelInfo, 0, len(configured))}
	for _, m := range configured {
		resp.Models = append(resp.Models, models.ModelInfo{
			ID:                m.ID,
			Name:              m.Name,
			Provider:          m.Provider,
			SupportsStreaming: m.SupportsStreaming,
			SupportsReasoning: m.SupportsReasoning,
			Available:         h.catalog.HasCredential(m.Provider),
		})
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}
