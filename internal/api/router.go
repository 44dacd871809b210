package api

import (
	"log"
	"net/http"
	"time"

	"threadai-backend/internal/config"
	"threadai-backend/internal/handlers"
	"threadai-backend/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	ChatHandler   *handlers.ChatHandlers
	UploadHandler *handlers.UploadHandler
	MetaHandler   *handlers.MetaHandlers
	Config        *config.Config
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	r := chi.NewRouter()

	// --- Base Middleware Stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- CORS Configuration ---
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		if deps.MetaHandler != nil {
			r.Get("/health", deps.MetaHandler.HandleHealth)
			r.Get("/models", deps.MetaHandler.HandleListModels)
		} else {
			log.Println("WARN: MetaHandler dependency is nil, skipping /api/health and /api/models routes.")
		}

		if deps.ChatHandler != nil {
			limit := RateLimitMiddleware(deps.Config.RateLimitRPS, deps.Config.RateLimitBurst)
			// Streams stay open for as long as the model keeps talking: no request timeout.
			r.With(limit).Post("/chat", deps.ChatHandler.HandleChat)
			r.With(limit, middleware.Timeout(60*time.Second)).Post("/title", deps.ChatHandler.HandleTitle)
		} else {
			log.Println("WARN: ChatHandler dependency is nil, skipping /api/chat and /api/title routes.")
		}

		if deps.UploadHandler != nil {
			r.With(middleware.Timeout(60*time.Second)).Post("/upload", deps.UploadHandler.HandleUpload)
		} else {
			log.Println("WARN: UploadHandler dependency is nil, skipping /api/upload route.")
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.RespondError(w, http.StatusNotFound, "Not found")
	})

	return r
}
