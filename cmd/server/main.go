package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threadai-backend/internal/api"
	"threadai-backend/internal/config"
	"threadai-backend/internal/handlers"
	"threadai-backend/internal/llm"
	"threadai-backend/internal/relay"
	"threadai-backend/internal/services"
)

func main() {
	log.Println("Starting Thread AI Backend...")

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	// 2. Load the model catalog and build the adapter registry
	catalog, err := llm.LoadCatalog(cfg.ModelsFile)
	if err != nil {
		log.Fatalf("FATAL: Failed to load model catalog: %v", err)
	}
	for provider, baseURL := range cfg.BaseURLs {
		catalog.SetBaseURL(provider, baseURL)
	}
	registry := llm.NewRegistry(catalog)
	for _, p := range registry.Providers() {
		if !registry.HasCredential(p.Name) {
			log.Printf("WARN: %s is not set, models of provider '%s' will be rejected.", p.APIKeyEnv, p.Name)
		}
	}
	log.Println("AdapterRegistry initialized.")

	// 3. Initialize Services and Handlers
	chatRelay := relay.New(registry)
	titleService := services.NewTitleService(registry)
	uploadService := services.NewUploadService()
	log.Println("Services initialized.")

	chatHandler := handlers.NewChatHandlers(chatRelay, titleService)
	uploadHandler := handlers.NewUploadHandler(uploadService, cfg.MaxUploadBytes)
	metaHandler := handlers.NewMetaHandlers(registry)
	log.Println("Handlers initialized.")

	// 4. Setup Router & Inject Dependencies
	router := api.NewRouter(api.RouterDependencies{
		ChatHandler:   chatHandler,
		UploadHandler: uploadHandler,
		MetaHandler:   metaHandler,
		Config:        cfg,
	})
	log.Println("HTTP router configured.")

	// 5. Configure and Start HTTP Server
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Chat responses are long-lived event streams; the write side is bounded by the
		// client context instead of a server-wide deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting and listening on port %s", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: Could not listen on %s: %v\n", cfg.HTTPPort, err)
		}
		log.Println("Server listener routine stopped.")
	}()

	<-stopChan
	log.Println("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: Server graceful shutdown failed: %v", err)
		log.Fatal("Forcing shutdown due to error.")
	}

	log.Println("Server shutdown complete.")
}
