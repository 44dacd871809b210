package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds server configuration values loaded from environment variables.
type Config struct {
	HTTPPort       string
	ModelsFile     string            // Optional TOML catalog merged over the built-in models
	BaseURLs       map[string]string // Provider name -> endpoint override
	AllowedOrigins []string
	RateLimitRPS   float64 // <= 0 disables rate limiting
	RateLimitBurst int
	MaxUploadBytes int64
}

// ClientConfig holds configuration for the terminal client.
type ClientConfig struct {
	ServerURL      string
	DataDir        string
	StorageBackend string // sqlite, postgres or memory
	DatabaseURL    string
	StorageQuota   int64
	Passphrase     string // Enables at-rest encryption of stored sessions when set
	DefaultModel   string
}

// LoadConfig loads server configuration from environment variables.
// It looks for a .env file first, then checks actual environment variables.
func LoadConfig() (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		HTTPPort:   getEnv("HTTP_PORT", "3000"),
		ModelsFile: getEnv("MODELS_FILE", ""),
		BaseURLs: map[string]string{
			"deepseek": getEnv("DEEPSEEK_BASE_URL", ""),
			"kimi":     getEnv("KIMI_BASE_URL", ""),
		},
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 10<<20),
	}

	log.Printf("Loaded config: Port=%s, ModelsFile=%q, Origins=%v, RateLimit=%.1f/s burst %d, MaxUpload=%d",
		cfg.HTTPPort, cfg.ModelsFile, cfg.AllowedOrigins, cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.MaxUploadBytes)
	return cfg, nil
}

// LoadClientConfig loads terminal client configuration from environment variables.
func LoadClientConfig() (*ClientConfig, error) {
	loadDotEnv()

	dataDir := getEnv("THREADAI_DATA_DIR", "")
	if dataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = "."
		}
		dataDir = filepath.Join(base, "threadai")
	}

	cfg := &ClientConfig{
		ServerURL:      strings.TrimRight(getEnv("THREADAI_SERVER_URL", "http://localhost:3000"), "/"),
		DataDir:        dataDir,
		StorageBackend: strings.ToLower(getEnv("THREADAI_STORAGE", "sqlite")),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		StorageQuota:   getEnvInt64("THREADAI_STORAGE_QUOTA", 5<<20),
		Passphrase:     os.Getenv("THREADAI_PASSPHRASE"),
		DefaultModel:   getEnv("THREADAI_DEFAULT_MODEL", "deepseek-chat"),
	}
	return cfg, nil
}

func loadDotEnv() {
	// Attempt to load .env file (useful for development)
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Could not load .env file. Using environment variables only.", err)
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s', using default %d. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) int64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s', using default %d. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s', using default %.2f. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
