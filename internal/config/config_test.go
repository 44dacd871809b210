package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_PORT", "MODELS_FILE", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "MAX_UPLOAD_BYTES", "DEEPSEEK_BASE_URL", "KIMI_BASE_URL"} {
		t.Setenv(k, "")
	}
	t.Setenv("HTTP_PORT", "3000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "*")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.HTTPPort)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 5.0, cfg.RateLimitRPS)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "8081")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173, https://app.example.com")
	t.Setenv("RATE_LIMIT_RPS", "0")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")
	t.Setenv("KIMI_BASE_URL", "http://gateway.local/v1")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, []string{"http://localhost:5173", "https://app.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 0.0, cfg.RateLimitRPS)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Equal(t, "http://gateway.local/v1", cfg.BaseURLs["kimi"])
}

func TestLoadClientConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("THREADAI_DATA_DIR", dir)
	t.Setenv("THREADAI_SERVER_URL", "http://localhost:9999/")
	t.Setenv("THREADAI_STORAGE", "Memory")
	t.Setenv("THREADAI_STORAGE_QUOTA", "1024")

	cfg, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "http://localhost:9999", cfg.ServerURL)
	assert.Equal(t, "memory", cfg.StorageBackend)
	assert.Equal(t, int64(1024), cfg.StorageQuota)
}
