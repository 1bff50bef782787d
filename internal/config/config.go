// Package config loads process configuration from environment variables.
// Configuration is read once at startup and immutable afterwards; a missing
// API key is fatal before any model call is made.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/gembridge/gembridge/pkg/models"
)

// Config holds all configuration for the GemBridge service.
type Config struct {
	Port      int
	Version   string
	Gemini    GeminiConfig
	Telemetry TelemetryConfig
}

// GeminiConfig configures the upstream Generative Language API.
type GeminiConfig struct {
	// APIKey is required; Load fails without it.
	APIKey string
	// Model is the generation model identifier.
	Model string
	// EmbedModel is fixed per deployment: the embedding dimension is a
	// property of the model, so changing it invalidates stored vectors.
	EmbedModel string
	// Endpoint overrides the API base URL (proxies, fakes).
	Endpoint string

	Timeout       time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxConcurrent int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible
// defaults. Returns *models.ConfigurationError when required settings are
// absent.
func Load() (*Config, error) {
	cfg := &Config{
		Port:    envInt("GEMBRIDGE_PORT", 8080),
		Version: envStr("GEMBRIDGE_VERSION", "0.1.0"),
		Gemini: GeminiConfig{
			APIKey:        os.Getenv("GEMINI_API_KEY"),
			Model:         envStr("GEMINI_MODEL", "gemini-1.5-flash"),
			EmbedModel:    envStr("GEMINI_EMBED_MODEL", "text-embedding-004"),
			Endpoint:      envStr("GEMINI_ENDPOINT", ""),
			Timeout:       envDuration("GEMINI_TIMEOUT", 60*time.Second),
			MaxAttempts:   envInt("GEMINI_MAX_ATTEMPTS", 3),
			BaseDelay:     envDuration("GEMINI_RETRY_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:      envDuration("GEMINI_RETRY_MAX_DELAY", 8*time.Second),
			MaxConcurrent: envInt("GEMINI_MAX_CONCURRENT", 8),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "gembridge"),
		},
	}

	if cfg.Gemini.APIKey == "" {
		return nil, &models.ConfigurationError{Field: "GEMINI_API_KEY", Reason: "required environment variable is not set"}
	}
	if cfg.Gemini.MaxAttempts < 1 {
		return nil, &models.ConfigurationError{Field: "GEMINI_MAX_ATTEMPTS", Reason: "must be at least 1"}
	}
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
