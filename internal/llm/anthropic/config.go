package anthropic

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds Anthropic Messages API configuration.
type Config struct {
	APIKey      string // API key for authentication
	BaseURL     string // Base URL override (default: SDK default, api.anthropic.com)
	Model       string // Model name (default: claude-sonnet-4-20250514)
	MaxTokens   int    // Max tokens in response (default: 4096)
	Temperature *float32
	MaxRetries  int // HTTP-level retry for transient errors only (default: 1)
}

// NewConfigFromEnv creates Config from environment variables.
// Expected env vars: ANTHROPIC_API_KEY, ANTHROPIC_BASE_URL, ANTHROPIC_MODEL,
// ANTHROPIC_MAX_TOKENS, ANTHROPIC_TEMPERATURE, ANTHROPIC_MAX_RETRIES.
func NewConfigFromEnv() (*Config, error) {
	config := &Config{
		APIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		BaseURL:     os.Getenv("ANTHROPIC_BASE_URL"),
		Model:       getEnvOrDefault("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		MaxTokens:   getEnvIntOrDefault("ANTHROPIC_MAX_TOKENS", 4096),
		Temperature: getEnvFloat32Ptr("ANTHROPIC_TEMPERATURE"),
		MaxRetries:  getEnvIntOrDefault("ANTHROPIC_MAX_RETRIES", 1),
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required. Set it in .env or environment")
	}
	if c.Model == "" {
		return fmt.Errorf("ANTHROPIC_MODEL cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("ANTHROPIC_MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature != nil && (*c.Temperature < 0.0 || *c.Temperature > 1.0) {
		return fmt.Errorf("ANTHROPIC_TEMPERATURE must be between 0.0 and 1.0, got %f", *c.Temperature)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("ANTHROPIC_MAX_RETRIES cannot be negative, got %d", c.MaxRetries)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat32Ptr(key string) *float32 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			f := float32(parsed)
			return &f
		}
	}
	return nil
}
