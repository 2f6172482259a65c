package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration values loaded from environment variables.
type Config struct {
	DatabaseURL     string
	JWTSecret       string
	HTTPPort        string
	TokenExpiration time.Duration

	// Per-provider API keys. A missing key means the provider is unusable;
	// resolution fails at request time, not at startup.
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GroqAPIKey      string
	GoogleAPIKey    string

	// TitleModelID is the (usually cheaper) model used for conversation titles.
	TitleModelID string
}

// LoadConfig loads configuration from environment variables.
// It looks for a .env file first, then checks actual environment variables.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file (useful for development)
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded, using environment variables only")
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is not set")
	}

	tokenExpStr := getEnv("JWT_EXPIRATION_HOURS", "24")
	tokenExpHours, err := strconv.Atoi(tokenExpStr)
	if err != nil {
		log.Warn().Str("value", tokenExpStr).Err(err).Msg("invalid JWT_EXPIRATION_HOURS, using default 24h")
		tokenExpHours = 24
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		JWTSecret:       jwtSecret,
		DatabaseURL:     dbURL,
		TokenExpiration: time.Hour * time.Duration(tokenExpHours),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GroqAPIKey:      getEnv("GROQ_API_KEY", ""),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		TitleModelID:    getEnv("TITLE_MODEL_ID", "llama-3.3-70b-versatile"),
	}

	log.Info().
		Str("port", cfg.HTTPPort).
		Dur("token_expiration", cfg.TokenExpiration).
		Str("title_model", cfg.TitleModelID).
		Msg("configuration loaded")

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
