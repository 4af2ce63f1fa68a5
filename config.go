package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultGlobalPrompt = "A vibrant, lush fantasy world with glowing flora and ancient ruins."

// GeminiConfig holds the credentials for live image generation.
type GeminiConfig struct {
	APIKey    string
	ProjectID string
	Region    string
	Model     string
}

// HasCredentials reports whether live generation can be configured.
func (c GeminiConfig) HasCredentials() bool {
	return c.APIKey != "" || c.ProjectID != ""
}

// Config is the service configuration, read from the environment.
type Config struct {
	Port                string
	MockAPI             bool
	MockDelay           time.Duration
	GenerationTimeout   time.Duration // zero disables the timeout
	DefaultGlobalPrompt string
	Gemini              GeminiConfig
}

// LoadConfig reads an optional .env file, then the environment.
// Variables already set in the environment win over the file.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		Port:                getenv("PORT", "8080"),
		DefaultGlobalPrompt: getenv("DEFAULT_GLOBAL_PROMPT", defaultGlobalPrompt),
		Gemini: GeminiConfig{
			APIKey:    firstEnv("GEMINI_API_KEY", "API_KEY"),
			ProjectID: os.Getenv("GCP_PROJECT_ID"),
			Region:    os.Getenv("GCP_REGION"),
			Model:     os.Getenv("IMAGE_MODEL"),
		},
	}

	var err error
	if cfg.MockAPI, err = parseBool("MOCK_API", true); err != nil {
		return Config{}, err
	}
	if cfg.MockDelay, err = parseDuration("MOCK_DELAY", defaultMockDelay); err != nil {
		return Config{}, err
	}
	if cfg.GenerationTimeout, err = parseDuration("GENERATION_TIMEOUT", 0); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", key, v)
	}
	return d, nil
}
