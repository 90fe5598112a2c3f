package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env is the part of the configuration that only comes from the process
// environment. Secrets never live in the YAML file.
type Env struct {
	GeminiAPIKey   string `env:"GEMINI_API_KEY"`
	JWTSecret      string `env:"CHRONOS_JWT_SECRET"`
	Port           int    `env:"CHRONOS_PORT"`
	StorageBackend string `env:"CHRONOS_STORAGE_BACKEND"`
	StorageDSN     string `env:"CHRONOS_STORAGE_DSN"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
