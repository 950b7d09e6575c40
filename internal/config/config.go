// Package config provides configuration management functionality.
//
// Two layers: environment variables (secrets, paths, log level) loaded via
// godotenv, and the typed settings document (risk limits, phase tuning,
// schedule) loaded from YAML. Every numeric setting has a default so the
// engine can start from an empty file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration read from the environment.
type Config struct {
	DataDir        string // base directory for databases and state files
	SettingsPath   string // YAML settings document
	UniversePath   string // watchlist / scan-universe file
	LogLevel       string
	Port           int
	DevMode        bool
	InitialCapital float64 // starting capital when no state snapshot exists

	GeminiAPIKey string
	OpenAIAPIKey string
	AnthropicKey string
	NewsAPIKey   string // primary news backend; absence forces the fallback source

	BackupBucket          string // S3-compatible bucket for off-site backups; empty disables
	BackupEndpoint        string
	BackupAccessKeyID     string
	BackupSecretAccessKey string
	BackupRetentionDays   int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("VIGIL_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		SettingsPath:   getEnv("VIGIL_SETTINGS", filepath.Join(absDataDir, "settings.yaml")),
		UniversePath:   getEnv("VIGIL_UNIVERSE", filepath.Join(absDataDir, "universe.yaml")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Port:           getEnvAsInt("VIGIL_PORT", 8011),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		InitialCapital: getEnvAsFloat("VIGIL_CAPITAL", 100_000),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		AnthropicKey: getEnv("ANTHROPIC_API_KEY", ""),
		NewsAPIKey:   getEnv("NEWS_API_KEY", ""),

		BackupBucket:          getEnv("BACKUP_BUCKET", ""),
		BackupEndpoint:        getEnv("BACKUP_ENDPOINT", ""),
		BackupAccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		BackupSecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
		BackupRetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 14),
	}

	return cfg, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
