package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/hale-app/hale/internal/utils"
)

// LoadFromEnv loads configuration from environment variables.
// configDir and envFile may be empty, in which case ~/.hale and
// ~/.hale/.env are used.
func LoadFromEnv(configDir, envFile string) (*Config, error) {
	cfg := New()

	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".hale")
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg.configDir = configDir

	cfg.Database.Path = filepath.Join(configDir, "hale.db")
	defaultLogPath := filepath.Join(configDir, "hale.log")

	if envFile == "" {
		envFile = filepath.Join(configDir, ".env")
	}
	if err := godotenv.Load(envFile); err != nil {
		// Fall back to a .env in the working directory, ignoring absence
		_ = godotenv.Load()
	}

	cfg.Server = ServerConfig{
		URL:        getEnvString("HALE_SERVER_URL", ""),
		Token:      getEnvString("HALE_SERVER_TOKEN", ""),
		Timeout:    getEnvDuration("HALE_SERVER_TIMEOUT", 30*time.Second),
		DeviceName: getEnvString("HALE_DEVICE_NAME", ""),
	}
	if cfg.Server.DeviceName == "" {
		cfg.Server.DeviceName = utils.GenerateDeviceName()
	}

	cfg.Database.Path = getEnvString("HALE_DB_PATH", cfg.Database.Path)
	cfg.Database.JournalMode = getEnvString("HALE_DB_JOURNAL_MODE", cfg.Database.JournalMode)
	cfg.Database.SynchronousMode = getEnvString("HALE_DB_SYNCHRONOUS", cfg.Database.SynchronousMode)
	cfg.Database.BusyTimeout = getEnvInt("HALE_DB_BUSY_TIMEOUT", cfg.Database.BusyTimeout)
	cfg.Database.ForeignKeys = getEnvBool("HALE_DB_FOREIGN_KEYS", cfg.Database.ForeignKeys)
	cfg.Database.ConnMaxLife = getEnvDuration("HALE_DB_CONN_MAX_LIFE", cfg.Database.ConnMaxLife)

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("HALE_LOG_LEVEL", "info"),
		Format:     getEnvString("HALE_LOG_FORMAT", "text"),
		Output:     getEnvString("HALE_LOG_OUTPUT", defaultLogPath),
		TimeFormat: getEnvString("HALE_LOG_TIME_FORMAT", time.RFC3339),
	}

	cfg.Provider.ExportPath = getEnvString("HALE_HEALTH_EXPORT", filepath.Join(configDir, "export.json"))

	cfg.Sync.BatchSize = getEnvInt("HALE_SYNC_BATCH_SIZE", cfg.Sync.BatchSize)
	cfg.Sync.ObserverBatchSize = getEnvInt("HALE_SYNC_OBSERVER_BATCH_SIZE", cfg.Sync.ObserverBatchSize)
	cfg.Sync.ObserverWindow = getEnvDuration("HALE_SYNC_OBSERVER_WINDOW", cfg.Sync.ObserverWindow)
	cfg.Sync.MonthsBack = getEnvInt("HALE_SYNC_MONTHS_BACK", cfg.Sync.MonthsBack)
	cfg.Sync.QueriesPerMinute = getEnvInt("HALE_SYNC_QUERIES_PER_MINUTE", cfg.Sync.QueriesPerMinute)
	cfg.Sync.UploadTimeout = getEnvDuration("HALE_SYNC_UPLOAD_TIMEOUT", cfg.Sync.UploadTimeout)

	return cfg, nil
}

func getEnvString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
