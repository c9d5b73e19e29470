// Package config provides configuration loading and access for Hale.
package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Sync     SyncConfig
	Provider ProviderConfig

	configDir string // Internal: directory the config was loaded from
}

// ServerConfig represents the Hale server the engine uploads to
type ServerConfig struct {
	URL        string        // Base URL of the sync API
	Token      string        // Bearer token for upload requests
	Timeout    time.Duration // Per-request timeout
	DeviceName string        // Name reported with uploaded batches
}

// DatabaseConfig represents local state database configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	TimeFormat string // Time format for logs (empty uses RFC3339)
}

// SyncConfig represents tuning for the sync engine
type SyncConfig struct {
	BatchSize         int           // Max records fetched per provider query
	ObserverBatchSize int           // Batch size for observer-triggered syncs
	ObserverWindow    time.Duration // Window when an observer fires with no prior anchor
	MonthsBack        int           // Default lookback for time-bounded record types
	QueriesPerMinute  int           // Provider query rate limit
	UploadTimeout     time.Duration // Timeout handed to the upload client
}

// ProviderConfig selects the health-data provider backing the engine
type ProviderConfig struct {
	ExportPath string // Path to a JSON health export served by the file provider
}

// New returns a Config populated with defaults
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			JournalMode:     "WAL",
			SynchronousMode: "NORMAL",
			BusyTimeout:     5000,
			ForeignKeys:     true,
			ConnMaxLife:     time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			TimeFormat: time.RFC3339,
		},
		Sync: SyncConfig{
			BatchSize:         1000,
			ObserverBatchSize: 200,
			ObserverWindow:    24 * time.Hour,
			MonthsBack:        6,
			QueriesPerMinute:  120,
			UploadTimeout:     60 * time.Second,
		},
	}
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ParseLogLevel converts a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
