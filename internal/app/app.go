// Package app provides the application initialization and lifecycle management
package app

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/hale-app/hale/internal/config"
	"github.com/hale-app/hale/internal/database"
	"github.com/hale-app/hale/internal/loggy"
	"github.com/hale-app/hale/internal/provider"
	"github.com/hale-app/hale/internal/store"
	"github.com/hale-app/hale/internal/sync"
)

// App represents the application instance with its dependencies
type App struct {
	Config   *config.Config
	Provider provider.Provider
	Locks    *provider.LockState
	Client   *sync.Client
	Sync     *sync.Service
	Observer *sync.Observer
	SyncLogs sync.Repository
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}
	logger := loggy.GetGlobalLogger()

	loggy.Info("Application initializing",
		"log_level", cfg.Logging.Level,
		"device", cfg.Server.DeviceName,
	)

	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	prov, err := provider.NewFileProvider(cfg.Provider.ExportPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open health export: %w", err)
	}

	kv := store.NewSQLRepository(db, logger)
	syncLogs := sync.NewSQLRepository(db, logger)
	locks := provider.NewLockState()
	client := sync.NewClient(cfg.Server, cfg.Sync.UploadTimeout, logger)

	syncService := sync.NewService(cfg.Sync, prov, client, kv, syncLogs, locks, sync.NopNotifier{}, logger)
	observer := sync.NewObserver(syncService, prov, cfg.Sync, logger)

	loggy.Info("Application initialized successfully")
	return &App{
		Config:   cfg,
		Provider: prov,
		Locks:    locks,
		Client:   client,
		Sync:     syncService,
		Observer: observer,
		SyncLogs: syncLogs,
	}, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// Shutdown gracefully closes application resources
func (a *App) Shutdown() error {
	loggy.Info("Application shutting down")
	if err := database.CloseDB(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// FromContext retrieves the App instance stored in the CLI context
func FromContext(c *cli.Context) (*App, error) {
	application, ok := c.App.Metadata["app"].(*App)
	if !ok || application == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return application, nil
}
