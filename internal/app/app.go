// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/tildaslashalef/shopsync/internal/adapter"
	"github.com/tildaslashalef/shopsync/internal/config"
	"github.com/tildaslashalef/shopsync/internal/database"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/outbox"
	"github.com/tildaslashalef/shopsync/internal/queue"
	"github.com/tildaslashalef/shopsync/internal/records"
	"github.com/tildaslashalef/shopsync/internal/remote"
	"github.com/tildaslashalef/shopsync/internal/sync"
	"github.com/tildaslashalef/shopsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// ErrNoTenant is returned when no tenant was given on the command line or in the settings
var ErrNoTenant = errors.New("no tenant configured, use --tenant or 'shopsync config set sync.tenant_id <id>'")

// App represents the application instance with its dependencies
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Settings *config.SettingsService
	Remote   *remote.Client
	Engine   *sync.Engine
	Logs     *sync.SQLRepository

	store  *records.SQLRepository
	queue  *queue.SQLRepository
	logger *loggy.Logger
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
	)

	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	if _, err := database.Migrate(db); err != nil {
		return nil, err
	}

	app, err := initServices(context.Background(), cfg, db, loggy.GetGlobalLogger())
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(ctx context.Context, cfg *config.Config, db *sql.DB, logger *loggy.Logger) (*App, error) {
	settings := config.NewSettingsService(db, cfg, logger)
	if err := settings.LoadSyncSettings(ctx); err != nil {
		logger.Warn("Failed to load sync settings from database", "error", err)
	}

	if cfg.Server.DeviceName == "" {
		name := utils.DeviceName()
		if err := settings.SetDeviceName(ctx, name); err != nil {
			logger.Warn("Failed to save generated device name", "error", err)
		}
		cfg.Server.DeviceName = name
	}

	app := &App{
		Config:   cfg,
		DB:       db,
		Settings: settings,
		Remote:   remote.NewClient(cfg.Server, logger),
		Logs:     sync.NewSQLRepository(db, logger),
		store:    records.NewSQLRepository(db, "", logger),
		queue:    queue.NewSQLRepository(db, "", logger),
		logger:   logger,
	}

	app.Engine = sync.NewEngine(cfg.Sync, app.probe(), app.Bind, app.Logs, logger)
	return app, nil
}

func (app *App) probe() sync.Probe {
	if !app.Config.Server.Enabled {
		return sync.NewStaticProbe(app.Config.Sync.Standalone, false)
	}
	return sync.NewHTTPProbe(app.Remote, app.Config.Sync.ProbeInterval, app.Config.Sync.Standalone, app.logger)
}

// Bind scopes storage and the remote client to one tenant
func (app *App) Bind(ctx context.Context, tenantID, userID string) (*sync.Backend, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}

	client := app.Remote.WithScope(tenantID, userID)
	return &sync.Backend{
		Store:    app.store.ForTenant(tenantID),
		Queue:    app.queue.ForTenant(tenantID),
		Adapters: adapter.NewRESTRegistry(client, app.logger),
	}, nil
}

// Session resolves the tenant and user, preferring explicit values over the stored ones
func (app *App) Session(tenantID, userID string) (string, string, error) {
	if tenantID == "" {
		tenantID = app.Config.Session.TenantID
	}
	if userID == "" {
		userID = app.Config.Session.UserID
	}
	if tenantID == "" {
		return "", "", ErrNoTenant
	}
	return tenantID, userID, nil
}

// Store returns the record store of a tenant
func (app *App) Store(tenantID string) *records.SQLRepository {
	return app.store.ForTenant(tenantID)
}

// Queue returns the sync queue of a tenant
func (app *App) Queue(tenantID string) *queue.SQLRepository {
	return app.queue.ForTenant(tenantID)
}

// Writer returns the local mutation writer of a tenant
func (app *App) Writer(tenantID string) *outbox.Writer {
	return outbox.NewWriter(app.DB, app.Store(tenantID), app.Queue(tenantID), app.logger)
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if app.Engine != nil {
		app.Engine.Cleanup()
	}

	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return nil
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
