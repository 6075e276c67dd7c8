// cmd/server/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"comlink-service/internal/config"
	"comlink-service/internal/database"
	"comlink-service/internal/handler"
	"comlink-service/internal/repository"
	"comlink-service/internal/routes"
	"comlink-service/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Run the connection manager behind the HTTP API and WebSocket event stream.

Event history is kept in PostgreSQL when database.enabled is set and in memory
otherwise. With autoconnect.on_start the auto-connect cycle starts right away.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := NewApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		return err
	}
	return app.Start()
}

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	stack    *linkStack
	events   repository.EventRepository
	bus      *handler.EventBus
	bridge   *handler.LinkEventHandler
	recorder *handler.EventRecorder
	ws       *handler.WebSocketHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, logger, err := loadConfig(false)
	if err != nil {
		return nil, err
	}

	serviceLogger := utils.NewServiceLogger(logger, "comlink-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}
	app.ctx, app.cancel = context.WithCancel(context.Background())

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initializeRepositories()

	if err := app.initializeLink(); err != nil {
		return nil, fmt.Errorf("failed to initialize link: %w", err)
	}

	app.initializeServer()

	return app, nil
}

// initializeDatabase connects to PostgreSQL and runs migrations when enabled
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, event history kept in memory",
			zap.Int("history_size", app.config.Events.HistorySize),
		)
		return nil
	}

	db, err := database.NewConnection(app.config, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	if app.config.Database.AutoMigrate {
		if err := database.NewMigrator(db, app.logger).Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates the event history store
func (app *Application) initializeRepositories() {
	if app.database != nil {
		app.events = repository.NewEventRepository(app.database, app.logger)
	} else {
		app.events = repository.NewMemoryEventRepository(app.config.Events.HistorySize)
	}
}

// initializeLink builds the connection manager and its event pipeline
func (app *Application) initializeLink() error {
	stack, err := newLinkStack(app.config, app.logger)
	if err != nil {
		return err
	}
	app.stack = stack

	app.bus = handler.NewEventBus(app.config.Events.BufferSize, app.logger)
	app.bridge = handler.NewLinkEventHandler(app.bus, app.logger)
	app.bridge.Attach(stack.manager, stack.monitor)
	app.recorder = handler.NewEventRecorder(app.events, app.logger)

	app.logger.Info("Link initialized",
		zap.String("identifier", app.config.Identifier.Strategy),
		zap.Stringer("mode", stack.mode),
		zap.Duration("monitor_interval", stack.monitor.Interval()),
	)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.ws = handler.NewWebSocketHandler(app.stack.link, app.bus, app.config.Security.AllowedOrigins, app.logger)

	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		handler.NewHealthHandler(app.database, app.stack.link, app.config, app.logger),
		handler.NewLinkHandler(app.stack.link, app.events, app.logger),
		app.ws,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.server.Addr))
}

// startBackgroundServices starts the loop, monitor and event consumers
func (app *Application) startBackgroundServices() error {
	go app.bus.Run(app.ctx)
	go app.recorder.Run(app.ctx, app.bus)
	go app.ws.Run(app.ctx)

	if err := app.stack.start(app.ctx, app.logger); err != nil {
		return fmt.Errorf("failed to apply serial mode: %w", err)
	}

	if app.config.Events.Retention > 0 {
		go app.startCleanupService()
	}

	if app.config.AutoConnect.OnStart {
		if err := app.stack.autoConnect(app.ctx, app.config); err != nil {
			app.logger.Error("Auto-connect on start failed", zap.Error(err))
		}
	}

	app.logger.Info("Background services started")
	return nil
}

// startCleanupService prunes event history older than the retention
func (app *Application) startCleanupService() {
	defer utils.LogPanic(app.logger)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started", zap.Duration("retention", app.config.Events.Retention))

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(app.ctx, 5*time.Minute)
		deleted, err := app.events.DeleteOlderThan(ctx, time.Now().Add(-app.config.Events.Retention))
		cancel()

		if err != nil {
			utils.LogError(app.logger, "Failed to cleanup old events", err)
		} else if deleted > 0 {
			app.logger.Info("Cleaned up old events", zap.Int64("deleted", deleted))
		}
	}
}

// Start runs the server until SIGINT or SIGTERM
func (app *Application) Start() error {
	if err := app.startBackgroundServices(); err != nil {
		app.shutdown()
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var err error
	select {
	case sig := <-quit:
		app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err = <-serverErr:
		app.logger.Error("HTTP server failed", zap.Error(err))
	}

	app.shutdown()
	return err
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "comlink-service")
	serviceLogger.LogServiceStop("shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Close runs on the loop and must precede app.cancel
	if err := app.stack.link.Close(ctx); err != nil {
		app.logger.Error("Connection manager close error", zap.Error(err))
	}
	app.bridge.Detach()
	app.cancel()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}
