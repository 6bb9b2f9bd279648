package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/rentgw/internal/config"
	"github.com/vyrodovalexey/rentgw/internal/gateway"
	"github.com/vyrodovalexey/rentgw/internal/observability"
)

// defaultConfigFile is resolved against the working directory, configs/ and
// /etc/rentgw when no path is given.
const defaultConfigFile = "gateway.yaml"

// application holds all application components.
type application struct {
	config  *config.GatewayConfig
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	state   *gateway.State
	server  *gateway.Server
}

// run loads the configuration, serves until ctx is done and drains.
func run(ctx context.Context, flags cliFlags) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}

	app, err := initApplication(ctx, cfg, flags)
	if err != nil {
		return err
	}
	defer func() { _ = app.logger.Sync() }()

	return app.serve(ctx)
}

// loadConfig resolves and loads the configuration file.
func loadConfig(path string) (*config.GatewayConfig, error) {
	if path == "" {
		path = defaultConfigFile
	}

	resolved, err := config.ResolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// initLogger builds the logger. Flags override the configured level and
// format.
func initLogger(cfg *config.GatewayConfig, flags cliFlags) (observability.Logger, error) {
	logCfg := cfg.ToLogConfig()
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}

	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// initApplication initializes all application components.
func initApplication(ctx context.Context, cfg *config.GatewayConfig, flags cliFlags) (*application, error) {
	logger, err := initLogger(cfg, flags)
	if err != nil {
		return nil, err
	}

	logger.Info("starting rentgw",
		observability.String("version", version),
		observability.String("environment", cfg.Environment),
	)

	tracer, err := observability.NewTracer(cfg.ToTracerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)
	metrics.SetBuildInfo(version, gitCommit)

	state, err := gateway.NewState(ctx, cfg,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithVersion(version),
	)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	logger.Info("configuration loaded",
		observability.Int("routes", len(cfg.Routes)),
		observability.String("ratelimit_store", cfg.RateLimit.Store.Type),
		observability.Int64("ratelimit_max", cfg.RateLimit.Max),
		observability.Duration("ratelimit_window", cfg.RateLimit.Window.Duration()),
		observability.Bool("production_errors", cfg.ProductionErrors()),
	)

	return &application{
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		state:   state,
		server:  gateway.NewServer(state),
	}, nil
}

// serve starts the workers and the server, then waits for ctx or a server
// failure and drains.
func (app *application) serve(ctx context.Context) error {
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	app.state.Start(workerCtx)

	if err := app.server.Start(ctx); err != nil {
		app.shutdownComponents()
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		app.logger.Info("received shutdown signal")
	case <-app.server.Done():
		serveErr = app.server.Err()
	}

	stopErr := app.stop()
	cancelWorkers()
	app.shutdownComponents()

	app.logger.Info("rentgw stopped")
	return errors.Join(serveErr, stopErr)
}

// stop drains the server within the configured shutdown timeout.
func (app *application) stop() error {
	if app.server.Status() != gateway.StatusRunning {
		return nil
	}

	timeout := app.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.Error("failed to stop gateway gracefully", observability.Error(err))
		return err
	}
	return nil
}

// shutdownComponents releases the admission components and flushes traces.
func (app *application) shutdownComponents() {
	app.state.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.tracer.Shutdown(ctx); err != nil {
		app.logger.Error("failed to shutdown tracer", observability.Error(err))
	}
}
