// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ternmaps/tern/internal/adapters/connectivity"
	"github.com/ternmaps/tern/internal/adapters/fetcher"
	"github.com/ternmaps/tern/internal/adapters/httpapi"
	"github.com/ternmaps/tern/internal/adapters/mbtiles"
	"github.com/ternmaps/tern/internal/adapters/metrics"
	"github.com/ternmaps/tern/internal/adapters/packagesource"
	"github.com/ternmaps/tern/internal/adapters/statestore"
	"github.com/ternmaps/tern/internal/adapters/tilecache"
	"github.com/ternmaps/tern/internal/adapters/watcher"
	"github.com/ternmaps/tern/internal/application"
	"github.com/ternmaps/tern/internal/config"
	"github.com/ternmaps/tern/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Catalog       *config.Catalog
	TileCache     *tilecache.Cache
	StateStore    *statestore.Store
	Source        output.PackageSource
	Packages      *mbtiles.Store
	Prober        *connectivity.Prober
	Fetcher       *fetcher.Fetcher
	Engine        *application.Engine
	Registry      *application.Registry
	HealthService *application.HealthService
	HTTPServer    *httpapi.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Metrics
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("tern")
		app.MetricsServer = metrics.NewServer(
			cfg.Metrics.Port,
			cfg.Metrics.Path,
			logger,
		)
	}

	var collector output.MetricsCollector
	if app.Metrics != nil {
		collector = app.Metrics
	} else {
		collector = &output.NoOpMetrics{}
	}

	// Layer catalog
	catalog, err := config.LoadCatalog(cfg.Source.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading layer catalog: %w", err)
	}
	app.Catalog = catalog

	// Stores
	cache, err := tilecache.New(cfg.Cache.TilePath)
	if err != nil {
		return nil, fmt.Errorf("opening tile cache: %w", err)
	}
	app.TileCache = cache

	state, err := statestore.New(cfg.Cache.StatePath)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	app.StateStore = state

	// Package source and the read-only package store on top of it
	source, err := initSource(ctx, cfg.Packages)
	if err != nil {
		return nil, fmt.Errorf("initializing package source: %w", err)
	}
	app.Source = source
	app.Packages = mbtiles.New(source, collector, logger)

	// Connectivity prober against the tile source host
	app.Prober = connectivity.New(cfg.Source.BaseURL, cfg.Source.ProbeTTL, logger)

	// Tile fetcher with relay fallback
	app.Fetcher = fetcher.New(
		fetcher.Config{
			Relays:          cfg.Source.Relays,
			DirectTimeout:   cfg.Source.DirectTimeout,
			FallbackTimeout: cfg.Source.FallbackTimeout,
		},
		app.TileCache,
		collector,
		logger,
	)

	// Bulk download engine and its task registry
	app.Engine = application.NewEngine(
		catalog,
		app.Fetcher,
		app.TileCache,
		app.StateStore,
		app.Prober,
		collector,
		logger,
		cfg.Source.BaseURL,
		cfg.Download,
	)
	app.Registry = application.NewRegistry(
		app.Engine,
		app.StateStore,
		app.Prober,
		collector,
		logger,
		cfg.Logging.Language,
	)

	// Health service
	app.HealthService = application.NewHealthService(app.TileCache, app.StateStore)

	// HTTP server
	app.HTTPServer = httpapi.NewServer(
		cfg.Server,
		app.Packages,
		app.Registry,
		app.Source,
		app.HealthService,
		logger,
	)

	// File watcher for package hot-reload
	if cfg.Packages.Type == "local" && cfg.Packages.Watch {
		w, err := watcher.New(cfg.Packages.LocalPath, 0, app.handlePackageEvent, logger)
		if err != nil {
			logger.Warn("failed to initialize package watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start starts all application components and blocks serving HTTP.
func (a *App) Start(ctx context.Context) error {
	a.Prober.Start(ctx)

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start package watcher", "error", err)
		}
	}

	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	a.Registry.Stop()
	a.Prober.Stop()

	if a.MetricsServer != nil {
		if err := a.MetricsServer.Stop(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := a.Packages.CloseAll(); err != nil {
		a.Logger.Error("failed to close packages", "error", err)
	}
	if err := a.TileCache.Close(); err != nil {
		a.Logger.Error("failed to close tile cache", "error", err)
	}
	if err := a.StateStore.Close(); err != nil {
		a.Logger.Error("failed to close state store", "error", err)
	}

	return nil
}

// handlePackageEvent reacts to package files appearing or disappearing.
// Closing the handle is enough either way: the next tile read reopens the
// file, or fails with package-not-found once it is gone.
func (a *App) handlePackageEvent(_ context.Context, event watcher.Event) error {
	fileID := packagesource.DeriveFileID(event.Path)
	a.Logger.Info("package event",
		"file", fileID,
		"operation", event.Operation.String(),
	)

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify, watcher.OpDelete:
		if err := a.Packages.Close(fileID); err != nil {
			a.Logger.Warn("failed to close package handle", "file", fileID, "error", err)
		}
	}

	return nil
}

// initSource initializes the configured package source backend.
func initSource(ctx context.Context, cfg config.PackagesConfig) (output.PackageSource, error) {
	switch cfg.Type {
	case "local":
		return packagesource.NewLocal(cfg.LocalPath), nil

	case "http":
		return packagesource.NewHTTP(packagesource.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
			CacheDir:  cfg.LocalPath,
		}), nil

	case "s3":
		return packagesource.NewS3(ctx, packagesource.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			CacheDir:        cfg.LocalPath,
		})

	default:
		return nil, fmt.Errorf("unknown package source type: %s", cfg.Type)
	}
}
