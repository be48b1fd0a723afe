// Package main provides the entry point for the Tern tile service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ternmaps/tern/internal/app"
	"github.com/ternmaps/tern/internal/config"
	"github.com/ternmaps/tern/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tern",
	Short: "Tern - offline map tile service",
	Long: `Tern keeps map tiles available offline.

It serves tiles from packaged MBTiles databases, fetches missing tiles
from a remote WMS source with relay fallback, and downloads whole layers
for offline use with resumable, checkpointed bulk downloads.

Features:
  - Tile serving from MBTiles packages (local, HTTP, S3 backends)
  - Remote fetch with relay fallback and racing
  - Resumable bulk downloads with progress streaming (SSE)
  - Connectivity-aware download control
  - Hot-reload of package files
  - Prometheus metrics`,
	RunE: runServer,
}

var downloadCmd = &cobra.Command{
	Use:   "download <layer-id>",
	Short: "Run one bulk layer download and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Tern %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	// Server flags
	rootCmd.Flags().String("host", "127.0.0.1", "server host")
	rootCmd.Flags().Int("port", 8420, "server port")

	// Source flags
	rootCmd.Flags().String("source-url", "", "remote tile source base URL")
	rootCmd.Flags().String("catalog", "./layers.yaml", "layer catalog file")

	// Download flags
	rootCmd.Flags().Bool("constrained", false, "reduce download concurrency for constrained devices")

	// Packages flags
	rootCmd.Flags().String("packages-type", "local", "package source type (local, http, s3)")
	rootCmd.Flags().String("packages-path", "./data/packages", "local packages path")

	// CORS flags
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("source.base_url", rootCmd.Flags().Lookup("source-url"))
	_ = viper.BindPFlag("source.catalog_path", rootCmd.Flags().Lookup("catalog"))
	_ = viper.BindPFlag("download.constrained", rootCmd.Flags().Lookup("constrained"))
	_ = viper.BindPFlag("packages.type", rootCmd.Flags().Lookup("packages-type"))
	_ = viper.BindPFlag("packages.local_path", rootCmd.Flags().Lookup("packages-path"))
	_ = viper.BindPFlag("server.cors.allowed_origins", rootCmd.Flags().Lookup("cors"))

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting Tern",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"packages_type", cfg.Packages.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func runDownload(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = application.Shutdown(shutdownCtx)
	}()

	layerID := args[0]
	ok := application.Engine.Download(ctx, layerID, func(percent float64, stats domain.DownloadStats) {
		logger.Info("progress",
			"layer", layerID,
			"percent", fmt.Sprintf("%.1f", percent),
			"downloaded", stats.DownloadedTiles,
			"failed", stats.FailedTiles,
			"total", stats.TotalTiles,
		)
	})
	if !ok {
		return fmt.Errorf("download of layer %s did not complete", layerID)
	}

	logger.Info("download complete", "layer", layerID)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
