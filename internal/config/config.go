// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Source   SourceConfig   `mapstructure:"source"`
	Download DownloadConfig `mapstructure:"download"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Packages PackagesConfig `mapstructure:"packages"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// SourceConfig holds the remote tile source and its fallback relays.
type SourceConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	SRS             string        `mapstructure:"srs"`
	Relays          []string      `mapstructure:"relays"` // templates with one %s for the encoded target URL
	DirectTimeout   time.Duration `mapstructure:"direct_timeout"`
	FallbackTimeout time.Duration `mapstructure:"fallback_timeout"`
	CatalogPath     string        `mapstructure:"catalog_path"`
	ProbeTTL        time.Duration `mapstructure:"probe_ttl"`
}

// DownloadConfig holds bulk-download tuning.
type DownloadConfig struct {
	Concurrency            int           `mapstructure:"concurrency"`
	ConstrainedConcurrency int           `mapstructure:"constrained_concurrency"`
	Constrained            bool          `mapstructure:"constrained"`
	ProbeBatchSize         int           `mapstructure:"probe_batch_size"`
	ProgressInterval       time.Duration `mapstructure:"progress_interval"`
	CheckpointInterval     time.Duration `mapstructure:"checkpoint_interval"`
	RetryThreshold         float64       `mapstructure:"retry_threshold"`
	SuccessThreshold       float64       `mapstructure:"success_threshold"`
}

// EffectiveConcurrency returns the per-batch parallelism for the host:
// the constrained value on constrained devices, the full value otherwise.
func (d *DownloadConfig) EffectiveConcurrency() int {
	if d.Constrained {
		return d.ConstrainedConcurrency
	}
	return d.Concurrency
}

// CacheConfig holds tile cache and state store paths.
type CacheConfig struct {
	TilePath  string `mapstructure:"tile_path"`
	StatePath string `mapstructure:"state_path"`
}

// PackagesConfig holds packaged tile database configuration.
type PackagesConfig struct {
	Type      string     `mapstructure:"type"` // local, http, s3
	LocalPath string     `mapstructure:"local_path"`
	Watch     bool       `mapstructure:"watch"`
	HTTP      HTTPConfig `mapstructure:"http"`
	S3        S3Config   `mapstructure:"s3"`
}

// HTTPConfig holds HTTP package source configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.json
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// S3Config holds S3 package source configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // json, text
	Language string `mapstructure:"language"`
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8420)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Source defaults
	viper.SetDefault("source.srs", "EPSG:4326")
	viper.SetDefault("source.direct_timeout", 8*time.Second)
	viper.SetDefault("source.fallback_timeout", 20*time.Second)
	viper.SetDefault("source.catalog_path", "./layers.yaml")
	viper.SetDefault("source.probe_ttl", 10*time.Second)

	// Download defaults
	viper.SetDefault("download.concurrency", 12)
	viper.SetDefault("download.constrained_concurrency", 4)
	viper.SetDefault("download.constrained", false)
	viper.SetDefault("download.probe_batch_size", 50)
	viper.SetDefault("download.progress_interval", 500*time.Millisecond)
	viper.SetDefault("download.checkpoint_interval", 10*time.Second)
	viper.SetDefault("download.retry_threshold", 0.30)
	viper.SetDefault("download.success_threshold", 0.90)

	// Cache defaults
	viper.SetDefault("cache.tile_path", "./data/tiles.db")
	viper.SetDefault("cache.state_path", "./data/state.db")

	// Packages defaults
	viper.SetDefault("packages.type", "local")
	viper.SetDefault("packages.local_path", "./data/packages")
	viper.SetDefault("packages.watch", true)
	viper.SetDefault("packages.http.index_file", "index.json")
	viper.SetDefault("packages.http.timeout", 5*time.Minute)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9420)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.language", "en")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("TERN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/tern")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Source.BaseURL == "" {
		return fmt.Errorf("source base URL is required")
	}

	if c.Download.Concurrency < 1 || c.Download.ConstrainedConcurrency < 1 {
		return fmt.Errorf("download concurrency must be at least 1")
	}
	if c.Download.SuccessThreshold <= 0 || c.Download.SuccessThreshold > 1 {
		return fmt.Errorf("invalid success threshold: %f", c.Download.SuccessThreshold)
	}
	if c.Download.RetryThreshold < 0 || c.Download.RetryThreshold > 1 {
		return fmt.Errorf("invalid retry threshold: %f", c.Download.RetryThreshold)
	}

	switch c.Packages.Type {
	case "local":
		if c.Packages.LocalPath == "" {
			return fmt.Errorf("local packages path is required")
		}
	case "http":
		if c.Packages.HTTP.BaseURL == "" {
			return fmt.Errorf("HTTP package base URL is required")
		}
	case "s3":
		if c.Packages.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.Packages.S3.Region == "" {
			return fmt.Errorf("S3 region is required")
		}
	default:
		return fmt.Errorf("unknown package source type: %s", c.Packages.Type)
	}

	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
