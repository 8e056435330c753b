package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000" yaml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
}

// StorageConfig holds storage engine configuration.
type StorageConfig struct {
	Root                string        `envconfig:"STORAGE_ROOT" default:"/srv/homedrive" yaml:"root"`
	TrashRetention      time.Duration `envconfig:"TRASH_RETENTION" default:"720h" yaml:"trash_retention"`
	LockTimeout         time.Duration `envconfig:"LOCK_TIMEOUT" default:"5s" yaml:"lock_timeout"`
	ZipMaxBytes         int64         `envconfig:"ZIP_MAX_BYTES" default:"2147483648" yaml:"zip_max_bytes"`
	ThumbnailCacheBytes int64         `envconfig:"THUMBNAIL_CACHE_BYTES" default:"33554432" yaml:"thumbnail_cache_bytes"`
	DiskUsageTTL        time.Duration `envconfig:"DISK_USAGE_TTL" default:"10s" yaml:"disk_usage_ttl"`
	FavoritesFile       string        `envconfig:"FAVORITES_FILE" default:"" yaml:"favorites_file"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from environment variables, then overlays the
// YAML file at path if it exists.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			Root:                "/srv/homedrive",
			TrashRetention:      720 * time.Hour,
			LockTimeout:         5 * time.Second,
			ZipMaxBytes:         2 << 30,
			ThumbnailCacheBytes: 32 << 20,
			DiskUsageTTL:        10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
