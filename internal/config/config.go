// Package config provides centralized configuration management for the validator.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Fetch      FetchConfig
	Validation ValidationConfig
	Catalog    CatalogConfig
	Cache      CacheConfig
	S3         S3Config
	Report     ReportConfig
	Logging    LoggingConfig
}

// FetchConfig bounds every remote retrieval (schemas, data sources).
type FetchConfig struct {
	// MaxBytes is the largest payload accepted from a remote source (default: 100MB)
	MaxBytes int64 `env:"FETCH_MAX_BYTES" default:"100MB" unit:"bytes"`

	// Timeout bounds a single fetch including body transfer (default: 30s)
	Timeout time.Duration `env:"FETCH_TIMEOUT" default:"30s"`

	// UserAgent is sent with HTTP requests
	UserAgent string `env:"FETCH_USER_AGENT" default:"validata"`

	// SniffBytes is how much of a data source is inspected for dialect detection (default: 64KiB)
	SniffBytes int `env:"SNIFF_BYTES" default:"64KB" unit:"bytes"`
}

// ValidationConfig holds engine and run settings.
type ValidationConfig struct {
	// MaxRows stops a run after this many data rows; 0 disables the cap (default: 100000)
	MaxRows int `env:"VALIDATA_MAX_ROWS" default:"100000"`

	// StrictHeaderOrder turns header order deviations into errors (default: false)
	StrictHeaderOrder bool `env:"STRICT_HEADER_ORDER" default:"false"`

	// IgnoreHeaderCase matches header names case-insensitively (default: false)
	IgnoreHeaderCase bool `env:"IGNORE_HEADER_CASE" default:"false"`

	// MaxConcurrent is the maximum number of parallel validation runs (default: 5)
	MaxConcurrent int `env:"VALIDATION_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"VALIDATION_MAX_WAIT_TIME" default:"30s"`
}

// CatalogConfig locates the schema catalog.
type CatalogConfig struct {
	// File is a YAML catalog of named schemas (optional)
	File string `env:"CATALOG_FILE" envAlt:"CONFIG_FILE"`

	// Watch reloads the catalog when the file changes (default: false)
	Watch bool `env:"CATALOG_WATCH" default:"false"`
}

// CacheConfig controls caching of fetched schema documents.
type CacheConfig struct {
	// Backend is one of: none, memory, redis, sqlite (default: none)
	Backend string `env:"CACHE_BACKEND" default:"none"`

	// TTL is how long a cached schema stays fresh (default: 1h)
	TTL time.Duration `env:"CACHE_TTL" default:"1h"`

	// RedisURL is the redis connection URL for the redis backend
	RedisURL string `env:"REDIS_URL" default:"redis://localhost:6379/0"`

	// SQLitePath is the database file for the sqlite backend
	SQLitePath string `env:"CACHE_SQLITE_PATH" default:"validata-cache.db"`
}

// S3Config enables s3:// data locators when Endpoint is set.
type S3Config struct {
	Endpoint        string `env:"S3_ENDPOINT"`
	AccessKeyID     string `env:"S3_ACCESS_KEY_ID" envAlt:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY" envAlt:"AWS_SECRET_ACCESS_KEY"`
	Region          string `env:"S3_REGION" default:"us-east-1"`
	UseSSL          bool   `env:"S3_USE_SSL" default:"true"`
}

// ReportConfig holds optional report enrichments.
type ReportConfig struct {
	// BadgeConfig is a YAML file with badge weights; empty disables badges
	BadgeConfig string `env:"BADGE_CONFIG"`

	// MetricsFile receives a Prometheus textfile dump after each CLI run
	MetricsFile string `env:"METRICS_FILE"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Enabled reports whether s3:// locators can be served.
func (c *S3Config) Enabled() bool {
	return c.Endpoint != ""
}
