// Package config provides configuration management for the trade backfill.
// Configuration is assembled from defaults, an optional JSON or YAML file and
// environment variables, then validated as a whole.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName    string `json:"app_name" yaml:"app_name" env:"APP_NAME"`
	Version    string `json:"version" yaml:"version" env:"VERSION"`
	ConfigPath string `json:"-" yaml:"-" env:"CONFIG_PATH"`

	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Exchange  ExchangeConfig  `json:"exchange" yaml:"exchange"`
	Collector CollectorConfig `json:"collector" yaml:"collector"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Export    ExportConfig    `json:"export" yaml:"export"`
	API       APIConfig       `json:"api" yaml:"api"`
}

// StorageConfig configures the trade store backend
type StorageConfig struct {
	Type         string `json:"type" yaml:"type" env:"STORAGE_TYPE"`                    // "memory", "csv", "duckdb", "sqlite"
	Path         string `json:"path" yaml:"path" env:"STORAGE_PATH"`                    // Directory for csv, database file otherwise
	QueryTimeout string `json:"query_timeout" yaml:"query_timeout" env:"QUERY_TIMEOUT"` // Per-query timeout
}

// ExchangeConfig configures the Kraken REST adapter
type ExchangeConfig struct {
	BaseURL       string            `json:"base_url" yaml:"base_url" env:"KRAKEN_BASE_URL"`
	Timeout       string            `json:"timeout" yaml:"timeout" env:"HTTP_TIMEOUT"`
	RateLimit     float64           `json:"rate_limit" yaml:"rate_limit" env:"RATE_LIMIT"` // Requests per second
	PageLimit     int               `json:"page_limit" yaml:"page_limit" env:"PAGE_LIMIT"` // Trades per full page
	CursorEpsilon float64           `json:"cursor_epsilon" yaml:"cursor_epsilon" env:"CURSOR_EPSILON"`
	PairMarker    string            `json:"pair_marker" yaml:"pair_marker" env:"PAIR_MARKER"` // Pairs containing this are skipped
	RetryPolicy   RetryPolicyConfig `json:"retry_policy" yaml:"retry_policy"`
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts int    `json:"max_attempts" yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	BaseDelay   string `json:"base_delay" yaml:"base_delay" env:"RETRY_BASE_DELAY"` // Delay grows by this much per attempt
	MaxDelay    string `json:"max_delay" yaml:"max_delay" env:"RETRY_MAX_DELAY"`    // Empty or "0" for no cap
}

// CollectorConfig configures the download loop
type CollectorConfig struct {
	WorkerCount  int      `json:"worker_count" yaml:"worker_count" env:"WORKER_COUNT"` // Concurrent pair downloads
	DefaultPairs []string `json:"default_pairs" yaml:"default_pairs" env:"DEFAULT_PAIRS"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`    // debug, info, warn, error
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"` // json, text
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"` // stdout, stderr, file
	FilePath   string `json:"file_path" yaml:"file_path" env:"LOG_FILE_PATH"`
	MaxSize    int    `json:"max_size" yaml:"max_size" env:"LOG_MAX_SIZE"` // MB
	MaxBackups int    `json:"max_backups" yaml:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAge     int    `json:"max_age" yaml:"max_age" env:"LOG_MAX_AGE"` // days
	Compress   bool   `json:"compress" yaml:"compress" env:"LOG_COMPRESS"`
}

// ExportConfig configures Parquet exports
type ExportConfig struct {
	Dir         string   `json:"dir" yaml:"dir" env:"EXPORT_DIR"`
	Compression string   `json:"compression" yaml:"compression" env:"EXPORT_COMPRESSION"` // snappy, gzip, none
	S3          S3Config `json:"s3" yaml:"s3"`
}

// S3Config configures the S3 export sink
type S3Config struct {
	Enabled         bool   `json:"enabled" yaml:"enabled" env:"S3_ENABLED"`
	Bucket          string `json:"bucket" yaml:"bucket" env:"S3_BUCKET"`
	Region          string `json:"region" yaml:"region" env:"S3_REGION"`
	Endpoint        string `json:"endpoint" yaml:"endpoint" env:"S3_ENDPOINT"`
	PathStyle       bool   `json:"path_style" yaml:"path_style" env:"S3_PATH_STYLE"`
	Prefix          string `json:"prefix" yaml:"prefix" env:"S3_PREFIX"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
}

// APIConfig configures the HTTP API
type APIConfig struct {
	Addr            string `json:"addr" yaml:"addr" env:"API_ADDR"`
	ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"API_SHUTDOWN_TIMEOUT"`
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		logger:     logger,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		config.ConfigPath = cm.configPath
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Debug("configuration loaded",
		"config_path", cm.configPath,
		"storage_type", config.Storage.Type,
		"storage_path", config.Storage.Path,
		"base_url", config.Exchange.BaseURL,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file, chosen by extension
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv loads configuration from environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	var errs []string

	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if val := os.Getenv(key); val != "" {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = f
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			*dst = val == "true" || val == "1"
		}
	}

	setString("APP_NAME", &config.AppName)
	setString("VERSION", &config.Version)

	setString("STORAGE_TYPE", &config.Storage.Type)
	setString("STORAGE_PATH", &config.Storage.Path)
	setString("QUERY_TIMEOUT", &config.Storage.QueryTimeout)

	setString("KRAKEN_BASE_URL", &config.Exchange.BaseURL)
	setString("HTTP_TIMEOUT", &config.Exchange.Timeout)
	setFloat("RATE_LIMIT", &config.Exchange.RateLimit)
	setInt("PAGE_LIMIT", &config.Exchange.PageLimit)
	setFloat("CURSOR_EPSILON", &config.Exchange.CursorEpsilon)
	setString("PAIR_MARKER", &config.Exchange.PairMarker)
	setInt("RETRY_MAX_ATTEMPTS", &config.Exchange.RetryPolicy.MaxAttempts)
	setString("RETRY_BASE_DELAY", &config.Exchange.RetryPolicy.BaseDelay)
	setString("RETRY_MAX_DELAY", &config.Exchange.RetryPolicy.MaxDelay)

	setInt("WORKER_COUNT", &config.Collector.WorkerCount)
	if val := os.Getenv("DEFAULT_PAIRS"); val != "" {
		config.Collector.DefaultPairs = splitList(val)
	}

	setString("LOG_LEVEL", &config.Logging.Level)
	setString("LOG_FORMAT", &config.Logging.Format)
	setString("LOG_OUTPUT", &config.Logging.Output)
	setString("LOG_FILE_PATH", &config.Logging.FilePath)

	setString("EXPORT_DIR", &config.Export.Dir)
	setString("EXPORT_COMPRESSION", &config.Export.Compression)
	setBool("S3_ENABLED", &config.Export.S3.Enabled)
	setString("S3_BUCKET", &config.Export.S3.Bucket)
	setString("S3_REGION", &config.Export.S3.Region)
	setString("S3_ENDPOINT", &config.Export.S3.Endpoint)
	setBool("S3_PATH_STYLE", &config.Export.S3.PathStyle)
	setString("S3_PREFIX", &config.Export.S3.Prefix)
	setString("AWS_ACCESS_KEY_ID", &config.Export.S3.AccessKeyID)
	setString("AWS_SECRET_ACCESS_KEY", &config.Export.S3.SecretAccessKey)

	setString("API_ADDR", &config.API.Addr)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values:\n- %s", strings.Join(errs, "\n- "))
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	validStorage := map[string]bool{"memory": true, "csv": true, "duckdb": true, "sqlite": true}
	if !validStorage[config.Storage.Type] {
		errors = append(errors, "storage.type must be one of: memory, csv, duckdb, sqlite")
	}
	if config.Storage.Type != "memory" && config.Storage.Path == "" {
		errors = append(errors, fmt.Sprintf("storage.path is required for %s storage", config.Storage.Type))
	}
	if _, err := parseDuration(config.Storage.QueryTimeout); err != nil {
		errors = append(errors, fmt.Sprintf("storage.query_timeout is not a valid duration: %v", err))
	}

	if config.Exchange.BaseURL == "" {
		errors = append(errors, "exchange.base_url is required")
	}
	if d, err := parseDuration(config.Exchange.Timeout); err != nil || d <= 0 {
		errors = append(errors, "exchange.timeout must be a positive duration")
	}
	if config.Exchange.RateLimit <= 0 {
		errors = append(errors, "exchange.rate_limit must be greater than 0")
	}
	if config.Exchange.PageLimit <= 0 {
		errors = append(errors, "exchange.page_limit must be greater than 0")
	}
	if config.Exchange.CursorEpsilon <= 0 {
		errors = append(errors, "exchange.cursor_epsilon must be greater than 0")
	}
	if config.Exchange.RetryPolicy.MaxAttempts <= 0 {
		errors = append(errors, "exchange.retry_policy.max_attempts must be greater than 0")
	}
	if _, err := parseDuration(config.Exchange.RetryPolicy.BaseDelay); err != nil {
		errors = append(errors, fmt.Sprintf("exchange.retry_policy.base_delay is not a valid duration: %v", err))
	}
	if _, err := parseDuration(config.Exchange.RetryPolicy.MaxDelay); err != nil {
		errors = append(errors, fmt.Sprintf("exchange.retry_policy.max_delay is not a valid duration: %v", err))
	}

	if config.Collector.WorkerCount <= 0 {
		errors = append(errors, "collector.worker_count must be greater than 0")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	validLogOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validLogOutputs[config.Logging.Output] {
		errors = append(errors, "logging.output must be one of: stdout, stderr, file")
	}
	if config.Logging.Output == "file" && config.Logging.FilePath == "" {
		errors = append(errors, "logging.file_path is required when logging.output is file")
	}

	validCompression := map[string]bool{"snappy": true, "gzip": true, "none": true}
	if !validCompression[config.Export.Compression] {
		errors = append(errors, "export.compression must be one of: snappy, gzip, none")
	}
	if config.Export.S3.Enabled {
		if config.Export.S3.Bucket == "" {
			errors = append(errors, "export.s3.bucket is required when S3 export is enabled")
		}
		if config.Export.S3.Region == "" {
			errors = append(errors, "export.s3.region is required when S3 export is enabled")
		}
	}

	if config.API.Addr == "" {
		errors = append(errors, "api.addr is required")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "trade-backfill",
		Version: "1.0.0",
		Storage: StorageConfig{
			Type:         "csv",
			Path:         "./data",
			QueryTimeout: "30s",
		},
		Exchange: ExchangeConfig{
			BaseURL:       "https://api.kraken.com",
			Timeout:       "30s",
			RateLimit:     1,
			PageLimit:     1000,
			CursorEpsilon: 1e-5,
			PairMarker:    ".d",
			RetryPolicy: RetryPolicyConfig{
				MaxAttempts: 100,
				BaseDelay:   "3s",
				MaxDelay:    "",
			},
		},
		Collector: CollectorConfig{
			WorkerCount:  4,
			DefaultPairs: []string{"XBTUSD", "ETHUSD"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
		Export: ExportConfig{
			Dir:         "./export",
			Compression: "snappy",
			S3: S3Config{
				Region: "us-east-1",
				Prefix: "trades",
			},
		},
		API: APIConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
	}
}

// QueryTimeoutDuration returns the parsed storage query timeout.
func (c StorageConfig) QueryTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.QueryTimeout)
	return d
}

// TimeoutDuration returns the parsed HTTP timeout.
func (c ExchangeConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(c.Timeout)
	return d
}

// Delays returns the parsed base and max retry delays.
func (c RetryPolicyConfig) Delays() (base, max time.Duration) {
	base, _ = parseDuration(c.BaseDelay)
	max, _ = parseDuration(c.MaxDelay)
	return base, max
}

// ShutdownTimeoutDuration returns the parsed API shutdown timeout.
func (c APIConfig) ShutdownTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.ShutdownTimeout)
	return d
}

// String returns a string representation of the configuration (excluding sensitive data)
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.Export.S3.AccessKeyID != "" {
		sanitized.Export.S3.AccessKeyID = "[REDACTED]"
	}
	if sanitized.Export.S3.SecretAccessKey != "" {
		sanitized.Export.S3.SecretAccessKey = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
