// Package config loads and validates the gokb service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	defaultServiceName = "gokb"
	defaultVersion     = "0.1.0"
	defaultServicePort = 8095

	defaultDBHost    = "localhost"
	defaultDBPort    = 5432
	defaultDBUser    = "postgres"
	defaultDBName    = "gokb"
	defaultDBSSLMode = "disable"

	defaultRedisAddr = "localhost:6379"

	defaultAnthropicModel     = "claude-3-7-sonnet-20250219"
	defaultAnthropicMaxTokens = 1024

	defaultDispatchInterval   = 10 * time.Second
	defaultRecoveryInterval   = 5 * time.Minute
	defaultStuckExtractedAge  = 15 * time.Minute
	defaultWorkerInterval     = 5 * time.Second
	defaultWorkerBatchSize    = 5
	defaultHandlerTimeout     = 60 * time.Second
	defaultMirrorPollInterval = 5 * time.Second
	defaultMirrorBatchSize    = 100
	defaultMirrorPubTimeout   = 10 * time.Second

	defaultUploadDir     = "uploads"
	defaultUploadMaxSize = 100 << 20 // 100MB
)

// Config holds the application configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Worker    WorkerConfig    `yaml:"worker"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Upload    UploadConfig    `yaml:"upload"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `env:"GOKB_PORT" yaml:"port"`
	Debug   bool   `env:"APP_DEBUG" yaml:"debug"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string `env:"POSTGRES_HOST"     yaml:"host"`
	Port     int    `env:"POSTGRES_PORT"     yaml:"port"`
	User     string `env:"POSTGRES_USER"     yaml:"user"`
	Password string `env:"POSTGRES_PASSWORD" yaml:"password"`
	Database string `env:"POSTGRES_DB"       yaml:"database"`
	SSLMode  string `env:"POSTGRES_SSLMODE"  yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// URL returns the PostgreSQL URL form used by golang-migrate.
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// RedisConfig holds the mirror transport configuration.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"     yaml:"addr"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `yaml:"db"`
}

// AnthropicConfig holds the AI provider configuration.
type AnthropicConfig struct {
	APIKey    string `env:"ANTHROPIC_API_KEY" yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// DispatchConfig holds dispatcher loop configuration.
type DispatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	// EnforceMaxAttempts makes attempts >= max_attempts a hard ceiling:
	// exhausted queued jobs are marked failed and never claimed again.
	// When false, external retries can re-enqueue a job indefinitely.
	EnforceMaxAttempts *bool         `yaml:"enforce_max_attempts"`
	RecoveryInterval   time.Duration `yaml:"recovery_interval"`
	StuckExtractedAge  time.Duration `yaml:"stuck_extracted_after"`
}

// WorkerConfig holds processor loop configuration.
type WorkerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	BatchSize      int           `yaml:"batch_size"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// MirrorConfig holds mirror publisher configuration.
type MirrorConfig struct {
	Enabled        bool          `env:"MIRROR_ENABLED" yaml:"enabled"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	BatchSize      int           `yaml:"batch_size"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// UploadConfig holds file upload configuration.
type UploadConfig struct {
	Dir          string `env:"UPLOAD_DIR" yaml:"dir"`
	MaxSizeBytes int64  `yaml:"max_size_bytes"`
}

// Load reads the config file at path, applies defaults, and overrides with
// environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file: env vars and defaults only.
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port must be in (0, 65535], got %d", c.Service.Port)
	}
	if c.Dispatch.Interval <= 0 {
		return fmt.Errorf("dispatch.interval must be positive, got %v", c.Dispatch.Interval)
	}
	if c.Worker.Interval <= 0 {
		return fmt.Errorf("worker.interval must be positive, got %v", c.Worker.Interval)
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be positive, got %d", c.Worker.BatchSize)
	}
	if c.Mirror.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when mirror.enabled is true")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.Version == "" {
		cfg.Service.Version = defaultVersion
	}
	if cfg.Service.Port == 0 {
		cfg.Service.Port = defaultServicePort
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = defaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultDBPort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = defaultDBUser
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = defaultDBName
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = defaultDBSSLMode
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaultRedisAddr
	}

	if cfg.Anthropic.Model == "" {
		cfg.Anthropic.Model = defaultAnthropicModel
	}
	if cfg.Anthropic.MaxTokens == 0 {
		cfg.Anthropic.MaxTokens = defaultAnthropicMaxTokens
	}

	if cfg.Dispatch.Interval == 0 {
		cfg.Dispatch.Interval = defaultDispatchInterval
	}
	if cfg.Dispatch.EnforceMaxAttempts == nil {
		enforce := true
		cfg.Dispatch.EnforceMaxAttempts = &enforce
	}
	if cfg.Dispatch.RecoveryInterval == 0 {
		cfg.Dispatch.RecoveryInterval = defaultRecoveryInterval
	}
	if cfg.Dispatch.StuckExtractedAge == 0 {
		cfg.Dispatch.StuckExtractedAge = defaultStuckExtractedAge
	}

	if cfg.Worker.Interval == 0 {
		cfg.Worker.Interval = defaultWorkerInterval
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = defaultWorkerBatchSize
	}
	if cfg.Worker.HandlerTimeout == 0 {
		cfg.Worker.HandlerTimeout = defaultHandlerTimeout
	}

	if cfg.Mirror.PollInterval == 0 {
		cfg.Mirror.PollInterval = defaultMirrorPollInterval
	}
	if cfg.Mirror.BatchSize == 0 {
		cfg.Mirror.BatchSize = defaultMirrorBatchSize
	}
	if cfg.Mirror.PublishTimeout == 0 {
		cfg.Mirror.PublishTimeout = defaultMirrorPubTimeout
	}

	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = defaultUploadDir
	}
	if cfg.Upload.MaxSizeBytes == 0 {
		cfg.Upload.MaxSizeBytes = defaultUploadMaxSize
	}
}

func overrideWithEnvVars(cfg *Config) {
	if v := os.Getenv("GOKB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Service.Port = port
		}
	}
	if v := os.Getenv("APP_DEBUG"); v != "" {
		cfg.Service.Debug = parseBool(v)
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("POSTGRES_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("MIRROR_ENABLED"); v != "" {
		cfg.Mirror.Enabled = parseBool(v)
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Upload.Dir = v
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
