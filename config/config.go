// Package config provides configuration for the meetscribe service.
// Configuration is loaded from a YAML file and overlaid with environment
// variables, later sources winning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultListenAddr        = ":8080"
	DefaultPollInterval      = 60 * time.Second
	DefaultSettleDelay       = 5 * time.Second
	DefaultRetentionDays     = 30
	DefaultPlugin            = "general"
	DefaultBotName           = "Meetscribe Notetaker"
	DefaultDispatchWorkers   = 4
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultMaxTaskAttempts   = 3
	DefaultArtifactsDir      = "./artifacts"
	DefaultModelName         = "gpt-4o-mini"
	DefaultChunkMinutes      = 10
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	// ListenAddr is the bind address for the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// ExternalBaseURL is the public base URL used when registering webhook
	// and task callback endpoints with the provider.
	ExternalBaseURL string `yaml:"external_base_url"`

	// WebhookSecret signs inbound webhook deliveries. When empty, signature
	// verification is skipped and a warning is logged on every delivery.
	WebhookSecret string `yaml:"webhook_secret"`

	// TaskToken authenticates internal task callback requests.
	TaskToken string `yaml:"task_token"`
}

// ProviderConfig holds meeting-bot provider API settings.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	BotName string `yaml:"bot_name"`
}

// ModelConfig holds language model settings.
type ModelConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// DatabaseConfig holds PostgreSQL connection settings. When Host is empty the
// service falls back to in-memory stores, which is a dev-only mode.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString builds a PostgreSQL connection string. Empty when the
// database is not configured.
func (c *DatabaseConfig) ConnectionString() string {
	if c.Host == "" {
		return ""
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, port, c.Database, sslmode)
}

// QueueConfig holds Redis-backed task queue settings. When Addr is empty the
// service uses an in-memory queue.
type QueueConfig struct {
	Addr              string        `yaml:"addr"`
	Password          string        `yaml:"password"`
	DB                int           `yaml:"db"`
	Workers           int           `yaml:"workers"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Model    ModelConfig    `yaml:"model"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`

	// PollInterval is the scheduler poll cadence.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SettleDelay is the wait applied after transcript-ready notification
	// before the transcript is fetched, off the webhook response path.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// RetentionDays bounds how long completed meeting records are kept.
	RetentionDays int `yaml:"retention_days"`

	// DefaultPlugin processes meetings that name no plugin.
	DefaultPlugin string `yaml:"default_plugin"`

	// ArtifactsDir is where formatted outputs are written.
	ArtifactsDir string `yaml:"artifacts_dir"`

	// LogLevel and LogJSON configure logging output.
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
		},
		Provider: ProviderConfig{
			BotName: DefaultBotName,
		},
		Model: ModelConfig{
			Model: DefaultModelName,
		},
		Queue: QueueConfig{
			Workers:           DefaultDispatchWorkers,
			VisibilityTimeout: DefaultVisibilityTimeout,
			MaxAttempts:       DefaultMaxTaskAttempts,
		},
		PollInterval:  DefaultPollInterval,
		SettleDelay:   DefaultSettleDelay,
		RetentionDays: DefaultRetentionDays,
		DefaultPlugin: DefaultPlugin,
		ArtifactsDir:  DefaultArtifactsDir,
		LogLevel:      "info",
		LogJSON:       true,
	}
}

// Load reads configuration in this order, later sources overriding earlier:
//  1. Default values
//  2. YAML file at path (skipped when path is empty or missing)
//  3. Environment variables (MEETSCRIBE_*)
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := loadFromFile(cfg, path); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("MEETSCRIBE_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("MEETSCRIBE_EXTERNAL_BASE_URL"); v != "" {
		cfg.Server.ExternalBaseURL = v
	}
	if v := os.Getenv("MEETSCRIBE_WEBHOOK_SECRET"); v != "" {
		cfg.Server.WebhookSecret = v
	}
	if v := os.Getenv("MEETSCRIBE_TASK_TOKEN"); v != "" {
		cfg.Server.TaskToken = v
	}
	if v := os.Getenv("MEETSCRIBE_PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("MEETSCRIBE_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("MEETSCRIBE_MODEL_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("MEETSCRIBE_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("MEETSCRIBE_MODEL"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("MEETSCRIBE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("MEETSCRIBE_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("MEETSCRIBE_DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("MEETSCRIBE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("MEETSCRIBE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("MEETSCRIBE_REDIS_ADDR"); v != "" {
		cfg.Queue.Addr = v
	}
	if v := os.Getenv("MEETSCRIBE_REDIS_PASSWORD"); v != "" {
		cfg.Queue.Password = v
	}
	if v := os.Getenv("MEETSCRIBE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("MEETSCRIBE_SETTLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SettleDelay = d
		}
	}
	if v := os.Getenv("MEETSCRIBE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = n
		}
	}
	if v := os.Getenv("MEETSCRIBE_DEFAULT_PLUGIN"); v != "" {
		cfg.DefaultPlugin = v
	}
	if v := os.Getenv("MEETSCRIBE_ARTIFACTS_DIR"); v != "" {
		cfg.ArtifactsDir = v
	}
	if v := os.Getenv("MEETSCRIBE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MEETSCRIBE_LOG_JSON"); v == "true" || v == "1" {
		cfg.LogJSON = true
	} else if v == "false" || v == "0" {
		cfg.LogJSON = false
	}
}

// Validate checks the configuration for invalid values. A missing webhook
// secret is allowed; delivery verification degrades with a warning.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative, got %d", c.RetentionDays)
	}
	if c.DefaultPlugin == "" {
		return fmt.Errorf("default plugin is required")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue max attempts must be positive, got %d", c.Queue.MaxAttempts)
	}
	return nil
}

// Retention converts RetentionDays to a duration. Zero means keep forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
