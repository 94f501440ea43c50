// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config
// files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Database       DatabaseConfig       `mapstructure:"database"`
	NATS           NATSConfig           `mapstructure:"nats"`
	Docker         DockerConfig         `mapstructure:"docker"`
	Capacity       CapacityConfig       `mapstructure:"capacity"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitBreaker"`
	MainLoop       MainLoopConfig       `mapstructure:"mainLoop"`
	Notify         NotifyConfig         `mapstructure:"notify"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // "postgres" or "memory"
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`

	// rawDSN holds CONDUCTOR_DATABASE_DSN when set, bypassing the individual
	// fields above. Not part of the mapstructure-bound config file schema.
	rawDSN string `mapstructure:"-"`
}

// NATSConfig holds optional transport configuration for the EventDispatcher's
// cross-process fan-out. An empty URL means the dispatcher stays in-process
// only — the queue of record always lives in the database regardless.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DockerConfig holds Docker client configuration for the default AgentRuntime.
type DockerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
	TLSVerify  bool   `mapstructure:"tlsVerify"`
	// OpusImage and SonnetImage select the container image spawned per tier.
	OpusImage   string `mapstructure:"opusImage"`
	SonnetImage string `mapstructure:"sonnetImage"`
}

// TierConfig holds the concurrency limit for one model tier.
type TierConfig struct {
	Limit int `mapstructure:"limit"`
}

// CapacityConfig holds per-tier concurrency limits. Tiers is keyed by tier
// name so additional tiers can be added without code changes — the
// scheduler and capacity tracker both range over whatever keys are present
// rather than special-casing opus/sonnet.
type CapacityConfig struct {
	Tiers map[string]TierConfig `mapstructure:"tiers"`
}

// CircuitBreakerConfig holds the trip thresholds for the four trigger
// conditions.
type CircuitBreakerConfig struct {
	MaxConsecutiveAgentErrors int     `mapstructure:"maxConsecutiveAgentErrors"`
	ErrorRateThreshold        float64 `mapstructure:"errorRateThreshold"`
	ErrorRateWindowSize       int     `mapstructure:"errorRateWindowSize"`
	HardBudgetLimitUSD        float64 `mapstructure:"hardBudgetLimitUsd"`
	TokenLimitWithoutOutput   int64   `mapstructure:"tokenLimitWithoutOutput"`
}

// MainLoopConfig holds MainLoop tuning knobs.
type MainLoopConfig struct {
	PollIntervalMs            int    `mapstructure:"pollIntervalMs"`
	GracefulShutdownTimeoutMs int    `mapstructure:"gracefulShutdownTimeoutMs"`
	StateFilePath             string `mapstructure:"stateFilePath"`
	ValidateDatabaseOnStartup bool   `mapstructure:"validateDatabaseOnStartup"`
	RunPreFlightChecks        bool   `mapstructure:"runPreFlightChecks"`
	MaxConsecutiveDbFailures  int    `mapstructure:"maxConsecutiveDbFailures"`
	StatusCheckInIntervalMs   int    `mapstructure:"statusCheckInIntervalMs"`

	DbMaxRetries        int `mapstructure:"dbMaxRetries"`
	DbInitialDelayMs    int `mapstructure:"dbInitialDelayMs"`
	DbMaxDelayMs        int `mapstructure:"dbMaxDelayMs"`
	DbBackoffMultiplier int `mapstructure:"dbBackoffMultiplier"`
	EventHistorySize    int `mapstructure:"eventHistorySize"`
}

// NotifyConfig holds notification channel configuration.
type NotifyConfig struct {
	WebhookURL      string `mapstructure:"webhookUrl"`
	QuietHoursStart int    `mapstructure:"quietHoursStart"` // hour of day, 0-23
	QuietHoursEnd   int    `mapstructure:"quietHoursEnd"`   // hour of day, 0-23
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// PollInterval returns the configured poll interval as a time.Duration.
func (m *MainLoopConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMs) * time.Millisecond
}

// GracefulShutdownTimeout returns the configured shutdown grace period.
func (m *MainLoopConfig) GracefulShutdownTimeout() time.Duration {
	return time.Duration(m.GracefulShutdownTimeoutMs) * time.Millisecond
}

// detectDefaultLogFormat returns "json" in container/production
// environments, "text" otherwise — matches what an operator at a terminal
// expects versus a process launched under an orchestrator.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CONDUCTOR_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "conductor")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "conductor")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "conductor-cluster")
	v.SetDefault("nats.clientId", "conductor-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.host", DefaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.tlsVerify", false)
	v.SetDefault("docker.opusImage", "conductor/agent-opus:latest")
	v.SetDefault("docker.sonnetImage", "conductor/agent-sonnet:latest")

	v.SetDefault("capacity.tiers.opus.limit", 2)
	v.SetDefault("capacity.tiers.sonnet.limit", 5)

	v.SetDefault("circuitBreaker.maxConsecutiveAgentErrors", 3)
	v.SetDefault("circuitBreaker.errorRateThreshold", 0.5)
	v.SetDefault("circuitBreaker.errorRateWindowSize", 10)
	v.SetDefault("circuitBreaker.hardBudgetLimitUsd", 100.0)
	v.SetDefault("circuitBreaker.tokenLimitWithoutOutput", 100000)

	v.SetDefault("mainLoop.pollIntervalMs", 5000)
	v.SetDefault("mainLoop.gracefulShutdownTimeoutMs", 30000)
	v.SetDefault("mainLoop.stateFilePath", "./conductor-state.json")
	v.SetDefault("mainLoop.validateDatabaseOnStartup", true)
	v.SetDefault("mainLoop.runPreFlightChecks", true)
	v.SetDefault("mainLoop.maxConsecutiveDbFailures", 3)
	v.SetDefault("mainLoop.statusCheckInIntervalMs", 0)
	v.SetDefault("mainLoop.dbMaxRetries", 5)
	v.SetDefault("mainLoop.dbInitialDelayMs", 200)
	v.SetDefault("mainLoop.dbMaxDelayMs", 10000)
	v.SetDefault("mainLoop.dbBackoffMultiplier", 2)
	v.SetDefault("mainLoop.eventHistorySize", 100)

	v.SetDefault("notify.webhookUrl", "")
	v.SetDefault("notify.quietHoursStart", 22)
	v.SetDefault("notify.quietHoursEnd", 7)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations. Environment variables use the prefix CONDUCTOR_.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// OPUS_SESSION_LIMIT / SONNET_SESSION_LIMIT are spelled without the
	// CONDUCTOR_ prefix; bind them explicitly since AutomaticEnv only
	// looks at the prefixed form.
	_ = v.BindEnv("capacity.tiers.opus.limit", "OPUS_SESSION_LIMIT")
	_ = v.BindEnv("capacity.tiers.sonnet.limit", "SONNET_SESSION_LIMIT")
	_ = v.BindEnv("database.driver", "CONDUCTOR_DATABASE_DRIVER")
	_ = v.BindEnv("notify.webhookUrl", "CONDUCTOR_NOTIFY_WEBHOOK_URL")
	_ = v.BindEnv("docker.host", "CONDUCTOR_DOCKER_HOST", "DOCKER_HOST")
	_ = v.BindEnv("logging.level", "CONDUCTOR_LOG_LEVEL")
	_ = v.BindEnv("logging.format", "CONDUCTOR_LOG_FORMAT")

	// CONDUCTOR_DATABASE_DSN, when set, overrides the individual host/port/
	// user/password/dbName fields — DSN() below prefers the raw DSN if present.
	v.SetDefault("database.dsn", "")
	_ = v.BindEnv("database.dsn", "CONDUCTOR_DATABASE_DSN")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/conductor/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Database.rawDSN = v.GetString("database.dsn")
	if strings.TrimSpace(cfg.Database.rawDSN) != "" {
		cfg.Database.Driver = "postgres"
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that required configuration fields are coherent.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Database.Driver == "postgres" {
		if cfg.Database.rawDSN == "" {
			if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
				errs = append(errs, "database.port must be between 1 and 65535")
			}
			if cfg.Database.User == "" {
				errs = append(errs, "database.user is required for postgres driver")
			}
			if cfg.Database.DBName == "" {
				errs = append(errs, "database.dbName is required for postgres driver")
			}
		}
	} else if cfg.Database.Driver != "memory" {
		errs = append(errs, "database.driver must be one of: postgres, memory")
	}

	if len(cfg.Capacity.Tiers) == 0 {
		errs = append(errs, "capacity.tiers must configure at least one model tier")
	}
	for name, tier := range cfg.Capacity.Tiers {
		if tier.Limit < 0 {
			errs = append(errs, fmt.Sprintf("capacity.tiers.%s.limit must be non-negative", name))
		}
	}

	if cfg.CircuitBreaker.MaxConsecutiveAgentErrors <= 0 {
		errs = append(errs, "circuitBreaker.maxConsecutiveAgentErrors must be positive")
	}
	if cfg.CircuitBreaker.ErrorRateWindowSize <= 0 {
		errs = append(errs, "circuitBreaker.errorRateWindowSize must be positive")
	}

	if cfg.MainLoop.PollIntervalMs <= 0 {
		errs = append(errs, "mainLoop.pollIntervalMs must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string. A raw CONDUCTOR_DATABASE_DSN
// takes precedence over the individual fields.
func (d *DatabaseConfig) DSN() string {
	if strings.TrimSpace(d.rawDSN) != "" {
		return d.rawDSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// DefaultDockerHost returns the platform-appropriate Docker socket path.
// Respects the DOCKER_HOST env var as an override, the standard Docker
// convention.
func DefaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

// StateDir returns the directory portion of the configured state file path.
// Creating it is the caller's job.
func (c *Config) StateDir() string {
	return filepath.Dir(c.MainLoop.StateFilePath)
}
