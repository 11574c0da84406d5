// Package config loads the raffle service configuration from an optional
// YAML file with environment variable overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Raffle   RaffleConfig   `yaml:"raffle"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Auth     AuthConfig     `yaml:"auth"`
	Audit    AuditConfig    `yaml:"audit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host           string   `yaml:"host" env:"SERVER_HOST"`
	Port           int      `yaml:"port" env:"SERVER_PORT"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig controls the optional PostgreSQL backend. An empty DSN
// keeps the service on the in-memory stores.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// RaffleConfig carries the raffle parameters fixed at deployment.
type RaffleConfig struct {
	EntranceFee  float64       `yaml:"entrance_fee" env:"RAFFLE_ENTRANCE_FEE"`
	Interval     time.Duration `yaml:"interval" env:"RAFFLE_INTERVAL"`
	Words        int           `yaml:"words" env:"RAFFLE_WORDS"`
	PollInterval time.Duration `yaml:"poll_interval" env:"RAFFLE_POLL_INTERVAL"`
}

// OracleConfig carries the randomness request parameters and the optional
// external beacon endpoint.
type OracleConfig struct {
	KeyHash          string        `yaml:"key_hash" env:"ORACLE_KEY_HASH"`
	SubscriptionID   string        `yaml:"subscription_id" env:"ORACLE_SUBSCRIPTION_ID"`
	Confirmations    int           `yaml:"confirmations" env:"ORACLE_CONFIRMATIONS"`
	CallbackGasLimit int           `yaml:"callback_gas_limit" env:"ORACLE_CALLBACK_GAS_LIMIT"`
	BeaconURL        string        `yaml:"beacon_url" env:"ORACLE_BEACON_URL"`
	BeaconWordsPath  string        `yaml:"beacon_words_path" env:"ORACLE_BEACON_WORDS_PATH"`
	BeaconAPIKey     string        `yaml:"beacon_api_key" env:"ORACLE_BEACON_API_KEY"`
	ResolverDelay    time.Duration `yaml:"resolver_delay" env:"ORACLE_RESOLVER_DELAY"`
}

// AuthConfig controls API authentication and rate limiting. Empty secrets
// disable the corresponding middleware.
type AuthConfig struct {
	JWTSecret          string   `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	ServiceSecret      string   `yaml:"service_secret" env:"AUTH_SERVICE_SECRET"`
	AllowedServices    []string `yaml:"allowed_services" env:"AUTH_ALLOWED_SERVICES"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second" env:"AUTH_RATE_LIMIT_PER_SECOND"`
	RateLimitBurst     int      `yaml:"rate_limit_burst" env:"AUTH_RATE_LIMIT_BURST"`
}

// AuditConfig controls the API audit trail.
type AuditConfig struct {
	Size int    `yaml:"size" env:"AUDIT_SIZE"`
	File string `yaml:"file" env:"AUDIT_FILE"`
}

// Default returns the configuration used when neither file nor environment
// say otherwise.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Raffle: RaffleConfig{
			EntranceFee:  0.01,
			Interval:     30 * time.Second,
			Words:        1,
			PollInterval: 5 * time.Second,
		},
		Oracle: OracleConfig{
			Confirmations:    3,
			CallbackGasLimit: 500000,
			ResolverDelay:    2 * time.Second,
		},
		Auth: AuthConfig{
			RateLimitPerSecond: 50,
			RateLimitBurst:     100,
		},
		Audit: AuditConfig{
			Size: 200,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE (or config.yaml if present), and environment overrides, in
// that order.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return LoadFromPath(path)
}

// LoadFromPath is Load with an explicit file path. An empty path skips the
// file layer.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// Environment variables override both defaults and file values. A
	// fully empty environment is fine.
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Database.DSN != "" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Raffle.EntranceFee <= 0 {
		return fmt.Errorf("raffle entrance fee must be positive, got %v", c.Raffle.EntranceFee)
	}
	if c.Raffle.Interval <= 0 {
		return fmt.Errorf("raffle interval must be positive, got %v", c.Raffle.Interval)
	}
	if c.Raffle.Words < 1 {
		return fmt.Errorf("raffle words must be at least 1, got %d", c.Raffle.Words)
	}
	if c.Raffle.PollInterval <= 0 {
		return fmt.Errorf("raffle poll interval must be positive, got %v", c.Raffle.PollInterval)
	}
	if c.Oracle.Confirmations < 0 {
		return fmt.Errorf("oracle confirmations must not be negative, got %d", c.Oracle.Confirmations)
	}
	if c.Audit.Size < 0 {
		return fmt.Errorf("audit size must not be negative, got %d", c.Audit.Size)
	}
	if strings.TrimSpace(c.Auth.ServiceSecret) == "" && len(c.Auth.AllowedServices) > 0 {
		return fmt.Errorf("allowed services configured without a service secret")
	}
	return nil
}
