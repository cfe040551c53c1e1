// Package config provides configuration management for the gg-retro
// server: defaults, then an optional YAML file, then environment
// variables, in that override order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the server.
type Config struct {
	// Bind is the address the GG and HTTP listeners bind to (host
	// part only; ports come from GGPort/HTTPPort).
	Bind string `yaml:"bind" json:"bind"`

	// HTTPPort is the port the HTTP discovery/registration surface
	// listens on.
	HTTPPort int `yaml:"http_port" json:"http_port"`

	// GGPort is the port the GG 6.0 wire protocol listens on.
	GGPort int `yaml:"gg_port" json:"gg_port"`

	// DB is the SQLite database file (or DSN). The value ":memory:"
	// (what the -memory flag sets) runs with the in-memory repositories
	// instead of opening a file; Validate rejects an empty value.
	DB string `yaml:"db" json:"db"`

	// Hostname is substituted into the HTTP discovery endpoint's
	// response body.
	Hostname string `yaml:"hostname" json:"hostname"`

	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Security SecurityConfig `yaml:"security" json:"security"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level"`

	// Format is the log encoding (console, json).
	Format string `yaml:"format" json:"format"`
}

// SecurityConfig holds security-specific configuration.
type SecurityConfig struct {
	// BcryptCost is the cost factor used to hash HTTP account tokens
	// (not the GG wire password, which is never hashed at rest).
	BcryptCost int `yaml:"bcrypt_cost" json:"bcrypt_cost"`

	// JWTSecret signs HTTP convenience-login bearer tokens.
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Bind:     "0.0.0.0",
		HTTPPort: 80,
		GGPort:   8074,
		DB:       "gg-retro.db",
		Hostname: "localhost",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Security: SecurityConfig{
			BcryptCost: 10,
			JWTSecret:  "",
		},
	}
}

// Load loads configuration from defaults, then an optional YAML file,
// then environment variables. Environment variables take precedence
// over the file.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("config: load file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv overrides configuration with environment variables
// under the GG_ prefix: GG_BIND, GG_HTTP_PORT, GG_GG_PORT, GG_DB,
// GG_HOSTNAME, GG_LOGGING_LEVEL, GG_LOGGING_FORMAT,
// GG_SECURITY_BCRYPT_COST, GG_SECURITY_JWT_SECRET.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("GG_BIND"); v != "" {
		cfg.Bind = v
	}
	if v := os.Getenv("GG_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = n
		}
	}
	if v := os.Getenv("GG_GG_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GGPort = n
		}
	}
	if v := os.Getenv("GG_DB"); v != "" {
		cfg.DB = v
	}
	if v := os.Getenv("GG_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("GG_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GG_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("GG_SECURITY_BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.BcryptCost = n
		}
	}
	if v := os.Getenv("GG_SECURITY_JWT_SECRET"); v != "" {
		cfg.Security.JWTSecret = v
	}
}

// Validate checks the configuration for internally inconsistent or
// out-of-range values.
func (c *Config) Validate() error {
	if c.Bind == "" {
		return fmt.Errorf("bind address cannot be empty")
	}
	if c.GGPort <= 0 || c.GGPort > 65535 {
		return fmt.Errorf("gg_port out of range: %d", c.GGPort)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port out of range: %d", c.HTTPPort)
	}
	if c.DB == "" {
		return fmt.Errorf("db cannot be empty")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}
	validFormats := []string{"console", "json", "text"}
	if !contains(validFormats, strings.ToLower(c.Logging.Format)) {
		return fmt.Errorf("invalid log format: %s (must be one of: %v)", c.Logging.Format, validFormats)
	}

	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		return fmt.Errorf("bcrypt_cost out of range: %d", c.Security.BcryptCost)
	}

	return nil
}

func contains(slice []string, item string) bool {
	item = strings.ToLower(item)
	for _, s := range slice {
		if strings.ToLower(s) == item {
			return true
		}
	}
	return false
}

// GGAddr returns the bind:port pair the GG listener should use.
func (c *Config) GGAddr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.GGPort)
}

// HTTPAddr returns the bind:port pair the HTTP listener should use.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.HTTPPort)
}
