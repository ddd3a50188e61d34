// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail queue.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete application configuration.
type Config struct {
	Queue    QueueConfig   `yaml:"queue"`
	Store    StoreConfig   `yaml:"store"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	Admin    AdminConfig   `yaml:"admin"`
	Provider string        `yaml:"provider"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	Relay    RelayConfig   `yaml:"relay"`
	TLS      TLSConfig     `yaml:"tls"`
	Logging  LoggingConfig `yaml:"logging"`
}

// QueueConfig controls capture, dispatch and retention.
type QueueConfig struct {
	Enabled               bool          `yaml:"enabled"`
	SendingLimit          int           `yaml:"sending_limit"`
	ClearSuccessAfterDays int           `yaml:"clear_success_after_days"`
	ClearErrorsAfterDays  int           `yaml:"clear_errors_after_days"`
	Debug                 bool          `yaml:"debug"`
	SendInterval          time.Duration `yaml:"send_interval"`
	ClearInterval         time.Duration `yaml:"clear_interval"`
}

// StoreConfig selects the queue storage backend.
type StoreConfig struct {
	// Driver is one of sqlite, mysql or memory.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SMTPConfig holds the capture SMTP listener configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// AdminConfig holds the admin HTTP API configuration. An empty Listen
// disables the API.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// RelayConfig holds the upstream SMTP server used by the relay provider.
type RelayConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// DebugFile receives a copy of every record while queue.debug is on.
	DebugFile string `yaml:"debug_file"`
}

// Load loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is read first when present.
// Environment variables always take precedence.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// loadDotEnv exports .env entries that are not already set.
func loadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Queue.SendInterval <= 0 || c.Queue.ClearInterval <= 0 {
		return fmt.Errorf("queue intervals must be positive")
	}
	return nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// RelayConfigured returns true if an upstream SMTP address is set.
func (c *Config) RelayConfigured() bool {
	return c.Relay.Addr != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Queue.Enabled = true
	c.Queue.SendingLimit = 100
	c.Queue.SendInterval = time.Minute
	c.Queue.ClearInterval = 24 * time.Hour
	c.Store.Driver = "sqlite"
	c.Store.DSN = "queue.db"
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Admin.Listen = "127.0.0.1:8025"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	setBool("QUEUE_ENABLED", &c.Queue.Enabled)
	setInt("QUEUE_SENDING_LIMIT", &c.Queue.SendingLimit)
	setInt("QUEUE_CLEAR_SUCCESS_AFTER_DAYS", &c.Queue.ClearSuccessAfterDays)
	setInt("QUEUE_CLEAR_ERRORS_AFTER_DAYS", &c.Queue.ClearErrorsAfterDays)
	setBool("QUEUE_DEBUG", &c.Queue.Debug)
	setDuration("QUEUE_SEND_INTERVAL", &c.Queue.SendInterval)
	setDuration("QUEUE_CLEAR_INTERVAL", &c.Queue.ClearInterval)

	if v := os.Getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = strings.ToLower(v)
	}
	setString("STORE_DSN", &c.Store.DSN)

	setString("SMTP_LISTEN", &c.SMTP.Listen)
	setString("SMTP_HOSTNAME", &c.SMTP.Hostname)
	setString("SMTP_USERNAME", &c.SMTP.Username)
	setString("SMTP_PASSWORD", &c.SMTP.Password)
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}

	setString("ADMIN_LISTEN", &c.Admin.Listen)

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString("SES_REGION", &c.SES.Region)
	setString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	setString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	setString("SES_SENDER", &c.SES.Sender)

	setString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	setString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	setString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	setString("GRAPH_SENDER", &c.Graph.Sender)

	setString("RELAY_ADDR", &c.Relay.Addr)
	setString("RELAY_USERNAME", &c.Relay.Username)
	setString("RELAY_PASSWORD", &c.Relay.Password)

	setString("TLS_CERT_FILE", &c.TLS.CertFile)
	setString("TLS_KEY_FILE", &c.TLS.KeyFile)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	setString("LOG_DEBUG_FILE", &c.Logging.DebugFile)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
