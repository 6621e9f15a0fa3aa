// Package config provides configuration management for Alexander Gateway.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// LogBufferSize is the number of completed request records retained
	// for the log retrieval surface.
	LogBufferSize int `mapstructure:"log_buffer_size"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UpstreamConfig holds the backend binding and proxy limits.
type UpstreamConfig struct {
	// Endpoint is the S3-compatible backend URL, e.g. https://s3.example.com.
	Endpoint string `mapstructure:"endpoint"`

	// Region is the signing region for outbound requests.
	Region string `mapstructure:"region"`

	// MaxInFlight caps concurrent upstream calls.
	MaxInFlight int64 `mapstructure:"max_in_flight"`

	// RequestTimeout is the total per-call budget against the backend.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ResponseHeaderTimeout bounds the wait for backend response headers.
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`

	// MaxBodySize caps the decoded request body in bytes. Zero disables
	// the quota.
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// EndpointURL parses the configured backend endpoint.
func (c UpstreamConfig) EndpointURL() (*url.URL, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream endpoint must include scheme and host")
	}
	return u, nil
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// Region is the region inbound credentials must be scoped to.
	Region string `mapstructure:"region"`

	// MaxClockSkew is the accepted clock drift in either direction.
	MaxClockSkew time.Duration `mapstructure:"max_clock_skew"`

	// PresignedURLExpiration is the lifetime of generated presigned URLs.
	PresignedURLExpiration time.Duration `mapstructure:"presigned_url_expiration"`

	// EncryptionPassphrase derives the AES-256 key that encrypts stored
	// secrets. Required.
	EncryptionPassphrase string `mapstructure:"encryption_passphrase"`
}

// PolicyConfig holds the authorization policy rules.
type PolicyConfig struct {
	// DefaultAllow is the decision for requests matching no rule.
	DefaultAllow bool `mapstructure:"default_allow"`

	// Rules is the ordered rule list; the first match wins.
	Rules []PolicyRule `mapstructure:"rules"`
}

// PolicyRule mirrors one policy rule. Empty match fields are wildcards.
type PolicyRule struct {
	AccessKeys    []string `mapstructure:"access_keys"`
	Methods       []string `mapstructure:"methods"`
	BucketPattern string   `mapstructure:"bucket_pattern"`
	KeyPrefix     string   `mapstructure:"key_prefix"`
	Effect        string   `mapstructure:"effect"`
}

// DatabaseConfig holds credential store connection settings.
// Supports both PostgreSQL and SQLite backends.
type DatabaseConfig struct {
	// Driver specifies the database driver: "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings (used when Driver is "sqlite")
	Path            string `mapstructure:"path"`
	JournalMode     string `mapstructure:"journal_mode"`
	BusyTimeout     int    `mapstructure:"busy_timeout"`
	SynchronousMode string `mapstructure:"synchronous_mode"`
}

// DSN returns the PostgreSQL connection string.
// Only valid when Driver is "postgres".
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded returns true if using an embedded database (SQLite).
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == "sqlite"
}

// RedisConfig holds Redis connection settings for the credential cache.
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// TTL is the credential cache entry lifetime.
	TTL time.Duration `mapstructure:"ttl"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with GATEWAY_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/alexander-gateway")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is acceptable; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.log_buffer_size", 1024)

	// Upstream defaults
	v.SetDefault("upstream.endpoint", "")
	v.SetDefault("upstream.region", "us-east-1")
	v.SetDefault("upstream.max_in_flight", 256)
	v.SetDefault("upstream.request_timeout", 5*time.Minute)
	v.SetDefault("upstream.response_header_timeout", 30*time.Second)
	v.SetDefault("upstream.max_body_size", 5*1024*1024*1024) // 5GB

	// Auth defaults
	v.SetDefault("auth.region", "us-east-1")
	v.SetDefault("auth.max_clock_skew", 15*time.Minute)
	v.SetDefault("auth.presigned_url_expiration", 15*time.Minute)
	v.SetDefault("auth.encryption_passphrase", "") // Must be provided

	// Policy defaults
	v.SetDefault("policy.default_allow", true)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gateway")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "gateway")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	// SQLite defaults
	v.SetDefault("database.path", "./data/gateway.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.synchronous_mode", "NORMAL")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.ttl", 5*time.Minute)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Upstream.Endpoint != "" {
		if _, err := c.Upstream.EndpointURL(); err != nil {
			return err
		}
	}
	if c.Upstream.MaxInFlight < 0 {
		return fmt.Errorf("upstream.max_in_flight must not be negative")
	}

	validDrivers := map[string]bool{"postgres": true, "sqlite": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be 'postgres' or 'sqlite'")
	}
	if c.Database.Driver == "postgres" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres driver")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for postgres driver")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres driver")
		}
	} else if c.Database.Path == "" {
		return fmt.Errorf("database.path is required for sqlite driver")
	}

	for i, rule := range c.Policy.Rules {
		switch strings.ToLower(rule.Effect) {
		case "allow", "deny":
		default:
			return fmt.Errorf("policy.rules[%d].effect must be 'allow' or 'deny'", i)
		}
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
