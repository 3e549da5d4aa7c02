package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for accessd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Tenants   TenantsConfig   `yaml:"tenants"`
	Retry     RetryConfig     `yaml:"retry"`
	Events    EventsConfig    `yaml:"events"`
	Registry  RegistryConfig  `yaml:"registry"`
	NATS      NATSConfig      `yaml:"nats"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker connects accessd to the vendor gateway that owns the device SDK.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`

	// MirrorEvents republishes every domain event on {prefix}/events/{type}.
	MirrorEvents bool `yaml:"mirror_events"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for command telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings for the API.
type JWTConfig struct {
	// Enabled turns on bearer-token validation for API routes.
	// Only disable on isolated development setups.
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`

	// TokenTTL is the lifetime of tokens minted by "accessd token".
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// DispatchConfig controls the command queue and worker pool.
type DispatchConfig struct {
	// QueueCapacity bounds the global command queue. Default: 1000
	QueueCapacity int `yaml:"queue_capacity"`

	// Workers is the size of the worker pool. 0 means 4 × NumCPU.
	Workers int `yaml:"workers"`

	// FullPolicy is what Submit does when the queue is full: "block" or "fail_fast".
	FullPolicy string `yaml:"full_policy"`

	// SubmitTimeout bounds how long a blocking Submit waits for queue space.
	SubmitTimeout time.Duration `yaml:"submit_timeout"`

	// CommandTimeout is added to the submission time to form a command's deadline.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// MetricsInterval is how often queue depth is written to telemetry.
	MetricsInterval time.Duration `yaml:"metrics_interval"`

	// PerDeviceLimit caps in-flight commands per device. 0 disables the cap.
	// Default: 1
	PerDeviceLimit int `yaml:"per_device_limit"`
}

// TenantsConfig controls per-tenant admission.
type TenantsConfig struct {
	// DefaultLimit is the concurrency limit for tenants without an override.
	DefaultLimit int `yaml:"default_limit"`

	// Limits holds per-tenant overrides keyed by tenant ID.
	Limits map[string]int `yaml:"limits"`
}

// RetryConfig controls the dead-letter retry pipeline.
type RetryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Interval     time.Duration `yaml:"interval"`
	PollInterval time.Duration `yaml:"poll_interval"`
	QueueKey     string        `yaml:"queue_key"`
	AbandonedKey string        `yaml:"abandoned_key"`
}

// EventsConfig controls the durable event log and streaming subscribers.
type EventsConfig struct {
	// Backend selects the durable log: "sqlite" or "jetstream".
	Backend      string        `yaml:"backend"`
	Stream       string        `yaml:"stream"`
	DefaultGroup string        `yaml:"default_group"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	MaxLen       int           `yaml:"max_len"`

	// ConsumerIdle is how long a consumer may go without reading before
	// its pending entries can be claimed by others in the group.
	ConsumerIdle time.Duration `yaml:"consumer_idle"`
}

// RegistryConfig controls device liveness tracking.
type RegistryConfig struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// NATSConfig contains the JetStream connection used when events.backend is "jetstream".
type NATSConfig struct {
	URL     string        `yaml:"url"`
	AckWait time.Duration `yaml:"ack_wait"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ACCESSD_SECTION_KEY
// For example: ACCESSD_DATABASE_PATH, ACCESSD_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// Used when no config file exists (e.g. one-shot CLI commands).
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "accessd",
		},
		Database: DatabaseConfig{
			Path:        "./data/accessd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "accessd-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "accessd",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{Enabled: true, TokenTTL: 24 * time.Hour},
		},
		Dispatch: DispatchConfig{
			QueueCapacity:   1000,
			FullPolicy:      "block",
			SubmitTimeout:   2 * time.Second,
			CommandTimeout:  15 * time.Second,
			MetricsInterval: 10 * time.Second,
			PerDeviceLimit:  1,
		},
		Tenants: TenantsConfig{
			DefaultLimit: 4,
		},
		Retry: RetryConfig{
			Enabled:      true,
			MaxAttempts:  3,
			Interval:     10 * time.Second,
			PollInterval: time.Second,
			QueueKey:     "whitelist:failed",
			AbandonedKey: "whitelist:abandoned",
		},
		Events: EventsConfig{
			Backend:      "sqlite",
			Stream:       "whitelist:events",
			DefaultGroup: "stream-clients",
			BatchSize:    10,
			PollInterval: 100 * time.Millisecond,
			ErrorBackoff: 2 * time.Second,
			MaxLen:       100000,
			ConsumerIdle: 5 * time.Minute,
		},
		Registry: RegistryConfig{
			HeartbeatTimeout: 90 * time.Second,
			SweepInterval:    15 * time.Second,
		},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			AckWait: 30 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ACCESSD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("ACCESSD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ACCESSD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ACCESSD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ACCESSD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ACCESSD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ACCESSD_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("ACCESSD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// NATS
	if v := os.Getenv("ACCESSD_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("ACCESSD_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A forged token opens doors, so the secret gets the same floor as any HS256 key.
	const minJWTSecretLength = 32
	if c.Security.JWT.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set ACCESSD_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if c.Dispatch.QueueCapacity < 1 {
		errs = append(errs, "dispatch.queue_capacity must be at least 1")
	}
	if c.Dispatch.Workers < 0 {
		errs = append(errs, "dispatch.workers must not be negative")
	}
	switch c.Dispatch.FullPolicy {
	case "block", "fail_fast":
	default:
		errs = append(errs, "dispatch.full_policy must be \"block\" or \"fail_fast\"")
	}
	if c.Dispatch.PerDeviceLimit < 0 {
		errs = append(errs, "dispatch.per_device_limit must not be negative")
	}
	if c.Dispatch.CommandTimeout <= 0 {
		errs = append(errs, "dispatch.command_timeout must be positive")
	}

	if c.Tenants.DefaultLimit < 1 {
		errs = append(errs, "tenants.default_limit must be at least 1")
	}
	for tenantID, limit := range c.Tenants.Limits {
		if limit < 1 {
			errs = append(errs, fmt.Sprintf("tenants.limits[%s] must be at least 1", tenantID))
		}
	}

	if c.Retry.Enabled {
		if c.Retry.MaxAttempts < 1 {
			errs = append(errs, "retry.max_attempts must be at least 1")
		}
		if c.Retry.QueueKey == "" || c.Retry.AbandonedKey == "" {
			errs = append(errs, "retry.queue_key and retry.abandoned_key are required")
		}
	}

	switch c.Events.Backend {
	case "sqlite":
	case "jetstream":
		if c.NATS.URL == "" {
			errs = append(errs, "nats.url is required for the jetstream events backend")
		}
	default:
		errs = append(errs, "events.backend must be \"sqlite\" or \"jetstream\"")
	}
	if c.Events.Stream == "" {
		errs = append(errs, "events.stream is required")
	}
	if c.Events.BatchSize < 1 {
		errs = append(errs, "events.batch_size must be at least 1")
	}
	if c.Events.ConsumerIdle < 0 {
		errs = append(errs, "events.consumer_idle must not be negative")
	}

	if c.Registry.SweepInterval <= 0 || c.Registry.HeartbeatTimeout <= 0 {
		errs = append(errs, "registry.sweep_interval and registry.heartbeat_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
