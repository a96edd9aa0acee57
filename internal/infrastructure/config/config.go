package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Cast.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cast      CastConfig      `yaml:"cast"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// ServiceConfig contains service identity information.
type ServiceConfig struct {
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
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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

// CastConfig contains Cast control-channel settings.
type CastConfig struct {
	// SenderID and ReceiverID are the logical endpoint names used on every
	// envelope of a session.
	SenderID   string `yaml:"sender_id"`
	ReceiverID string `yaml:"receiver_id"`

	// Port is the receiver control-channel port. Default: 8009.
	Port int `yaml:"port"`

	// ConnectTimeout bounds the TLS handshake (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReadTimeout is the per-frame read deadline (seconds).
	ReadTimeout int `yaml:"read_timeout"`

	// WriteTimeout bounds a single frame write (seconds).
	WriteTimeout int `yaml:"write_timeout"`

	// HeartbeatInterval is the PING period (seconds).
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// ErrorBudget is the number of consecutive receive errors tolerated
	// before the session is marked failed.
	ErrorBudget int `yaml:"error_budget"`

	// MaxFrameSize bounds an envelope body (bytes).
	MaxFrameSize int `yaml:"max_frame_size"`

	// MaxPayloadSize bounds a control JSON payload (bytes).
	MaxPayloadSize int `yaml:"max_payload_size"`

	// MemoryBudget is the heap size in bytes above which heartbeats and
	// volume commands are skipped. 0 disables the guard.
	MemoryBudget uint64 `yaml:"memory_budget"`
}

// DiscoveryConfig contains mDNS discovery settings.
type DiscoveryConfig struct {
	// Timeout bounds one discovery sweep (seconds).
	Timeout int `yaml:"timeout"`

	// MaxDevices caps the devices collected per sweep.
	MaxDevices int `yaml:"max_devices"`

	// Interval is the period between background sweeps (seconds).
	Interval int `yaml:"interval"`

	// Periodic enables background discovery at startup.
	Periodic bool `yaml:"periodic"`

	// EnableIPv6 also queries mDNS over IPv6. Receivers advertise over
	// IPv4, so this is off by default.
	EnableIPv6 bool `yaml:"enable_ipv6"`

	// RetentionDays is how long unseen receivers are kept in the registry
	// before being pruned. 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYCAST_SECTION_KEY
// For example: GRAYCAST_DATABASE_PATH, GRAYCAST_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "graycast-001",
			Name: "Gray Logic Cast",
		},
		Database: DatabaseConfig{
			Path:        "./data/graycast.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graycast-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cast: CastConfig{
			SenderID:          "sender-0",
			ReceiverID:        "receiver-0",
			Port:              8009,
			ConnectTimeout:    10,
			ReadTimeout:       30,
			WriteTimeout:      5,
			HeartbeatInterval: 5,
			ErrorBudget:       5,
			MaxFrameSize:      2048,
			MaxPayloadSize:    4096,
		},
		Discovery: DiscoveryConfig{
			Timeout:       3,
			MaxDevices:    20,
			Interval:      30,
			Periodic:      true,
			RetentionDays: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYCAST_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYCAST_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYCAST_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYCAST_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYCAST_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYCAST_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYCAST_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYCAST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Service validation
	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Cast validation
	if c.Cast.Port < 1 || c.Cast.Port > 65535 {
		errs = append(errs, "cast.port must be between 1 and 65535")
	}
	if c.Cast.ErrorBudget < 1 {
		errs = append(errs, "cast.error_budget must be at least 1")
	}
	if c.Cast.MaxFrameSize < 1 {
		errs = append(errs, "cast.max_frame_size must be positive")
	}
	if c.Cast.MaxPayloadSize < 1 {
		errs = append(errs, "cast.max_payload_size must be positive")
	}

	// Discovery validation
	if c.Discovery.Timeout < 1 {
		errs = append(errs, "discovery.timeout must be at least 1 second")
	}
	if c.Discovery.MaxDevices < 1 {
		errs = append(errs, "discovery.max_devices must be positive")
	}
	if c.Discovery.Periodic && c.Discovery.Interval < 1 {
		errs = append(errs, "discovery.interval must be at least 1 second when periodic discovery is enabled")
	}

	// InfluxDB validation - only when enabled
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set GRAYCAST_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CastConnectTimeout returns the Cast connect timeout as a Duration.
func (c *Config) CastConnectTimeout() time.Duration {
	return time.Duration(c.Cast.ConnectTimeout) * time.Second
}

// CastReadTimeout returns the Cast read timeout as a Duration.
func (c *Config) CastReadTimeout() time.Duration {
	return time.Duration(c.Cast.ReadTimeout) * time.Second
}

// CastWriteTimeout returns the Cast write timeout as a Duration.
func (c *Config) CastWriteTimeout() time.Duration {
	return time.Duration(c.Cast.WriteTimeout) * time.Second
}

// CastHeartbeatInterval returns the heartbeat interval as a Duration.
func (c *Config) CastHeartbeatInterval() time.Duration {
	return time.Duration(c.Cast.HeartbeatInterval) * time.Second
}

// DiscoveryTimeout returns the discovery sweep timeout as a Duration.
func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.Timeout) * time.Second
}

// DiscoveryInterval returns the periodic discovery interval as a Duration.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Discovery.Interval) * time.Second
}

// RetentionWindow returns the registry retention window as a Duration.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Discovery.RetentionDays) * 24 * time.Hour
}
