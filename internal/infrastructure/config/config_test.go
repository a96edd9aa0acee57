package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
service:
  id: "test-cast"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
cast:
  port: 8009
  heartbeat_interval: 5
discovery:
  timeout: 3
  max_devices: 20
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "test-cast" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "test-cast")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	// Defaults survive a partial file
	if cfg.Cast.ErrorBudget != 5 {
		t.Errorf("Cast.ErrorBudget = %d, want default 5", cfg.Cast.ErrorBudget)
	}
	if cfg.Discovery.Interval != 30 {
		t.Errorf("Discovery.Interval = %d, want default 30", cfg.Discovery.Interval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
service:
  id: ""
database:
  path: "/tmp/test.db"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty service.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing service ID",
			mutate:  func(c *Config) { c.Service.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid cast port low",
			mutate:  func(c *Config) { c.Cast.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid cast port high",
			mutate:  func(c *Config) { c.Cast.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "zero error budget",
			mutate:  func(c *Config) { c.Cast.ErrorBudget = 0 },
			wantErr: true,
		},
		{
			name:    "zero frame size",
			mutate:  func(c *Config) { c.Cast.MaxFrameSize = 0 },
			wantErr: true,
		},
		{
			name:    "zero discovery timeout",
			mutate:  func(c *Config) { c.Discovery.Timeout = 0 },
			wantErr: true,
		},
		{
			name: "periodic discovery without interval",
			mutate: func(c *Config) {
				c.Discovery.Periodic = true
				c.Discovery.Interval = 0
			},
			wantErr: true,
		},
		{
			name: "influxdb enabled without token",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.URL = "http://localhost:8086"
				c.InfluxDB.Token = ""
			},
			wantErr: true,
		},
		{
			name: "influxdb enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.Token = "token"
			},
			wantErr: true,
		},
		{
			name: "influxdb disabled needs nothing",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = false
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		Cast: CastConfig{
			ConnectTimeout:    10,
			ReadTimeout:       30,
			WriteTimeout:      5,
			HeartbeatInterval: 5,
		},
		Discovery: DiscoveryConfig{
			Timeout:       3,
			Interval:      30,
			RetentionDays: 2,
		},
	}

	if got := cfg.CastConnectTimeout().Seconds(); got != 10 {
		t.Errorf("CastConnectTimeout() = %v, want 10", got)
	}
	if got := cfg.CastReadTimeout().Seconds(); got != 30 {
		t.Errorf("CastReadTimeout() = %v, want 30", got)
	}
	if got := cfg.CastWriteTimeout().Seconds(); got != 5 {
		t.Errorf("CastWriteTimeout() = %v, want 5", got)
	}
	if got := cfg.CastHeartbeatInterval().Seconds(); got != 5 {
		t.Errorf("CastHeartbeatInterval() = %v, want 5", got)
	}
	if got := cfg.DiscoveryTimeout().Seconds(); got != 3 {
		t.Errorf("DiscoveryTimeout() = %v, want 3", got)
	}
	if got := cfg.DiscoveryInterval().Seconds(); got != 30 {
		t.Errorf("DiscoveryInterval() = %v, want 30", got)
	}
	if got := cfg.RetentionWindow().Hours(); got != 48 {
		t.Errorf("RetentionWindow() = %v hours, want 48", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("GRAYCAST_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYCAST_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYCAST_MQTT_PORT", "8883")
	t.Setenv("GRAYCAST_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYCAST_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYCAST_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYCAST_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestApplyEnvOverridesIgnoresBadPort(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYCAST_MQTT_PORT", "not-a-number")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Service.ID == "" {
		t.Error("defaultConfig should have non-empty Service.ID")
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.Cast.Port != 8009 {
		t.Errorf("defaultConfig Cast.Port = %d, want 8009", cfg.Cast.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig does not validate: %v", err)
	}
}
