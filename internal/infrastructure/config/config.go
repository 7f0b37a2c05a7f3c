package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds accepted in transport.kind.
const (
	TransportMQTT     = "mqtt"
	TransportInfluxDB = "influxdb"
)

// Config is the root configuration structure for the telemetry agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Buffer      BufferConfig      `yaml:"buffer"`
	Transmit    TransmitConfig    `yaml:"transmit"`
	Transport   TransportConfig   `yaml:"transport"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Database    DatabaseConfig    `yaml:"database"`
	History     HistoryConfig     `yaml:"history"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Sources     SourcesConfig     `yaml:"sources"`
	Logging     LoggingConfig     `yaml:"logging"`
	Variables   []VariableConfig  `yaml:"variables"`
}

// AgentConfig identifies the monitored asset.
type AgentConfig struct {
	// AssetName is written into every wire message.
	AssetName string `yaml:"asset_name"`

	// Device is the device name used by history downloads.
	Device string `yaml:"device"`
}

// SchedulerConfig contains the sampling scheduler settings.
type SchedulerConfig struct {
	// TickInterval is how often the producer loop runs a scheduler tick.
	TickInterval time.Duration `yaml:"tick_interval"`

	// MaxVariables is the registry capacity.
	MaxVariables int `yaml:"max_variables"`
}

// BufferConfig contains memory queue and overflow store settings.
type BufferConfig struct {
	QueueCapacity int            `yaml:"queue_capacity"`
	Overflow      OverflowConfig `yaml:"overflow"`
}

// OverflowConfig contains the CSV overflow store settings.
type OverflowConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Path            string `yaml:"path"`
	RecreateOnDrain bool   `yaml:"recreate_on_drain"`
	SyncWrites      bool   `yaml:"sync_writes"`
}

// TransmitConfig contains transmission engine settings.
type TransmitConfig struct {
	SendPeriod     time.Duration `yaml:"send_period"`
	RecoveryDelay  time.Duration `yaml:"recovery_delay"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Blocking       bool          `yaml:"blocking"`
}

// TransportConfig selects the publisher.
type TransportConfig struct {
	// Kind is "mqtt" or "influxdb".
	Kind string `yaml:"kind"`
}

// MQTTConfig contains the IoT hub MQTT connection settings.
type MQTTConfig struct {
	// BrokerURL is the raw broker address, e.g. "ssl://hub.example.net:8883".
	// The host name is derived by stripping the scheme and port.
	BrokerURL string `yaml:"broker_url"`

	// Port is used when BrokerURL carries none.
	Port int `yaml:"port"`

	// DeviceID is the client id registered on the hub.
	DeviceID string `yaml:"device_id"`

	// SharedAccessSignature is the SAS token used as password.
	SharedAccessSignature string `yaml:"shared_access_signature"`

	// ConnectionString overrides BrokerURL, DeviceID and SharedAccessSignature
	// when set ("HostName=...;DeviceId=...;SharedAccessSignature=...").
	ConnectionString string `yaml:"connection_string"`

	// APIVersion is appended to the MQTT username.
	APIVersion string `yaml:"api_version"`

	// Topic is the publish topic; "{device_id}" is substituted.
	Topic string `yaml:"topic"`

	QoS       int                 `yaml:"qos"`
	TLS       bool                `yaml:"tls"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// DatabaseConfig contains SQLite journal settings.
type DatabaseConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout int           `yaml:"busy_timeout"`
	Retention   time.Duration `yaml:"retention"`
}

// HistoryConfig contains the history download settings.
type HistoryConfig struct {
	// Endpoint is the URL template with {{clientidnum}}, {{device}},
	// {{varname}}, {{tsini}} and {{tsend}} placeholders.
	Endpoint      string        `yaml:"endpoint"`
	SessionCookie string        `yaml:"session_cookie"`
	AuthToken     string        `yaml:"auth_token"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DiagnosticsConfig contains the local status/metrics HTTP server settings.
type DiagnosticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// SourcesConfig contains host metric polling settings.
type SourcesConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	DiskPath     string        `yaml:"disk_path"`
}

// VariableConfig declares one monitored variable.
type VariableConfig struct {
	Name      string        `yaml:"name"`
	Source    string        `yaml:"source"`
	Scale     float64       `yaml:"scale"`
	MinPeriod time.Duration `yaml:"min_period"`
	Threshold int           `yaml:"threshold"`

	// MaxPeriod forces a sample when exceeded. Zero or omitted means unbounded.
	MaxPeriod time.Duration `yaml:"max_period"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MAAGENT_SECTION_KEY
// For example: MAAGENT_MQTT_SAS, MAAGENT_OVERFLOW_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with the firmware defaults: 32 variables,
// a 64-slot queue, one send per second and a one second recovery window.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			AssetName: "asset",
		},
		Scheduler: SchedulerConfig{
			TickInterval: 100 * time.Millisecond,
			MaxVariables: 32,
		},
		Buffer: BufferConfig{
			QueueCapacity: 64,
			Overflow: OverflowConfig{
				Enabled:         true,
				Path:            "./data/sdbuffer.csv",
				RecreateOnDrain: true,
			},
		},
		Transmit: TransmitConfig{
			SendPeriod:     time.Second,
			RecoveryDelay:  time.Second,
			PublishTimeout: 5 * time.Second,
			PollInterval:   10 * time.Millisecond,
		},
		Transport: TransportConfig{
			Kind: TransportMQTT,
		},
		MQTT: MQTTConfig{
			Port:       8883,
			APIVersion: "2018-06-30",
			Topic:      "devices/{device_id}/messages/events/",
			QoS:        1,
			TLS:        true,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     60 * time.Second,
			},
		},
		InfluxDB: InfluxDBConfig{
			Measurement: "metrics",
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/maagent.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   7 * 24 * time.Hour,
		},
		History: HistoryConfig{
			Endpoint: "https://api.machine-advisor.schneider-electric.com/download/{{clientidnum}}/%5B%22{{device}}%3A{{varname}}%22%5D/{{tsini}}/{{tsend}}",
			Timeout:  30 * time.Second,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9464,
		},
		Sources: SourcesConfig{
			PollInterval: time.Second,
			DiskPath:     "/",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets should come from here rather than the YAML file.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("MAAGENT_MQTT_BROKER_URL"); v != "" {
		cfg.MQTT.BrokerURL = v
	}
	if v := os.Getenv("MAAGENT_MQTT_DEVICE_ID"); v != "" {
		cfg.MQTT.DeviceID = v
	}
	if v := os.Getenv("MAAGENT_MQTT_SAS"); v != "" {
		cfg.MQTT.SharedAccessSignature = v
	}
	if v := os.Getenv("MAAGENT_MQTT_CONNECTION_STRING"); v != "" {
		cfg.MQTT.ConnectionString = v
	}

	// InfluxDB
	if v := os.Getenv("MAAGENT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Storage
	if v := os.Getenv("MAAGENT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MAAGENT_OVERFLOW_PATH"); v != "" {
		cfg.Buffer.Overflow.Path = v
	}

	// History API credentials
	if v := os.Getenv("MAAGENT_HISTORY_COOKIE"); v != "" {
		cfg.History.SessionCookie = v
	}
	if v := os.Getenv("MAAGENT_HISTORY_TOKEN"); v != "" {
		cfg.History.AuthToken = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.AssetName == "" {
		errs = append(errs, "agent.asset_name is required")
	}

	// Scheduler
	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, "scheduler.tick_interval must be positive")
	}
	if c.Scheduler.MaxVariables < 1 {
		errs = append(errs, "scheduler.max_variables must be at least 1")
	}

	// Buffer
	if c.Buffer.QueueCapacity < 1 {
		errs = append(errs, "buffer.queue_capacity must be at least 1")
	}
	if c.Buffer.Overflow.Enabled && c.Buffer.Overflow.Path == "" {
		errs = append(errs, "buffer.overflow.path is required when overflow is enabled")
	}

	// Transmit
	if c.Transmit.SendPeriod <= 0 {
		errs = append(errs, "transmit.send_period must be positive")
	}
	if c.Transmit.RecoveryDelay < 0 {
		errs = append(errs, "transmit.recovery_delay must not be negative")
	}

	// Transport
	switch c.Transport.Kind {
	case TransportMQTT:
		if c.MQTT.ConnectionString == "" && (c.MQTT.BrokerURL == "" || c.MQTT.DeviceID == "") {
			errs = append(errs, "mqtt.broker_url and mqtt.device_id (or mqtt.connection_string) are required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	case TransportInfluxDB:
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required")
		}
	default:
		errs = append(errs, fmt.Sprintf("transport.kind %q must be %q or %q", c.Transport.Kind, TransportMQTT, TransportInfluxDB))
	}

	// Journal
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	// Diagnostics
	if c.Diagnostics.Enabled && (c.Diagnostics.Port < 1 || c.Diagnostics.Port > 65535) {
		errs = append(errs, "diagnostics.port must be between 1 and 65535")
	}

	// Variables
	if len(c.Variables) > c.Scheduler.MaxVariables {
		errs = append(errs, fmt.Sprintf("%d variables declared, scheduler.max_variables is %d", len(c.Variables), c.Scheduler.MaxVariables))
	}
	seen := make(map[string]bool, len(c.Variables))
	for i, v := range c.Variables {
		switch {
		case v.Name == "":
			errs = append(errs, fmt.Sprintf("variables[%d].name is required", i))
		case strings.ContainsAny(v.Name, ",\r\n"):
			errs = append(errs, fmt.Sprintf("variables[%d].name %q must not contain commas or line breaks", i, v.Name))
		case seen[v.Name]:
			errs = append(errs, fmt.Sprintf("variables[%d].name %q is duplicated", i, v.Name))
		}
		seen[v.Name] = true
		if v.Source == "" {
			errs = append(errs, fmt.Sprintf("variables[%d].source is required", i))
		}
		if v.MinPeriod < 0 || v.MaxPeriod < 0 || v.Threshold < 0 {
			errs = append(errs, fmt.Sprintf("variables[%d]: periods and threshold must not be negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DiagnosticsAddr returns host:port for the diagnostics server.
func (c *Config) DiagnosticsAddr() string {
	return fmt.Sprintf("%s:%d", c.Diagnostics.Host, c.Diagnostics.Port)
}
