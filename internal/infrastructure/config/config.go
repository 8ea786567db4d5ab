package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the WyzeSense bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Topics    TopicsConfig    `yaml:"topics"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Retain    bool                `yaml:"retain"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	TLS          bool   `yaml:"tls"`
	ClientID     string `yaml:"client_id"`
	KeepAlive    int    `yaml:"keepalive"` // seconds
	CleanSession bool   `yaml:"clean_session"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// TopicsConfig holds the topic names and prefixes used on the broker.
// Prefixes are concatenated with identifiers as-is, so they normally end in "/".
type TopicsConfig struct {
	// Publish is the telemetry prefix; the sensor MAC is appended.
	Publish string `yaml:"publish"`

	// ScanResult receives {"macs": [...]} after a scan that found new sensors.
	ScanResult string `yaml:"scan_result"`

	// Scan is the inbound "start scan" command topic.
	Scan string `yaml:"scan"`

	// Remove is the inbound "remove sensor" command topic.
	Remove string `yaml:"remove"`

	// Discovery is the Home Assistant discovery prefix.
	Discovery string `yaml:"discovery"`
}

// DiscoveryConfig controls Home Assistant discovery announcements.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// GatewayConfig contains settings for the USB sensor gateway.
type GatewayConfig struct {
	// Device is the dongle path. /dev/hidraw* is opened as a raw HID device,
	// anything else as a serial port.
	Device string `yaml:"device"`

	// BaudRate applies to serial devices only.
	BaudRate int `yaml:"baud_rate"`

	// CommandTimeout bounds a single dongle command round trip.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// ScanTimeout is how long the pairing window stays open.
	ScanTimeout time.Duration `yaml:"scan_timeout"`

	// HealthCheckInterval is how often the open session is probed.
	// Zero disables probing; the session is then only replaced when it fails.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// EventQueueSize bounds the sensor events waiting for translation.
	EventQueueSize int `yaml:"event_queue_size"`

	Reconnect GatewayReconnectConfig `yaml:"reconnect"`
}

// GatewayReconnectConfig controls the backoff used to (re)open the gateway.
// Attempts never stop; only shutdown ends the loop.
type GatewayReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`

	// Jitter is the randomisation factor in [0,1). Zero gives the exact
	// 1s, 2s, 4s... schedule.
	Jitter float64 `yaml:"jitter"`
}

// DatabaseConfig contains SQLite database settings for the sensor inventory.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

	// ReportInterval is how often bridge counters are written.
	ReportInterval time.Duration `yaml:"report_interval"`
}

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains the rolling debug log settings.
// An empty Path disables the file.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults)
//  3. Environment variables (override file values)
//
// A path ending in ".json" is read as a legacy wyzesense2mqtt config.json.
// Anything else is parsed as YAML.
//
// Environment variables follow the pattern: WYZESENSE_SECTION_KEY
// For example: WYZESENSE_MQTT_HOST, WYZESENSE_GATEWAY_DEVICE
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := applyLegacyJSON(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing legacy config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the defaults of a stock wyzesense2mqtt install.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:         "localhost",
				Port:         1883,
				ClientID:     "wyzesense2mqtt",
				KeepAlive:    60,
				CleanSession: true,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Topics: TopicsConfig{
			Publish:    "wyzesense2mqtt/",
			ScanResult: "wyzesense2mqtt/scan_result",
			Scan:       "wyzesense2mqtt/scan",
			Remove:     "wyzesense2mqtt/remove",
			Discovery:  "homeassistant/",
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
		},
		Gateway: GatewayConfig{
			Device:              "/dev/hidraw0",
			BaudRate:            115200,
			CommandTimeout:      2 * time.Second,
			ScanTimeout:         60 * time.Second,
			HealthCheckInterval: 30 * time.Second,
			EventQueueSize:      100,
			Reconnect: GatewayReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     10 * time.Second,
				Multiplier:   2,
			},
		},
		Database: DatabaseConfig{
			Enabled:     false,
			Path:        "./data/wyzesense.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:      100,
			FlushInterval:  10,
			ReportInterval: time.Minute,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "logs/wyzesense2mqtt.log",
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("WYZESENSE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WYZESENSE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WYZESENSE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Gateway
	if v := os.Getenv("WYZESENSE_GATEWAY_DEVICE"); v != "" {
		cfg.Gateway.Device = v
	}

	// Database
	if v := os.Getenv("WYZESENSE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("WYZESENSE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("WYZESENSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.Broker.KeepAlive < 0 {
		errs = append(errs, "mqtt.broker.keepalive must not be negative")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Topic validation
	if c.Topics.Publish == "" {
		errs = append(errs, "topics.publish is required")
	}
	if c.Topics.ScanResult == "" {
		errs = append(errs, "topics.scan_result is required")
	}
	if c.Topics.Scan == "" {
		errs = append(errs, "topics.scan is required")
	}
	if c.Topics.Remove == "" {
		errs = append(errs, "topics.remove is required")
	}
	if c.Discovery.Enabled && c.Topics.Discovery == "" {
		errs = append(errs, "topics.discovery is required when discovery is enabled")
	}

	// Gateway validation
	errs = append(errs, c.Gateway.validate()...)

	// Optional integrations
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (g GatewayConfig) validate() []string {
	var errs []string

	if g.Device == "" {
		errs = append(errs, "gateway.device is required")
	}
	if g.CommandTimeout <= 0 {
		errs = append(errs, "gateway.command_timeout must be positive")
	}
	if g.ScanTimeout <= 0 {
		errs = append(errs, "gateway.scan_timeout must be positive")
	}
	if g.HealthCheckInterval < 0 {
		errs = append(errs, "gateway.health_check_interval must not be negative")
	}
	if g.EventQueueSize < 1 {
		errs = append(errs, "gateway.event_queue_size must be at least 1")
	}

	r := g.Reconnect
	if r.InitialDelay <= 0 {
		errs = append(errs, "gateway.reconnect.initial_delay must be positive")
	}
	if r.MaxDelay < r.InitialDelay {
		errs = append(errs, "gateway.reconnect.max_delay must be >= initial_delay")
	}
	if r.Multiplier < 1 {
		errs = append(errs, "gateway.reconnect.multiplier must be >= 1")
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		errs = append(errs, "gateway.reconnect.jitter must be in [0, 1)")
	}

	return errs
}

// ReadTimeout returns the read timeout as a Duration.
func (a APIConfig) ReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// WriteTimeout returns the write timeout as a Duration.
func (a APIConfig) WriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// IdleTimeout returns the idle timeout as a Duration.
func (a APIConfig) IdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}
