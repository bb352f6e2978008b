package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for mqttlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
//
// The connection manager takes a snapshot of this struct at the start of
// every connect attempt; edits made afterwards apply to the next attempt.
type MQTTConfig struct {
	Broker       MQTTBrokerConfig       `yaml:"broker"`
	Auth         MQTTAuthConfig         `yaml:"auth"`
	Session      MQTTSessionConfig      `yaml:"session"`
	Subscription MQTTSubscriptionConfig `yaml:"subscription"`
	Will         MQTTWillConfig         `yaml:"will"`
	Timeouts     MQTTTimeoutConfig      `yaml:"timeouts"`

	// QoS is the default publish QoS used when a caller does not pick one.
	QoS int `yaml:"qos"`

	// QueueSize bounds the inbound message queue between the transport and the router.
	QueueSize int `yaml:"queue_size"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`

	// ClientIDPrefix is used when ClientID is blank and one must be generated.
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTSessionConfig contains MQTT session parameters.
type MQTTSessionConfig struct {
	KeepAlive    int  `yaml:"keep_alive"` // seconds
	CleanSession bool `yaml:"clean_session"`
}

// MQTTSubscriptionConfig is the subscription issued after every successful connect.
type MQTTSubscriptionConfig struct {
	Filter string `yaml:"filter"`
	QoS    int    `yaml:"qos"`
}

// MQTTWillConfig is the optional Last Will and Testament.
// The will is only configured when Topic is set.
type MQTTWillConfig struct {
	Topic    string `yaml:"topic"`
	Payload  string `yaml:"payload"`
	QoS      int    `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

// MQTTTimeoutConfig contains MQTT operation timeouts.
type MQTTTimeoutConfig struct {
	Connect           int `yaml:"connect"`            // seconds
	Publish           int `yaml:"publish"`            // seconds
	DisconnectQuiesce int `yaml:"disconnect_quiesce"` // milliseconds
}

// DatabaseConfig contains SQLite message journal settings.
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
}

// APIConfig contains HTTP control surface settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: MQTTLINK_SECTION_KEY
// For example: MQTTLINK_MQTT_HOST, MQTTLINK_DATABASE_PATH
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

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:           "localhost",
				Port:           1883,
				ClientIDPrefix: "mqttlink",
			},
			Session: MQTTSessionConfig{
				KeepAlive:    60,
				CleanSession: true,
			},
			Subscription: MQTTSubscriptionConfig{
				Filter: "#",
				QoS:    0,
			},
			Timeouts: MQTTTimeoutConfig{
				Connect:           10,
				Publish:           5,
				DisconnectQuiesce: 250,
			},
			QoS:       0,
			QueueSize: 256,
		},
		Database: DatabaseConfig{
			Enabled:     false,
			Path:        "./data/mqttlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8090,
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("MQTTLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTTLINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MQTTLINK_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("MQTTLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTTLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("MQTTLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MQTTLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("MQTTLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if strings.TrimSpace(c.MQTT.Broker.Host) == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Subscription.QoS < 0 || c.MQTT.Subscription.QoS > 2 {
		errs = append(errs, "mqtt.subscription.qos must be 0, 1, or 2")
	}
	if strings.TrimSpace(c.MQTT.Subscription.Filter) == "" {
		errs = append(errs, "mqtt.subscription.filter is required")
	}
	if c.MQTT.Will.Topic != "" && (c.MQTT.Will.QoS < 0 || c.MQTT.Will.QoS > 2) {
		errs = append(errs, "mqtt.will.qos must be 0, 1, or 2")
	}
	if c.MQTT.Session.KeepAlive < 0 {
		errs = append(errs, "mqtt.session.keep_alive must not be negative")
	}
	if c.MQTT.Timeouts.Connect <= 0 {
		errs = append(errs, "mqtt.timeouts.connect must be positive")
	}
	if c.MQTT.Timeouts.Publish <= 0 {
		errs = append(errs, "mqtt.timeouts.publish must be positive")
	}
	if c.MQTT.QueueSize <= 0 {
		errs = append(errs, "mqtt.queue_size must be positive")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ConnectTimeout returns the MQTT connect timeout as a Duration.
func (c MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.Timeouts.Connect) * time.Second
}

// PublishTimeout returns the MQTT publish acknowledgement timeout as a Duration.
func (c MQTTConfig) PublishTimeout() time.Duration {
	return time.Duration(c.Timeouts.Publish) * time.Second
}

// DisconnectQuiesce returns the time allowed for in-flight work on disconnect.
func (c MQTTConfig) DisconnectQuiesce() time.Duration {
	return time.Duration(c.Timeouts.DisconnectQuiesce) * time.Millisecond
}

// KeepAlive returns the MQTT keepalive interval as a Duration.
func (c MQTTConfig) KeepAlive() time.Duration {
	return time.Duration(c.Session.KeepAlive) * time.Second
}

// ReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
