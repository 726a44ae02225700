package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReconnectInterval is the fixed period between push reconnection attempts.
// Polling covers the gap while the push channel is down.
const ReconnectInterval = 5 * time.Minute

// defaultStaleAfter applies when location.stale_after is left at zero.
// Measured against upstream observation times, so it must exceed the
// reporting period of the quietest sensor.
const defaultStaleAfter = 24 * time.Hour

// Config is the root configuration structure for homely-sync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Homely    HomelyConfig    `yaml:"homely"`
	Location  LocationConfig  `yaml:"location"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HomelyConfig contains the cloud API endpoints and account credentials.
type HomelyConfig struct {
	BaseURL        string `yaml:"base_url"`
	SocketURL      string `yaml:"socket_url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds
}

// LocationConfig selects which account location this instance manages and
// how it is kept in sync.
type LocationConfig struct {
	// HomeIndex picks an entry from the account's location list.
	HomeIndex int `yaml:"home_index"`

	// PollInterval is the REST polling period in seconds.
	// Default: 120
	PollInterval int `yaml:"poll_interval"`

	// WebSocketEnabled toggles the push channel. Polling always runs.
	// Default: true
	WebSocketEnabled bool `yaml:"websocket_enabled"`

	// StaleAfter flags devices whose newest upstream observation is older
	// than this many seconds. Zero means 24 hours.
	StaleAfter int `yaml:"stale_after"`
}

// DatabaseConfig contains SQLite settings for the change history.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// APIConfig contains the read-only HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the live change stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// RedisConfig contains settings for the snapshot mirror.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	TTL       int    `yaml:"ttl"` // seconds, 0 keeps keys forever
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
// Environment variables follow the pattern: HOMELYSYNC_SECTION_KEY
// For example: HOMELYSYNC_HOMELY_USERNAME, HOMELYSYNC_LOCATION_POLL_INTERVAL
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

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Homely: HomelyConfig{
			BaseURL:        "https://sdk.iotiliti.cloud/homely/",
			SocketURL:      "wss://sdk.iotiliti.cloud/socket.io/",
			RequestTimeout: 30,
		},
		Location: LocationConfig{
			HomeIndex:        0,
			PollInterval:     120,
			WebSocketEnabled: true,
		},
		Database: DatabaseConfig{
			Path:        "./data/homely-sync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "homely-sync",
			},
			QoS:         1,
			TopicPrefix: "homely",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "homely",
			TTL:       900,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HOMELYSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}

	// Homely account
	setString("HOMELYSYNC_HOMELY_USERNAME", &cfg.Homely.Username)
	setString("HOMELYSYNC_HOMELY_PASSWORD", &cfg.Homely.Password)

	// Location
	setInt("HOMELYSYNC_LOCATION_HOME_INDEX", &cfg.Location.HomeIndex)
	setInt("HOMELYSYNC_LOCATION_POLL_INTERVAL", &cfg.Location.PollInterval)
	setBool("HOMELYSYNC_LOCATION_WEBSOCKET_ENABLED", &cfg.Location.WebSocketEnabled)

	// Sinks
	setString("HOMELYSYNC_DATABASE_PATH", &cfg.Database.Path)
	setString("HOMELYSYNC_MQTT_HOST", &cfg.MQTT.Broker.Host)
	setString("HOMELYSYNC_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("HOMELYSYNC_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	setString("HOMELYSYNC_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)
	setString("HOMELYSYNC_REDIS_ADDR", &cfg.Redis.Addr)
	setString("HOMELYSYNC_REDIS_PASSWORD", &cfg.Redis.Password)

	// API and logging
	setString("HOMELYSYNC_API_HOST", &cfg.API.Host)
	setString("HOMELYSYNC_LOGGING_LEVEL", &cfg.Logging.Level)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Homely account
	if c.Homely.BaseURL == "" {
		errs = append(errs, "homely.base_url is required")
	}
	if c.Location.WebSocketEnabled && c.Homely.SocketURL == "" {
		errs = append(errs, "homely.socket_url is required when location.websocket_enabled is true")
	}
	if c.Homely.Username == "" {
		errs = append(errs, "homely.username is required (set HOMELYSYNC_HOMELY_USERNAME)")
	}
	if c.Homely.Password == "" {
		errs = append(errs, "homely.password is required (set HOMELYSYNC_HOMELY_PASSWORD)")
	}
	if c.Homely.RequestTimeout <= 0 {
		errs = append(errs, "homely.request_timeout must be positive")
	}

	// Location
	if c.Location.HomeIndex < 0 {
		errs = append(errs, "location.home_index must not be negative")
	}
	if c.Location.PollInterval <= 0 {
		errs = append(errs, "location.poll_interval must be a positive number of seconds")
	}
	if c.Location.StaleAfter < 0 {
		errs = append(errs, "location.stale_after must not be negative")
	}

	// Sinks
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled is true")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt.enabled is true")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis.enabled is true")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollInterval returns the REST polling period as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Location.PollInterval) * time.Second
}

// StaleAfter returns the device staleness threshold as a Duration.
func (c *Config) StaleAfter() time.Duration {
	if c.Location.StaleAfter > 0 {
		return time.Duration(c.Location.StaleAfter) * time.Second
	}
	return defaultStaleAfter
}

// RequestTimeout returns the cloud API request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Homely.RequestTimeout) * time.Second
}
