package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GRAYHUB_"

// Config is the root configuration structure for the hub.
// It is loaded from YAML and can be overridden by GRAYHUB_* environment variables.
type Config struct {
	Site      SiteConfig     `yaml:"site" envPrefix:"SITE_"`
	API       APIConfig      `yaml:"api" envPrefix:"API_"`
	Auth      AuthConfig     `yaml:"auth" envPrefix:"AUTH_"`
	Database  DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	MQTT      MQTTConfig     `yaml:"mqtt" envPrefix:"MQTT_"`
	InfluxDB  InfluxDBConfig `yaml:"influxdb" envPrefix:"INFLUXDB_"`
	Tracing   TracingConfig  `yaml:"tracing" envPrefix:"TRACING_"`
	Logging   LoggingConfig  `yaml:"logging" envPrefix:"LOGGING_"`
	Audit     AuditConfig    `yaml:"audit" envPrefix:"AUDIT_"`
	ConfigDir string         `yaml:"config_dir" env:"CONFIG_DIR"`

	Credentials CredentialsConfig `yaml:"application_credentials" envPrefix:"CREDENTIALS_"`
}

// SiteConfig describes the installation, as reported by get_config.
type SiteConfig struct {
	Name         string  `yaml:"name" env:"NAME"`
	LocationName string  `yaml:"location_name" env:"LOCATION_NAME"`
	Latitude     float64 `yaml:"latitude" env:"LATITUDE"`
	Longitude    float64 `yaml:"longitude" env:"LONGITUDE"`
	Elevation    int     `yaml:"elevation" env:"ELEVATION"`
	UnitSystem   string  `yaml:"unit_system" env:"UNIT_SYSTEM"`
	TimeZone     string  `yaml:"time_zone" env:"TIME_ZONE"`
	Currency     string  `yaml:"currency" env:"CURRENCY"`
	Country      string  `yaml:"country" env:"COUNTRY"`
	Language     string  `yaml:"language" env:"LANGUAGE"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host" env:"HOST"`
	Port      int              `yaml:"port" env:"PORT"`
	Timeouts  APITimeoutConfig `yaml:"timeouts" envPrefix:"TIMEOUT_"`
	CORS      CORSConfig       `yaml:"cors" envPrefix:"CORS_"`
	WebSocket WebSocketConfig  `yaml:"websocket" envPrefix:"WS_"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read" env:"READ"`
	Write int `yaml:"write" env:"WRITE"`
	Idle  int `yaml:"idle" env:"IDLE"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path" env:"PATH"`
	MaxMessageSize int    `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	PingInterval   int    `yaml:"ping_interval" env:"PING_INTERVAL"`
	PongTimeout    int    `yaml:"pong_timeout" env:"PONG_TIMEOUT"`
	AuthTimeout    int    `yaml:"auth_timeout" env:"AUTH_TIMEOUT"`
	SendBuffer     int    `yaml:"send_buffer" env:"SEND_BUFFER"`
}

// AuthConfig contains access token settings.
type AuthConfig struct {
	JWTSecret      string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	AccessTokenTTL int      `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL"`
	LongLivedToken []string `yaml:"long_lived_tokens" env:"LONG_LIVED_TOKENS"`
	TokenCacheTTL  int      `yaml:"token_cache_ttl" env:"TOKEN_CACHE_TTL"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"PATH"`
	WALMode     bool   `yaml:"wal_mode" env:"WAL_MODE"`
	BusyTimeout int    `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled        bool                `yaml:"enabled" env:"ENABLED"`
	Broker         MQTTBrokerConfig    `yaml:"broker"`
	Auth           MQTTAuthConfig      `yaml:"auth"`
	QoS            int                 `yaml:"qos" env:"QOS"`
	TopicPrefix    string              `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`
	BridgeServices bool                `yaml:"bridge_services" env:"BRIDGE_SERVICES"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	TLS      bool   `yaml:"tls" env:"TLS"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     int `yaml:"max_delay" env:"MAX_DELAY"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	Token         string `yaml:"token" env:"TOKEN"`
	Org           string `yaml:"org" env:"ORG"`
	Bucket        string `yaml:"bucket" env:"BUCKET"`
	BatchSize     int    `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushInterval int    `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Exporter    string  `yaml:"exporter" env:"EXPORTER"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// AuditConfig controls the audit log recorder.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// CredentialsConfig lists the integrations that accept application
// credentials and the OAuth2 authorization server of each.
type CredentialsConfig struct {
	// RedirectURL is the default callback for authorization flows.
	RedirectURL string                          `yaml:"redirect_url" env:"REDIRECT_URL"`
	Domains     map[string]OAuth2EndpointConfig `yaml:"domains"`
}

// OAuth2EndpointConfig is one domain's authorization server.
type OAuth2EndpointConfig struct {
	AuthorizeURL string `yaml:"authorize_url"`
	TokenURL     string `yaml:"token_url"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values
//  2. YAML file values (a missing file is allowed when path is empty)
//  3. GRAYHUB_* environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			Name:         "Home",
			LocationName: "Home",
			UnitSystem:   "metric",
			TimeZone:     "UTC",
			Currency:     "EUR",
			Language:     "en",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8123,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/api/websocket",
				MaxMessageSize: 1 << 20,
				PingInterval:   30,
				PongTimeout:    10,
				AuthTimeout:    10,
				SendBuffer:     256,
			},
		},
		Auth: AuthConfig{
			AccessTokenTTL: 30,
			TokenCacheTTL:  300,
		},
		Database: DatabaseConfig{
			Path:        "./data/grayhub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "grayhub",
			},
			QoS:         1,
			TopicPrefix: "grayhub",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "grayhub",
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Audit: AuditConfig{Enabled: true},
	}
}

// applyEnvOverrides applies GRAYHUB_* variables, e.g. GRAYHUB_API_PORT or
// GRAYHUB_MQTT_HOST.
func applyEnvOverrides(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.WebSocket.Path == "" || !strings.HasPrefix(c.API.WebSocket.Path, "/") {
		errs = append(errs, "api.websocket.path must start with /")
	}
	if c.API.WebSocket.SendBuffer < 1 {
		errs = append(errs, "api.websocket.send_buffer must be positive")
	}
	if c.API.WebSocket.AuthTimeout < 1 {
		errs = append(errs, "api.websocket.auth_timeout must be positive")
	}

	const minJWTSecretLength = 32
	switch {
	case c.Auth.JWTSecret == "" && len(c.Auth.LongLivedToken) == 0:
		errs = append(errs, "auth.jwt_secret or auth.long_lived_tokens is required (set GRAYHUB_AUTH_JWT_SECRET)")
	case c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength:
		errs = append(errs, "auth.jwt_secret must be at least 32 characters")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Tracing.Enabled {
		if c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "otlp" {
			errs = append(errs, "tracing.exporter must be stdout or otlp")
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			errs = append(errs, "tracing.sample_ratio must be between 0 and 1")
		}
	}

	if c.ConfigDir != "" {
		if info, err := os.Stat(c.ConfigDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Sprintf("config_dir: %v", err))
		} else if err == nil && !info.IsDir() {
			errs = append(errs, "config_dir must be a directory")
		}
	}

	if c.Credentials.RedirectURL != "" && !absoluteURL(c.Credentials.RedirectURL) {
		errs = append(errs, "application_credentials.redirect_url must be an absolute URL")
	}
	for _, domain := range slices.Sorted(maps.Keys(c.Credentials.Domains)) {
		ep := c.Credentials.Domains[domain]
		if !absoluteURL(ep.AuthorizeURL) || !absoluteURL(ep.TokenURL) {
			errs = append(errs, fmt.Sprintf("application_credentials.domains.%s needs absolute authorize_url and token_url", domain))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Addr returns the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
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

// AccessTokenTTL returns the lifetime of issued access tokens.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenTTL) * time.Minute
}
