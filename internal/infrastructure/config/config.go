package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for cync-lan.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Homes    []HomeConfig   `yaml:"homes"`
	API      APIConfig      `yaml:"api"`
	History  HistoryConfig  `yaml:"history"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains the TLS listener settings for device sessions.
//
// Devices are redirected here by DNS override and expect the vendor cloud's
// TLS endpoint, so the certificate is self-signed and never verified by the
// peer; old firmware additionally requires pre-TLS1.3 cipher suites.
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MaxConnections caps concurrent device sessions. Connections beyond
	// the cap are held for BlackholeDelay before being dropped, to dampen
	// reconnect flooding from misbehaving firmware.
	MaxConnections int           `yaml:"max_connections"`
	BlackholeDelay time.Duration `yaml:"blackhole_delay"`

	// Whitelist, when non-empty, restricts sessions to the listed source
	// IPs. Checked before any bytes are read from the connection.
	Whitelist []string `yaml:"whitelist"`

	// ReadTimeout closes sessions that go silent. Devices heartbeat every
	// half minute or so, so minutes of silence means a dead peer.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Topics    MQTTTopicConfig     `yaml:"topics"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTopicConfig contains the topic roots the bridge publishes under.
type MQTTTopicConfig struct {
	// CyncTopic is the root for state, availability and command topics.
	CyncTopic string `yaml:"cync_topic"`
	// HassTopic is the Home Assistant discovery prefix.
	HassTopic string `yaml:"hass_topic"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
// The initial connect retries with a fixed delay; once connected, the
// client library's auto-reconnect takes over.
type MQTTReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// BridgeConfig contains protocol timing and fan-out settings.
type BridgeConfig struct {
	// CommandBroadcasts is the number of device sessions each command is
	// fanned out to (first ACK wins).
	CommandBroadcasts int `yaml:"command_broadcasts"`

	AckTimeout      time.Duration `yaml:"ack_timeout"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	ResendInterval  time.Duration `yaml:"resend_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	PendingTTL      time.Duration `yaml:"pending_ttl"`
	MaxRetries      int           `yaml:"max_retries"`

	// RefreshInterval enables periodic mesh refresh when > 0. Disabled by
	// default; the post-command refresh normally keeps state current.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// MonitorInterval is the cadence of the diagnostic session monitor.
	MonitorInterval time.Duration `yaml:"monitor_interval"`

	KelvinMin int `yaml:"kelvin_min"`
	KelvinMax int `yaml:"kelvin_max"`
}

// HomeConfig describes one Cync home: its devices and groups as exported
// during onboarding. Device identity only ever comes from here; runtime
// state is ephemeral.
type HomeConfig struct {
	ID      int            `yaml:"id"`
	Name    string         `yaml:"name"`
	Devices []DeviceConfig `yaml:"devices"`
	Groups  []GroupConfig  `yaml:"groups"`
}

// DeviceConfig describes one device within a home.
type DeviceConfig struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	Type     int    `yaml:"type"`
	MAC      string `yaml:"mac"`
	WiFiMAC  string `yaml:"wifi_mac"`
	Firmware string `yaml:"firmware"`
	BTOnly   bool   `yaml:"bt_only"`
}

// GroupConfig describes one group within a home. Group IDs share a 16-bit
// space disjoint from device IDs. Subgroups never report their own state
// over the mesh and are aggregated from members.
type GroupConfig struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	Members  []int  `yaml:"members"`
	Subgroup bool   `yaml:"subgroup"`
}

// APIConfig contains the diagnostic HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	Auth     APIAuthConfig    `yaml:"auth"`
	CORS     APICORSConfig    `yaml:"cors"`
}

// APICORSConfig contains Cross-Origin Resource Sharing settings.
// Empty lists fall back to permissive defaults suitable for a LAN
// dashboard talking straight to the bridge.
type APICORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// APIAuthConfig contains the single-operator credential for the API.
// When enabled, mutating endpoints require a bearer token issued by the
// token endpoint against this credential.
type APIAuthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// HistoryConfig contains the optional SQLite state-transition journal
// settings.
type HistoryConfig struct {
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
// Environment variables follow the pattern: CYNC_SECTION_KEY
// For example: CYNC_MQTT_HOST, CYNC_MAX_TCP_CONN
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
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           23779,
			MaxConnections: 64,
			BlackholeDelay: 10 * time.Second,
			ReadTimeout:    5 * time.Minute,
			WriteTimeout:   10 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 0,
			Topics: MQTTTopicConfig{
				CyncTopic: "cync_lan",
				HassTopic: "homeassistant",
			},
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 5 * time.Second,
				MaxAttempts:  0,
			},
		},
		Bridge: BridgeConfig{
			CommandBroadcasts: 3,
			AckTimeout:        2 * time.Second,
			SettleDelay:       500 * time.Millisecond,
			ResendInterval:    500 * time.Millisecond,
			CleanupInterval:   100 * time.Millisecond,
			PendingTTL:        30 * time.Second,
			MaxRetries:        3,
			RefreshInterval:   0,
			MonitorInterval:   30 * time.Second,
			KelvinMin:         2000,
			KelvinMax:         7000,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8124,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Auth: APIAuthConfig{
				TokenTTL: 15 * time.Minute,
			},
		},
		History: HistoryConfig{
			Enabled:     false,
			Path:        "./data/cynclan.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("CYNC_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CYNC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("CYNC_CERT"); v != "" {
		cfg.Server.CertFile = v
	}
	if v := os.Getenv("CYNC_KEY"); v != "" {
		cfg.Server.KeyFile = v
	}
	if v := os.Getenv("CYNC_MAX_TCP_CONN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxConnections = n
		}
	}

	// MQTT
	if v := os.Getenv("CYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CYNC_MQTT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = p
		}
	}
	if v := os.Getenv("CYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("CYNC_TOPIC"); v != "" {
		cfg.MQTT.Topics.CyncTopic = v
	}
	if v := os.Getenv("HASS_TOPIC"); v != "" {
		cfg.MQTT.Topics.HassTopic = v
	}

	// InfluxDB
	if v := os.Getenv("CYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API - token secret (always override in production)
	if v := os.Getenv("CYNC_API_SECRET"); v != "" {
		cfg.API.Auth.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.CertFile == "" {
		errs = append(errs, "server.cert_file is required (devices expect a TLS endpoint)")
	}
	if c.Server.KeyFile == "" {
		errs = append(errs, "server.key_file is required")
	}
	if c.Server.MaxConnections < 1 {
		errs = append(errs, "server.max_connections must be at least 1")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Topics.CyncTopic == "" {
		errs = append(errs, "mqtt.topics.cync_topic is required")
	}
	if c.MQTT.Topics.HassTopic == "" {
		errs = append(errs, "mqtt.topics.hass_topic is required")
	}

	// Bridge validation
	if c.Bridge.CommandBroadcasts < 1 {
		errs = append(errs, "bridge.command_broadcasts must be at least 1")
	}
	if c.Bridge.KelvinMin >= c.Bridge.KelvinMax {
		errs = append(errs, "bridge.kelvin_min must be below bridge.kelvin_max")
	}

	// Home validation: device IDs unique per home, group IDs disjoint from
	// device IDs, members must reference declared devices.
	for _, home := range c.Homes {
		if home.ID <= 0 {
			errs = append(errs, fmt.Sprintf("homes[%q].id must be positive", home.Name))
		}
		deviceIDs := make(map[int]bool, len(home.Devices))
		for _, d := range home.Devices {
			if d.ID < 0 || d.ID > 0xFFFF {
				errs = append(errs, fmt.Sprintf("home %d: device id %d outside 16-bit range", home.ID, d.ID))
				continue
			}
			if deviceIDs[d.ID] {
				errs = append(errs, fmt.Sprintf("home %d: duplicate device id %d", home.ID, d.ID))
			}
			deviceIDs[d.ID] = true
		}
		for _, g := range home.Groups {
			if g.ID < 0 || g.ID > 0xFFFF {
				errs = append(errs, fmt.Sprintf("home %d: group id %d outside 16-bit range", home.ID, g.ID))
				continue
			}
			if deviceIDs[g.ID] {
				errs = append(errs, fmt.Sprintf("home %d: group id %d collides with a device id", home.ID, g.ID))
			}
			for _, m := range g.Members {
				if !deviceIDs[m] {
					errs = append(errs, fmt.Sprintf("home %d: group %d references unknown device %d", home.ID, g.ID, m))
				}
			}
		}
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		// Token forgery on a controller for physical devices is a real
		// risk, so a weak secret fails validation outright.
		const minSecretLength = 32
		if c.API.Auth.Enabled {
			if c.API.Auth.Secret == "" {
				errs = append(errs, "api.auth.secret is required (set CYNC_API_SECRET environment variable)")
			} else if len(c.API.Auth.Secret) < minSecretLength {
				errs = append(errs, "api.auth.secret must be at least 32 characters")
			}
			if c.API.Auth.Username == "" || c.API.Auth.Password == "" {
				errs = append(errs, "api.auth.username and api.auth.password are required when auth is enabled")
			}
		}
	}

	// History validation
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
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
