package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// validConfig returns a configuration that passes Validate, for tests to
// mutate into specific failure shapes.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Server.CertFile = "/etc/cync/cert.pem"
	cfg.Server.KeyFile = "/etc/cync/key.pem"
	cfg.Homes = []HomeConfig{
		{
			ID:   1001,
			Name: "Home",
			Devices: []DeviceConfig{
				{ID: 7, Name: "Hall Light", Type: 146},
				{ID: 9, Name: "Porch Plug", Type: 65},
			},
			Groups: []GroupConfig{
				{ID: 256, Name: "Hallway", Members: []int{7}},
				{ID: 32768, Name: "Hallway Sub", Members: []int{7, 9}, Subgroup: true},
			},
		},
	}
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  port: 23779
  cert_file: "/etc/cync/cert.pem"
  key_file: "/etc/cync/key.pem"
mqtt:
  broker:
    host: "mqtt.lan"
    port: 1883
  topics:
    cync_topic: "cync_lan"
    hass_topic: "homeassistant"
bridge:
  ack_timeout: 3s
homes:
  - id: 1001
    name: "Home"
    devices:
      - id: 7
        name: "Hall Light"
        type: 146
        mac: "34:20:03:aa:bb:cc"
    groups:
      - id: 256
        name: "Hallway"
        members: [7]
      - id: 32768
        name: "Hallway Sub"
        members: [7]
        subgroup: true
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

	if cfg.Server.Port != 23779 {
		t.Errorf("Server.Port = %d, want 23779", cfg.Server.Port)
	}

	if cfg.MQTT.Broker.Host != "mqtt.lan" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.lan")
	}

	if len(cfg.Homes) != 1 {
		t.Fatalf("len(Homes) = %d, want 1", len(cfg.Homes))
	}

	home := cfg.Homes[0]
	if home.ID != 1001 {
		t.Errorf("Homes[0].ID = %d, want 1001", home.ID)
	}
	if len(home.Devices) != 1 || home.Devices[0].ID != 7 {
		t.Errorf("Homes[0].Devices = %+v, want single device id 7", home.Devices)
	}
	if len(home.Groups) != 2 {
		t.Fatalf("len(Homes[0].Groups) = %d, want 2", len(home.Groups))
	}
	if !home.Groups[1].Subgroup {
		t.Error("Groups[1].Subgroup = false, want true")
	}

	// Duration strings decode, and defaults survive a partial file.
	if cfg.Bridge.AckTimeout != 3*time.Second {
		t.Errorf("Bridge.AckTimeout = %v, want 3s", cfg.Bridge.AckTimeout)
	}
	if cfg.Bridge.CommandBroadcasts != 3 {
		t.Errorf("Bridge.CommandBroadcasts = %d, want default 3", cfg.Bridge.CommandBroadcasts)
	}
	if cfg.Bridge.SettleDelay != 500*time.Millisecond {
		t.Errorf("Bridge.SettleDelay = %v, want 500ms", cfg.Bridge.SettleDelay)
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
	// No cert/key: devices cannot connect without a TLS endpoint.
	content := `
server:
  port: 23779
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for missing TLS material, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing cert file",
			mutate:  func(c *Config) { c.Server.CertFile = "" },
			wantErr: true,
		},
		{
			name:    "missing key file",
			mutate:  func(c *Config) { c.Server.KeyFile = "" },
			wantErr: true,
		},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "zero max connections",
			mutate:  func(c *Config) { c.Server.MaxConnections = 0 },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "empty cync topic",
			mutate:  func(c *Config) { c.MQTT.Topics.CyncTopic = "" },
			wantErr: true,
		},
		{
			name:    "zero command broadcasts",
			mutate:  func(c *Config) { c.Bridge.CommandBroadcasts = 0 },
			wantErr: true,
		},
		{
			name:    "inverted kelvin range",
			mutate:  func(c *Config) { c.Bridge.KelvinMin = 7000; c.Bridge.KelvinMax = 2000 },
			wantErr: true,
		},
		{
			name: "duplicate device id",
			mutate: func(c *Config) {
				c.Homes[0].Devices = append(c.Homes[0].Devices, DeviceConfig{ID: 7, Name: "Dup"})
			},
			wantErr: true,
		},
		{
			name: "group id collides with device id",
			mutate: func(c *Config) {
				c.Homes[0].Groups[0].ID = 7
			},
			wantErr: true,
		},
		{
			name: "group references unknown device",
			mutate: func(c *Config) {
				c.Homes[0].Groups[0].Members = []int{99}
			},
			wantErr: true,
		},
		{
			name: "device id outside 16-bit range",
			mutate: func(c *Config) {
				c.Homes[0].Devices[0].ID = 70000
			},
			wantErr: true,
		},
		{
			name: "api auth enabled without secret",
			mutate: func(c *Config) {
				c.API.Auth.Enabled = true
				c.API.Auth.Username = "admin"
				c.API.Auth.Password = "secret"
			},
			wantErr: true,
		},
		{
			name: "api auth secret too short",
			mutate: func(c *Config) {
				c.API.Auth.Enabled = true
				c.API.Auth.Username = "admin"
				c.API.Auth.Password = "secret"
				c.API.Auth.Secret = "short"
			},
			wantErr: true,
		},
		{
			name: "api auth fully configured",
			mutate: func(c *Config) {
				c.API.Auth.Enabled = true
				c.API.Auth.Username = "admin"
				c.API.Auth.Password = "secret"
				c.API.Auth.Secret = "test-secret-key-at-least-32-chars!"
			},
			wantErr: false,
		},
		{
			name: "history enabled without path",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.History.Path = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("CYNC_HOST", "192.168.1.10")
	t.Setenv("CYNC_PORT", "23780")
	t.Setenv("CYNC_CERT", "/custom/cert.pem")
	t.Setenv("CYNC_KEY", "/custom/key.pem")
	t.Setenv("CYNC_MAX_TCP_CONN", "16")
	t.Setenv("CYNC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("CYNC_MQTT_USERNAME", "testuser")
	t.Setenv("CYNC_MQTT_PASSWORD", "testpass")
	t.Setenv("CYNC_TOPIC", "cync_custom")
	t.Setenv("HASS_TOPIC", "ha_custom")
	t.Setenv("CYNC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("CYNC_API_SECRET", "api-secret")

	applyEnvOverrides(cfg)

	if cfg.Server.Host != "192.168.1.10" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "192.168.1.10")
	}

	if cfg.Server.Port != 23780 {
		t.Errorf("Server.Port = %d, want 23780", cfg.Server.Port)
	}

	if cfg.Server.CertFile != "/custom/cert.pem" {
		t.Errorf("Server.CertFile = %q, want %q", cfg.Server.CertFile, "/custom/cert.pem")
	}

	if cfg.Server.MaxConnections != 16 {
		t.Errorf("Server.MaxConnections = %d, want 16", cfg.Server.MaxConnections)
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.MQTT.Topics.CyncTopic != "cync_custom" {
		t.Errorf("MQTT.Topics.CyncTopic = %q, want %q", cfg.MQTT.Topics.CyncTopic, "cync_custom")
	}

	if cfg.MQTT.Topics.HassTopic != "ha_custom" {
		t.Errorf("MQTT.Topics.HassTopic = %q, want %q", cfg.MQTT.Topics.HassTopic, "ha_custom")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.API.Auth.Secret != "api-secret" {
		t.Errorf("API.Auth.Secret = %q, want %q", cfg.API.Auth.Secret, "api-secret")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 23779 {
		t.Errorf("defaultConfig Server.Port = %d, want 23779", cfg.Server.Port)
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.MQTT.Topics.CyncTopic != "cync_lan" {
		t.Errorf("defaultConfig CyncTopic = %q, want %q", cfg.MQTT.Topics.CyncTopic, "cync_lan")
	}

	if cfg.MQTT.Topics.HassTopic != "homeassistant" {
		t.Errorf("defaultConfig HassTopic = %q, want %q", cfg.MQTT.Topics.HassTopic, "homeassistant")
	}

	if cfg.Bridge.CommandBroadcasts != 3 {
		t.Errorf("defaultConfig CommandBroadcasts = %d, want 3", cfg.Bridge.CommandBroadcasts)
	}

	if cfg.Bridge.AckTimeout != 2*time.Second {
		t.Errorf("defaultConfig AckTimeout = %v, want 2s", cfg.Bridge.AckTimeout)
	}

	if cfg.Bridge.PendingTTL != 30*time.Second {
		t.Errorf("defaultConfig PendingTTL = %v, want 30s", cfg.Bridge.PendingTTL)
	}

	if cfg.Bridge.KelvinMin != 2000 || cfg.Bridge.KelvinMax != 7000 {
		t.Errorf("defaultConfig kelvin range = %d..%d, want 2000..7000",
			cfg.Bridge.KelvinMin, cfg.Bridge.KelvinMax)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	write := func(port int) {
		content := `
server:
  port: ` + strconv.Itoa(port) + `
  cert_file: "/etc/cync/cert.pem"
  key_file: "/etc/cync/key.pem"
`
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
	}

	write(23779)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 1)
	go func() {
		_ = Watch(ctx, configPath, func(c *Config) {
			select {
			case changed <- c:
			default:
			}
		}, nil)
	}()

	// Give the watcher a moment to establish, then modify.
	time.Sleep(100 * time.Millisecond)
	write(23780)

	select {
	case cfg := <-changed:
		if cfg.Server.Port != 23780 {
			t.Errorf("reloaded Server.Port = %d, want 23780", cfg.Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not report the config change")
	}
}
