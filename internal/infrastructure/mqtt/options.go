package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/cynclan/cync-lan/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for one connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultRetryDelay is the fixed delay between connection attempts when
	// the configuration does not set one.
	defaultRetryDelay = 5 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure broker connections.
	tlsMinVersion = tls.VersionTLS12
)

// newClientID generates the broker client identifier. Each process run gets
// a fresh UUID suffix so a restarted bridge never collides with its own
// half-dead previous session on the broker.
func newClientID() string {
	return "cync_lan_" + uuid.NewString()
}

// buildClientOptions creates paho MQTT options from cync-lan config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Generated client ID (cync_lan_${uuid})
//   - Authentication credentials (if provided)
//   - Auto-reconnect with a fixed retry interval
//   - TLS configuration (if enabled)
//   - Clean session mode
//
// Initial-connect retry is deliberately left to the caller (see Connect):
// paho owns reconnection only after a session has been established once.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	// Broker URL
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
	opts.AddBroker(brokerURL)

	// Client identification
	opts.SetClientID(clientID)

	// Authentication (if credentials provided)
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	// Auto-reconnect with a fixed interval. Device state keeps flowing into
	// the in-memory store while the broker is away, so aggressive backoff
	// growth buys nothing here.
	retryDelay := cfg.Reconnect.InitialDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(retryDelay)

	// Connection timeout
	opts.SetConnectTimeout(defaultConnectTimeout)

	// Keepalive - broker sends PINGs to detect dead connections
	opts.SetKeepAlive(defaultKeepAlive)

	// TLS configuration if enabled
	if cfg.Broker.TLS {
		tlsConfig := &tls.Config{
			MinVersion: tlsMinVersion,
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes a retained "offline" on the connected topic if the
// client disconnects unexpectedly (crash, network failure). Home Assistant
// entities that reference the topic flip unavailable without waiting for
// per-device availability churn.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, qos byte) {
	opts.SetWill(topics.Connected(), payloadOffline, qos, true)
}

// Liveness payloads on the connected topic. Lowercase matches the
// availability payloads Home Assistant defaults expect.
const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)
