package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cynclan/cync-lan/internal/infrastructure/config"
	"github.com/cynclan/cync-lan/internal/infrastructure/metrics"
)

// Client is cync-lan's broker link, wrapping paho.mqtt.golang.
//
// It layers three things on paho: a fixed-interval initial connect
// retry, subscription replay after reconnect, and the retained
// online/offline contract on the connected topic. Safe for concurrent
// use.
type Client struct {
	client   pahomqtt.Client
	options  *pahomqtt.ClientOptions
	cfg      config.MQTTConfig
	topics   Topics
	clientID string

	// subscriptions is the reconnect-replay table.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	// Connection event callbacks, optional.
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger receives handler panics and errors when set.
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the slice of logging.Logger this package needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. Paho runs it on its own
// goroutine; a returned error is logged without affecting broker-side
// acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker, arms the LWT on the connected topic, and
// retries at a fixed interval until ctx ends or the configured attempt
// limit is hit. On success a retained "online" replaces any stale LWT.
//
// Devices keep operating and state keeps reconciling while the broker
// is unreachable, so a slow broker start only delays MQTT visibility.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	clientID := newClientID()
	topics := NewTopics(cfg.Topics)

	opts := buildClientOptions(cfg, clientID)
	configureLWT(opts, topics, byte(cfg.QoS))

	c := &Client{
		cfg:           cfg,
		options:       opts,
		topics:        topics,
		clientID:      clientID,
		subscriptions: make(map[string]subscription),
	}

	// Set up connection callbacks
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)

	// Fixed-interval retry for the initial connection. Bad credentials
	// and unreachable brokers look identical here; the attempt limit
	// (when set) turns a misconfiguration into a startup failure instead
	// of a silent retry loop.
	attempt := func() error {
		token := c.client.Connect()
		if !token.WaitTimeout(defaultConnectTimeout) {
			return fmt.Errorf("timeout after %v", defaultConnectTimeout)
		}
		return token.Error()
	}

	retryDelay := cfg.Reconnect.InitialDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	var policy backoff.BackOff = backoff.NewConstantBackOff(retryDelay)
	if cfg.Reconnect.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(cfg.Reconnect.MaxAttempts))
	}
	policy = backoff.WithContext(policy, ctx)

	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Paho fires OnConnectHandler asynchronously; mark connected here so
	// IsConnected() is true the moment Connect returns. The handler still
	// does the replay and online publish.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// ClientID returns the generated broker client identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// handleConnect runs on initial connect and every paho reconnect:
// replay subscriptions, counter the LWT, then notify.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	metrics.MQTTConnected.Set(1)

	c.restoreSubscriptions()
	c.publishOnlineStatus()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	metrics.MQTTConnected.Set(0)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions replays the subscription table. Errors are
// dropped; paho retries the connection itself if the link is bad.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// publishOnlineStatus publishes a retained "online" to the connected topic,
// countering the retained LWT from any previous crash.
func (c *Client) publishOnlineStatus() {
	c.client.Publish(c.topics.Connected(), byte(c.cfg.QoS), true, payloadOnline)
}

// Close publishes a retained "offline" (the graceful twin of the LWT),
// quiesces pending operations, and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.Connected(), byte(c.cfg.QoS), true, payloadOffline)
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	metrics.MQTTConnected.Set(0)

	return nil
}

// HealthCheck reports broker link health for startup verification and
// the diagnostic API.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected reports both our view and paho's. Cheap; no network.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect registers a callback fired on initial connect and every
// reconnect. The bridge uses it to re-issue its command subscription.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect registers a callback fired with the losing error.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger wires handler panic/error logging. Nil means silent.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adds panic recovery around a MessageHandler. A panicking
// handler would otherwise take down paho's dispatch goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
