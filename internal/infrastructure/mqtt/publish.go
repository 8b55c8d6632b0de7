package mqtt

import (
	"fmt"

	"github.com/cynclan/cync-lan/internal/infrastructure/metrics"
)

// maxPayloadSize caps a single publish at 1MB. Status JSON runs tens of
// bytes and the largest discovery config under 2KB, so anything near
// the cap is a bug upstream, not data.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic.
//
// Status and availability publishes use QoS from config (default 0);
// retained is reserved for discovery configs and availability so Home
// Assistant picks them up on restart. Never retain command echoes.
// Failures bump cync_lan_mqtt_publish_errors_total before returning.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		metrics.MQTTPublishErrs.Inc()
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		metrics.MQTTPublishErrs.Inc()
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishString publishes a string payload. Sugar for the availability
// topics, which carry bare "online"/"offline".
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes retained at the configured default QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
