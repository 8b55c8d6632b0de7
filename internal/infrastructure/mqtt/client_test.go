package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/cynclan/cync-lan/internal/infrastructure/config"
)

// Tests in this file run without a broker; connection-dependent tests live
// in integration_test.go behind the integration build tag.

func TestNewClientID(t *testing.T) {
	id := newClientID()

	if !strings.HasPrefix(id, "cync_lan_") {
		t.Errorf("newClientID() = %q, want cync_lan_ prefix", id)
	}

	if id == newClientID() {
		t.Error("newClientID() returned the same value twice, want unique IDs")
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	err := client.Close()
	if err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestPublish_Validation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{
			name:    "empty topic",
			topic:   "",
			payload: []byte("test"),
			qos:     0,
			wantErr: ErrInvalidTopic,
		},
		{
			name:    "invalid QoS",
			topic:   "cync_lan/status/1001-7",
			payload: []byte("test"),
			qos:     3,
			wantErr: ErrInvalidQoS,
		},
		{
			name:    "oversized payload",
			topic:   "cync_lan/status/1001-7",
			payload: make([]byte, maxPayloadSize+1),
			qos:     0,
			wantErr: ErrPublishFailed,
		},
		{
			name:    "disconnected client",
			topic:   "cync_lan/status/1001-7",
			payload: []byte("ON"),
			qos:     0,
			wantErr: ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 0, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}

	if err := client.Subscribe("cync_lan/set/#", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(bad qos) error = %v, want ErrInvalidQoS", err)
	}

	if err := client.Subscribe("cync_lan/set/#", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}

	if err := client.Subscribe("cync_lan/set/#", 0, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}

	if err := client.Unsubscribe("cync_lan/set/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestSubscriptionCount_Empty(t *testing.T) {
	client := &Client{}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}

	if client.HasSubscription("cync_lan/set/#") {
		t.Error("HasSubscription() should be false for unsubscribed topic")
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics(config.MQTTTopicConfig{
		CyncTopic: "cync_lan",
		HassTopic: "homeassistant",
	})

	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name:     "Status",
			builder:  func() string { return topics.Status("1001-7") },
			expected: "cync_lan/status/1001-7",
		},
		{
			name:     "Availability",
			builder:  func() string { return topics.Availability("1001-7") },
			expected: "cync_lan/availability/1001-7",
		},
		{
			name:     "Connected",
			builder:  func() string { return topics.Connected() },
			expected: "cync_lan/connected",
		},
		{
			name:     "Set",
			builder:  func() string { return topics.Set("1001-group-256") },
			expected: "cync_lan/set/1001-group-256",
		},
		{
			name:     "SetSub",
			builder:  func() string { return topics.SetSub("1001-12", "percentage") },
			expected: "cync_lan/set/1001-12/percentage",
		},
		{
			name:     "AllSet",
			builder:  func() string { return topics.AllSet() },
			expected: "cync_lan/set/#",
		},
		{
			name:     "SetPrefix",
			builder:  func() string { return topics.SetPrefix() },
			expected: "cync_lan/set/",
		},
		{
			name:     "HassStatus",
			builder:  func() string { return topics.HassStatus() },
			expected: "homeassistant/status",
		},
		{
			name:     "Discovery light",
			builder:  func() string { return topics.Discovery("light", "1001-7") },
			expected: "homeassistant/light/1001-7/config",
		},
		{
			name:     "Discovery button",
			builder:  func() string { return topics.Discovery("button", "bridge") },
			expected: "homeassistant/button/bridge/config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.builder()
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, result, tt.expected)
			}
		})
	}
}

func TestTopicBuilders_CustomRoots(t *testing.T) {
	topics := NewTopics(config.MQTTTopicConfig{
		CyncTopic: "custom_cync",
		HassTopic: "custom_hass",
	})

	if got := topics.Status("bridge"); got != "custom_cync/status/bridge" {
		t.Errorf("Status() = %q, want %q", got, "custom_cync/status/bridge")
	}

	if got := topics.Discovery("sensor", "bridge-tcp"); got != "custom_hass/sensor/bridge-tcp/config" {
		t.Errorf("Discovery() = %q, want %q", got, "custom_hass/sensor/bridge-tcp/config")
	}
}
