package mqtt

import (
	"fmt"

	"github.com/cynclan/cync-lan/internal/infrastructure/config"
)

// Topics provides builders for cync-lan MQTT topics.
//
// Topic roots are configurable (cync_topic for bridge traffic, hass_topic
// for Home Assistant discovery), so unlike a fixed hierarchy the builders
// carry the configured prefixes. Using these helpers keeps topic naming
// consistent across publisher, router, and tests.
//
//	topics := mqtt.NewTopics(cfg.Topics)
//	topics.Status("1001-7")        // "cync_lan/status/1001-7"
//	topics.Discovery("light", "1001-7") // "homeassistant/light/1001-7/config"
type Topics struct {
	Cync string
	Hass string
}

// NewTopics builds a Topics helper from the configured topic roots.
func NewTopics(cfg config.MQTTTopicConfig) Topics {
	return Topics{Cync: cfg.CyncTopic, Hass: cfg.HassTopic}
}

// Status returns the state topic for an entity.
//
// Example: cync_lan/status/1001-7
func (t Topics) Status(hassID string) string {
	return fmt.Sprintf("%s/status/%s", t.Cync, hassID)
}

// Availability returns the availability topic for an entity.
//
// Example: cync_lan/availability/1001-7
func (t Topics) Availability(hassID string) string {
	return fmt.Sprintf("%s/availability/%s", t.Cync, hassID)
}

// Connected returns the bridge liveness topic carrying the LWT.
//
// Example: cync_lan/connected
func (t Topics) Connected() string {
	return fmt.Sprintf("%s/connected", t.Cync)
}

// Set returns the command topic for an entity.
//
// Example: cync_lan/set/1001-7
func (t Topics) Set(hassID string) string {
	return fmt.Sprintf("%s/set/%s", t.Cync, hassID)
}

// SetSub returns a command subtopic for an entity (fan percentage/preset).
//
// Example: cync_lan/set/1001-12/percentage
func (t Topics) SetSub(hassID, sub string) string {
	return fmt.Sprintf("%s/set/%s/%s", t.Cync, hassID, sub)
}

// AllSet returns the wildcard pattern matching every inbound command.
//
// Pattern: cync_lan/set/#
func (t Topics) AllSet() string {
	return fmt.Sprintf("%s/set/#", t.Cync)
}

// SetPrefix returns the prefix all command topics share, for routing.
//
// Example: cync_lan/set/
func (t Topics) SetPrefix() string {
	return fmt.Sprintf("%s/set/", t.Cync)
}

// HassStatus returns Home Assistant's birth/will topic. A "online" birth
// payload there triggers discovery republication.
//
// Example: homeassistant/status
func (t Topics) HassStatus() string {
	return fmt.Sprintf("%s/status", t.Hass)
}

// Discovery returns the retained discovery config topic for an entity.
// Component is a Home Assistant platform name: light, switch, fan,
// sensor, button, binary_sensor, number.
//
// Example: homeassistant/light/1001-7/config
func (t Topics) Discovery(component, hassID string) string {
	return fmt.Sprintf("%s/%s/%s/config", t.Hass, component, hassID)
}
