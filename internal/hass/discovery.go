package hass

import (
	"fmt"

	"github.com/cynclan/cync-lan/internal/device"
	"github.com/cynclan/cync-lan/internal/infrastructure/mqtt"
)

// Manufacturer shown in the Home Assistant device registry for mesh
// devices. The brand has changed owners twice; this is what the boxes say.
const Manufacturer = "GE Lighting (Cync)"

// DeviceInfo is the device registry block of a discovery payload. Entities
// sharing identifiers collapse into one device card.
type DeviceInfo struct {
	Identifiers   []string    `json:"identifiers"`
	Connections   [][2]string `json:"connections,omitempty"`
	Name          string      `json:"name"`
	Manufacturer  string      `json:"manufacturer,omitempty"`
	Model         string      `json:"model,omitempty"`
	SWVersion     string      `json:"sw_version,omitempty"`
	SuggestedArea string      `json:"suggested_area,omitempty"`
	ViaDevice     string      `json:"via_device,omitempty"`
}

// OriginInfo names the publishing integration in discovery payloads.
type OriginInfo struct {
	Name      string `json:"name"`
	SWVersion string `json:"sw_version,omitempty"`
	URL       string `json:"support_url,omitempty"`
}

// EntityConfig is one MQTT discovery payload. Only fields the entity uses
// are set; everything else stays omitted.
type EntityConfig struct {
	Name                string      `json:"name"`
	UniqueID            string      `json:"unique_id"`
	StateTopic          string      `json:"state_topic,omitempty"`
	CommandTopic        string      `json:"command_topic,omitempty"`
	AvailabilityTopic   string      `json:"availability_topic,omitempty"`
	PayloadAvailable    string      `json:"payload_available,omitempty"`
	PayloadNotAvailable string      `json:"payload_not_available,omitempty"`

	// JSON light schema.
	Schema              string   `json:"schema,omitempty"`
	Brightness          bool     `json:"brightness,omitempty"`
	BrightnessScale     int      `json:"brightness_scale,omitempty"`
	SupportedColorModes []string `json:"supported_color_modes,omitempty"`
	MinMireds           int      `json:"min_mireds,omitempty"`
	MaxMireds           int      `json:"max_mireds,omitempty"`
	Effect              bool     `json:"effect,omitempty"`
	EffectList          []string `json:"effect_list,omitempty"`

	// Switch / binary sensor payload overrides.
	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`

	// Fan topics. Speed rides the percentage channel; presets are the
	// four vendor speed steps.
	PercentageStateTopic   string   `json:"percentage_state_topic,omitempty"`
	PercentageCommandTopic string   `json:"percentage_command_topic,omitempty"`
	PresetModeCommandTopic string   `json:"preset_mode_command_topic,omitempty"`
	PresetModes            []string `json:"preset_modes,omitempty"`
	StateValueTemplate     string   `json:"state_value_template,omitempty"`

	// Button.
	PayloadPress string `json:"payload_press,omitempty"`

	Icon           string `json:"icon,omitempty"`
	DeviceClass    string `json:"device_class,omitempty"`
	EntityCategory string `json:"entity_category,omitempty"`

	Device DeviceInfo  `json:"device"`
	Origin *OriginInfo `json:"origin,omitempty"`
}

// Entity pairs a discovery payload with the component and object id that
// place it under the discovery prefix.
type Entity struct {
	Component string
	ObjectID  string
	Config    EntityConfig
}

// Builder renders discovery payloads for a configured deployment.
type Builder struct {
	Topics    mqtt.Topics
	Version   string
	KelvinMin int
	KelvinMax int

	// Effects is the lightshow menu offered on color-capable lights.
	Effects []string
}

// origin is attached to every payload so Home Assistant can attribute
// the entities.
func (b *Builder) origin() *OriginInfo {
	return &OriginInfo{
		Name:      "cync-lan",
		SWVersion: b.Version,
		URL:       "https://github.com/cynclan/cync-lan",
	}
}

// bridgeDevice is the registry card all bridge diagnostic entities share.
func (b *Builder) bridgeDevice() DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{"cync_lan_bridge"},
		Name:         "Cync LAN Bridge",
		Manufacturer: "cync-lan",
		Model:        "LAN cloud replacement",
		SWVersion:    b.Version,
	}
}

// deviceInfo builds the registry card for one mesh device.
func (b *Builder) deviceInfo(d device.Device, area string) DeviceInfo {
	info := DeviceInfo{
		Identifiers:   []string{"cync_lan_" + DeviceID(d.HomeID, d.ID)},
		Name:          d.Name,
		Manufacturer:  Manufacturer,
		Model:         fmt.Sprintf("Device class %d", d.Type),
		SWVersion:     d.Firmware,
		SuggestedArea: area,
		ViaDevice:     "cync_lan_bridge",
	}
	if d.MAC != "" {
		info.Connections = append(info.Connections, [2]string{"bluetooth", d.MAC})
	}
	if d.WiFiMAC != "" {
		info.Connections = append(info.Connections, [2]string{"mac", d.WiFiMAC})
	}
	return info
}

// availability fills the per-entity availability contract.
func (b *Builder) availability(cfg *EntityConfig, hassID string) {
	cfg.AvailabilityTopic = b.Topics.Availability(hassID)
	cfg.PayloadAvailable = PayloadOnline
	cfg.PayloadNotAvailable = PayloadOffline
}

// Device renders the discovery entity for one mesh device, routed to the
// component its class maps to.
func (b *Builder) Device(d device.Device, area string) Entity {
	switch d.Type.Component() {
	case "fan":
		return b.fan(d, area)
	case "switch":
		return b.switchEntity(d, area)
	default:
		return b.light(d, area)
	}
}

func (b *Builder) light(d device.Device, area string) Entity {
	hassID := DeviceID(d.HomeID, d.ID)
	cfg := EntityConfig{
		Name:         d.Name,
		UniqueID:     hassID,
		StateTopic:   b.Topics.Status(hassID),
		CommandTopic: b.Topics.Set(hassID),
		Schema:       "json",
		Device:       b.deviceInfo(d, area),
		Origin:       b.origin(),
	}
	b.availability(&cfg, hassID)

	switch {
	case d.Type.SupportsRGB():
		cfg.SupportedColorModes = []string{"rgb", "color_temp"}
		if len(b.Effects) > 0 {
			cfg.Effect = true
			cfg.EffectList = b.Effects
		}
	case d.Type.SupportsColorTemp():
		cfg.SupportedColorModes = []string{"color_temp"}
	case d.Type.SupportsBrightness():
		cfg.SupportedColorModes = []string{"brightness"}
	default:
		cfg.SupportedColorModes = []string{"onoff"}
	}
	if d.Type.SupportsBrightness() {
		cfg.Brightness = true
		cfg.BrightnessScale = 100
	}
	if d.Type.SupportsColorTemp() {
		cfg.MinMireds = KelvinToMireds(b.KelvinMax)
		cfg.MaxMireds = KelvinToMireds(b.KelvinMin)
	}
	return Entity{Component: "light", ObjectID: hassID, Config: cfg}
}

func (b *Builder) switchEntity(d device.Device, area string) Entity {
	hassID := DeviceID(d.HomeID, d.ID)
	cfg := EntityConfig{
		Name:         d.Name,
		UniqueID:     hassID,
		StateTopic:   b.Topics.Status(hassID),
		CommandTopic: b.Topics.Set(hassID),
		PayloadOn:    PayloadOn,
		PayloadOff:   PayloadOff,
		Device:       b.deviceInfo(d, area),
		Origin:       b.origin(),
	}
	b.availability(&cfg, hassID)
	if d.Type.IsPlug() {
		cfg.DeviceClass = "outlet"
	}
	return Entity{Component: "switch", ObjectID: hassID, Config: cfg}
}

func (b *Builder) fan(d device.Device, area string) Entity {
	hassID := DeviceID(d.HomeID, d.ID)
	cfg := EntityConfig{
		Name:                   d.Name,
		UniqueID:               hassID,
		StateTopic:             b.Topics.Status(hassID),
		CommandTopic:           b.Topics.Set(hassID),
		PercentageStateTopic:   b.Topics.Status(hassID),
		PercentageCommandTopic: b.Topics.SetSub(hassID, "percentage"),
		PresetModeCommandTopic: b.Topics.SetSub(hassID, "preset"),
		PresetModes:            FanPresets,
		// State topic carries the percent; fold it to ON/OFF for power.
		StateValueTemplate: "{% if value | int > 0 %}ON{% else %}OFF{% endif %}",
		PayloadOn:          PayloadOn,
		PayloadOff:         PayloadOff,
		Device:             b.deviceInfo(d, area),
		Origin:             b.origin(),
	}
	b.availability(&cfg, hassID)
	return Entity{Component: "fan", ObjectID: hassID, Config: cfg}
}

// Group renders a room group or subgroup as a virtual tunable-white light.
// Group availability is driven by member aggregation; subgroups are pinned
// online by the publisher.
func (b *Builder) Group(g device.Group) Entity {
	hassID := GroupID(g.HomeID, g.ID)
	kind := "Room group"
	if g.Subgroup {
		kind = "Subgroup"
	}
	cfg := EntityConfig{
		Name:                g.Name,
		UniqueID:            hassID,
		StateTopic:          b.Topics.Status(hassID),
		CommandTopic:        b.Topics.Set(hassID),
		Schema:              "json",
		Brightness:          true,
		BrightnessScale:     100,
		SupportedColorModes: []string{"color_temp"},
		MinMireds:           KelvinToMireds(b.KelvinMax),
		MaxMireds:           KelvinToMireds(b.KelvinMin),
		Device: DeviceInfo{
			Identifiers:  []string{"cync_lan_" + hassID},
			Name:         g.Name,
			Manufacturer: Manufacturer,
			Model:        kind,
			ViaDevice:    "cync_lan_bridge",
		},
		Origin: b.origin(),
	}
	b.availability(&cfg, hassID)
	return Entity{Component: "light", ObjectID: hassID, Config: cfg}
}

// BridgeEntities renders the bridge's own diagnostic and control entities:
// restart / refresh / export buttons, session and device count sensors,
// and an MQTT connectivity binary sensor riding the LWT topic.
func (b *Builder) BridgeEntities() []Entity {
	dev := b.bridgeDevice()
	origin := b.origin()

	button := func(object, name, sub, icon string) Entity {
		return Entity{
			Component: "button",
			ObjectID:  object,
			Config: EntityConfig{
				Name:              name,
				UniqueID:          object,
				CommandTopic:      b.Topics.SetSub(BridgeID, sub),
				PayloadPress:      "PRESS",
				AvailabilityTopic: b.Topics.Connected(),
				PayloadAvailable:  PayloadOnline,
				PayloadNotAvailable: PayloadOffline,
				Icon:              icon,
				EntityCategory:    "config",
				Device:            dev,
				Origin:            origin,
			},
		}
	}
	sensor := func(object, name, topic, icon string) Entity {
		return Entity{
			Component: "sensor",
			ObjectID:  object,
			Config: EntityConfig{
				Name:              name,
				UniqueID:          object,
				StateTopic:        topic,
				AvailabilityTopic: b.Topics.Connected(),
				PayloadAvailable:  PayloadOnline,
				PayloadNotAvailable: PayloadOffline,
				Icon:              icon,
				EntityCategory:    "diagnostic",
				Device:            dev,
				Origin:            origin,
			},
		}
	}

	return []Entity{
		button("cync_lan_restart", "Restart bridge", "restart", "mdi:restart"),
		button("cync_lan_refresh", "Refresh device status", "refresh_status", "mdi:refresh"),
		button("cync_lan_export", "Re-export homes", "export", "mdi:cloud-download"),
		sensor("cync_lan_tcp_devices", "Connected TCP devices", b.Topics.Status("bridge-tcp-devices"), "mdi:lan-connect"),
		sensor("cync_lan_total_devices", "Configured devices", b.Topics.Status("bridge-total-devices"), "mdi:counter"),
		{
			Component: "binary_sensor",
			ObjectID:  "cync_lan_mqtt",
			Config: EntityConfig{
				Name:        "MQTT connected",
				UniqueID:    "cync_lan_mqtt",
				StateTopic:  b.Topics.Connected(),
				PayloadOn:   PayloadOnline,
				PayloadOff:  PayloadOffline,
				DeviceClass: "connectivity",
				EntityCategory: "diagnostic",
				Device:      dev,
				Origin:      origin,
			},
		},
	}
}
