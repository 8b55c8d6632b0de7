package hass

import (
	"encoding/json"
	"testing"

	"github.com/cynclan/cync-lan/internal/device"
	"github.com/cynclan/cync-lan/internal/infrastructure/mqtt"
)

func testBuilder() *Builder {
	return &Builder{
		Topics:    mqtt.Topics{Cync: "cync_lan", Hass: "homeassistant"},
		Version:   "1.2.3",
		KelvinMin: testKelvinMin,
		KelvinMax: testKelvinMax,
		Effects:   []string{"rainbow", "candle"},
	}
}

func TestDeviceDiscoveryLight(t *testing.T) {
	b := testBuilder()
	d := device.Device{ID: 7, HomeID: 1001, Name: "Kitchen Ceiling 1", Type: 31, Firmware: "1.0.241"}

	e := b.Device(d, "Kitchen")
	if e.Component != "light" {
		t.Fatalf("Component = %q, want light", e.Component)
	}
	if e.ObjectID != "1001-7" {
		t.Errorf("ObjectID = %q, want 1001-7", e.ObjectID)
	}

	cfg := e.Config
	if cfg.UniqueID != "1001-7" {
		t.Errorf("UniqueID = %q, want 1001-7", cfg.UniqueID)
	}
	if cfg.StateTopic != "cync_lan/status/1001-7" {
		t.Errorf("StateTopic = %q", cfg.StateTopic)
	}
	if cfg.CommandTopic != "cync_lan/set/1001-7" {
		t.Errorf("CommandTopic = %q", cfg.CommandTopic)
	}
	if cfg.AvailabilityTopic != "cync_lan/availability/1001-7" {
		t.Errorf("AvailabilityTopic = %q", cfg.AvailabilityTopic)
	}
	if cfg.PayloadAvailable != "online" || cfg.PayloadNotAvailable != "offline" {
		t.Error("availability payloads must be lowercase online/offline")
	}
	if cfg.Schema != "json" {
		t.Errorf("Schema = %q, want json", cfg.Schema)
	}
	if !cfg.Brightness || cfg.BrightnessScale != 100 {
		t.Error("brightness must be enabled on a 0-100 scale")
	}
	if len(cfg.SupportedColorModes) != 2 || cfg.SupportedColorModes[0] != "rgb" {
		t.Errorf("SupportedColorModes = %v, want [rgb color_temp]", cfg.SupportedColorModes)
	}
	if !cfg.Effect || len(cfg.EffectList) != 2 {
		t.Error("effects missing on a color-capable light")
	}
	if cfg.MinMireds == 0 || cfg.MaxMireds <= cfg.MinMireds {
		t.Errorf("mireds range %d-%d malformed", cfg.MinMireds, cfg.MaxMireds)
	}
	if cfg.Device.SuggestedArea != "Kitchen" {
		t.Errorf("SuggestedArea = %q, want Kitchen", cfg.Device.SuggestedArea)
	}
	if cfg.Device.SWVersion != "1.0.241" {
		t.Errorf("SWVersion = %q", cfg.Device.SWVersion)
	}
	if cfg.Device.ViaDevice != "cync_lan_bridge" {
		t.Errorf("ViaDevice = %q", cfg.Device.ViaDevice)
	}
	if cfg.Origin == nil || cfg.Origin.Name != "cync-lan" {
		t.Error("origin block missing")
	}

	// The payload must be marshalable; discovery is published as JSON.
	if _, err := json.Marshal(cfg); err != nil {
		t.Fatalf("marshal discovery payload: %v", err)
	}
}

func TestDeviceDiscoveryComponents(t *testing.T) {
	b := testBuilder()
	tests := []struct {
		name string
		typ  device.Type
		want string
	}{
		{"plug", 65, "switch"},
		{"wall switch", 114, "switch"},
		{"dimmer", 113, "light"},
		{"fan", 81, "fan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := b.Device(device.Device{ID: 1, HomeID: 1, Type: tt.typ}, "")
			if e.Component != tt.want {
				t.Errorf("Component = %q, want %q", e.Component, tt.want)
			}
		})
	}
}

func TestPlugDiscoveryClass(t *testing.T) {
	b := testBuilder()
	e := b.Device(device.Device{ID: 20, HomeID: 1002, Name: "Compressor Plug", Type: 65}, "")
	if e.Config.DeviceClass != "outlet" {
		t.Errorf("DeviceClass = %q, want outlet", e.Config.DeviceClass)
	}
	if e.Config.PayloadOn != "ON" || e.Config.PayloadOff != "OFF" {
		t.Error("switch payloads must be ON/OFF")
	}
}

func TestFanDiscovery(t *testing.T) {
	b := testBuilder()
	e := b.Device(device.Device{ID: 9, HomeID: 1001, Name: "Bedroom Fan", Type: 81}, "Bedroom")
	cfg := e.Config

	if cfg.PercentageStateTopic != "cync_lan/status/1001-9" {
		t.Errorf("PercentageStateTopic = %q", cfg.PercentageStateTopic)
	}
	if cfg.PercentageCommandTopic != "cync_lan/set/1001-9/percentage" {
		t.Errorf("PercentageCommandTopic = %q", cfg.PercentageCommandTopic)
	}
	if cfg.PresetModeCommandTopic != "cync_lan/set/1001-9/preset" {
		t.Errorf("PresetModeCommandTopic = %q", cfg.PresetModeCommandTopic)
	}
	if len(cfg.PresetModes) != 4 {
		t.Errorf("PresetModes = %v, want the four speed steps", cfg.PresetModes)
	}
	if cfg.StateValueTemplate == "" {
		t.Error("fan state template missing; percent payloads need folding to ON/OFF")
	}
}

func TestGroupDiscovery(t *testing.T) {
	b := testBuilder()
	e := b.Group(device.Group{ID: 32769, HomeID: 1001, Name: "Kitchen Ceiling", Subgroup: true})

	if e.Component != "light" {
		t.Errorf("Component = %q, want light", e.Component)
	}
	if e.ObjectID != "1001-group-32769" {
		t.Errorf("ObjectID = %q", e.ObjectID)
	}
	if e.Config.Device.Model != "Subgroup" {
		t.Errorf("Model = %q, want Subgroup", e.Config.Device.Model)
	}
	if e.Config.CommandTopic != "cync_lan/set/1001-group-32769" {
		t.Errorf("CommandTopic = %q", e.Config.CommandTopic)
	}
}

func TestBridgeEntities(t *testing.T) {
	b := testBuilder()
	entities := b.BridgeEntities()

	if len(entities) != 6 {
		t.Fatalf("BridgeEntities() = %d entities, want 6", len(entities))
	}

	byID := make(map[string]Entity, len(entities))
	for _, e := range entities {
		byID[e.ObjectID] = e
	}

	restart, ok := byID["cync_lan_restart"]
	if !ok {
		t.Fatal("restart button missing")
	}
	if restart.Component != "button" {
		t.Errorf("restart Component = %q", restart.Component)
	}
	if restart.Config.CommandTopic != "cync_lan/set/bridge/restart" {
		t.Errorf("restart CommandTopic = %q", restart.Config.CommandTopic)
	}

	refresh := byID["cync_lan_refresh"]
	if refresh.Config.CommandTopic != "cync_lan/set/bridge/refresh_status" {
		t.Errorf("refresh CommandTopic = %q", refresh.Config.CommandTopic)
	}

	mqttSensor, ok := byID["cync_lan_mqtt"]
	if !ok {
		t.Fatal("mqtt binary sensor missing")
	}
	if mqttSensor.Component != "binary_sensor" {
		t.Errorf("mqtt Component = %q", mqttSensor.Component)
	}
	if mqttSensor.Config.StateTopic != "cync_lan/connected" {
		t.Errorf("mqtt StateTopic = %q, want the LWT topic", mqttSensor.Config.StateTopic)
	}
	if mqttSensor.Config.DeviceClass != "connectivity" {
		t.Errorf("mqtt DeviceClass = %q", mqttSensor.Config.DeviceClass)
	}

	// All bridge entities share one device card.
	for _, e := range entities {
		if len(e.Config.Device.Identifiers) != 1 || e.Config.Device.Identifiers[0] != "cync_lan_bridge" {
			t.Errorf("%s device identifiers = %v", e.ObjectID, e.Config.Device.Identifiers)
		}
	}
}
