package hass

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cynclan/cync-lan/internal/device"
)

// On/off payloads shared by switch-like entities and availability-style
// state topics.
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// Availability payloads. Lowercase is deliberate: the vendor app's own
// topics use lowercase and Home Assistant is told the payloads explicitly
// in discovery, so case never has to be guessed.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// RGB mirrors the color object of the Home Assistant JSON light schema.
type RGB struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// LightState is the outbound JSON-schema state payload for a light.
type LightState struct {
	State      string `json:"state"`
	Brightness int    `json:"brightness"`
	ColorMode  string `json:"color_mode,omitempty"`
	ColorTemp  int    `json:"color_temp,omitempty"`
	Color      *RGB   `json:"color,omitempty"`
}

// LightPayload renders a device's state as a JSON light payload.
// Color fields follow the device's current color mode: mireds for white,
// an RGB object for color, neither for plain dimmables.
func LightPayload(d device.Device, minKelvin, maxKelvin int) ([]byte, error) {
	st := LightState{
		State:      onOff(d.On),
		Brightness: d.Brightness,
		ColorMode:  d.ColorMode(),
	}
	switch st.ColorMode {
	case "rgb":
		st.Color = &RGB{R: d.R, G: d.G, B: d.B}
	case "color_temp":
		st.ColorTemp = PercentToMireds(d.Temperature, minKelvin, maxKelvin)
	}
	return json.Marshal(st)
}

// GroupPayload renders a group's aggregated state as a JSON light payload.
// Groups are exposed as tunable-white lights; color is not aggregated.
func GroupPayload(g device.Group, minKelvin, maxKelvin int) ([]byte, error) {
	st := LightState{
		State:      onOff(g.On),
		Brightness: g.Brightness,
		ColorMode:  "color_temp",
		ColorTemp:  PercentToMireds(g.Temperature, minKelvin, maxKelvin),
	}
	return json.Marshal(st)
}

// OnOffPayload renders plug and wall-switch state.
func OnOffPayload(on bool) []byte {
	return []byte(onOff(on))
}

// FanPayload renders fan state as a bare integer percent. Fans report
// their speed through the brightness channel.
func FanPayload(d device.Device) []byte {
	if !d.On {
		return []byte("0")
	}
	return []byte(strconv.Itoa(d.Brightness))
}

// AvailabilityPayload renders an availability topic payload.
func AvailabilityPayload(online bool) []byte {
	if online {
		return []byte(PayloadOnline)
	}
	return []byte(PayloadOffline)
}

func onOff(on bool) string {
	if on {
		return PayloadOn
	}
	return PayloadOff
}

// Fan preset names in ascending speed order.
var FanPresets = []string{"low", "medium", "high", "max"}

// FanPresetToPercent maps a preset name to the wire speed percent.
func FanPresetToPercent(preset string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(preset)) {
	case "off":
		return 0, nil
	case "low":
		return 25, nil
	case "medium":
		return 50, nil
	case "high":
		return 75, nil
	case "max":
		return 100, nil
	}
	return 0, fmt.Errorf("hass: unknown fan preset %q", preset)
}

// FanPercentToPreset maps a percent back to the preset band it lands in.
func FanPercentToPreset(pct int) string {
	switch {
	case pct <= 0:
		return "off"
	case pct <= 25:
		return "low"
	case pct <= 50:
		return "medium"
	case pct <= 75:
		return "high"
	default:
		return "max"
	}
}

// Command is a decoded inbound set-topic payload. Pointer fields are nil
// when the payload did not carry them, so a brightness-only message never
// fabricates a power transition.
type Command struct {
	State      *bool
	Brightness *int
	ColorTemp  *int // mireds
	Color      *RGB
	Effect     string
}

// jsonCommand is the wire shape of a JSON-schema light command.
type jsonCommand struct {
	State      *string `json:"state"`
	Brightness *int    `json:"brightness"`
	ColorTemp  *int    `json:"color_temp"`
	Color      *RGB    `json:"color"`
	Effect     string  `json:"effect"`
}

// ParseCommand decodes an inbound command payload. Plain ON/OFF (any
// case, or 1/0) and the JSON light schema are both accepted; anything
// else is an error the router logs and drops.
func ParseCommand(payload []byte) (Command, error) {
	body := strings.TrimSpace(string(payload))
	if body == "" {
		return Command{}, fmt.Errorf("hass: empty command payload")
	}

	switch strings.ToUpper(body) {
	case "ON", "1", "TRUE":
		on := true
		return Command{State: &on}, nil
	case "OFF", "0", "FALSE":
		off := false
		return Command{State: &off}, nil
	}

	if body[0] != '{' {
		return Command{}, fmt.Errorf("hass: unrecognized command payload %q", body)
	}

	var jc jsonCommand
	if err := json.Unmarshal([]byte(body), &jc); err != nil {
		return Command{}, fmt.Errorf("hass: decoding command payload: %w", err)
	}

	var cmd Command
	if jc.State != nil {
		switch strings.ToUpper(strings.TrimSpace(*jc.State)) {
		case "ON":
			on := true
			cmd.State = &on
		case "OFF":
			off := false
			cmd.State = &off
		default:
			return Command{}, fmt.Errorf("hass: unrecognized state %q", *jc.State)
		}
	}
	cmd.Brightness = jc.Brightness
	cmd.ColorTemp = jc.ColorTemp
	cmd.Color = jc.Color
	cmd.Effect = jc.Effect
	return cmd, nil
}
