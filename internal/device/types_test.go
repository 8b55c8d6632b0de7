package device

import "testing"

func TestTypeComponent(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		want string
	}{
		{"full color bulb", 31, "light"},
		{"tunable white bulb", 5, "light"},
		{"plain dimmable bulb", 1, "light"},
		{"plug", 65, "switch"},
		{"outdoor plug", 68, "switch"},
		{"wall switch non dimming", 114, "switch"},
		{"dimmer switch", 113, "light"},
		{"fan controller", 81, "fan"},
		{"unknown class", 999, "light"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.Component(); got != tt.want {
				t.Errorf("Type(%d).Component() = %q, want %q", tt.typ, got, tt.want)
			}
		})
	}
}

func TestTypeCapabilities(t *testing.T) {
	if !Type(31).SupportsRGB() || !Type(31).SupportsColorTemp() || !Type(31).SupportsBrightness() {
		t.Error("type 31 should support rgb, color temp and brightness")
	}
	if Type(1).SupportsColorTemp() {
		t.Error("type 1 should not support color temp")
	}
	if Type(65).SupportsBrightness() {
		t.Error("plug type 65 should not support brightness")
	}
	if !Type(81).IsFan() || !Type(81).SupportsBrightness() {
		t.Error("fan type 81 should be a fan with a speed range")
	}
	if !Type(113).IsDimmer() || Type(114).IsDimmer() {
		t.Error("113 dims, 114 does not")
	}
}

func TestDeviceColorMode(t *testing.T) {
	tests := []struct {
		name string
		dev  Device
		want string
	}{
		{"rgb frame on color bulb", Device{Type: 31, Temperature: 254}, "rgb"},
		{"white frame on color bulb", Device{Type: 31, Temperature: 50}, "color_temp"},
		{"white frame on tunable bulb", Device{Type: 5, Temperature: 254}, "color_temp"},
		{"dimmable only", Device{Type: 1, Temperature: 254}, "brightness"},
		{"plug", Device{Type: 65}, "onoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dev.ColorMode(); got != tt.want {
				t.Errorf("ColorMode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGroupContains(t *testing.T) {
	g := Group{ID: 256, Members: []int{1, 2, 3}}
	if !g.Contains(2) {
		t.Error("Contains(2) = false, want true")
	}
	if g.Contains(7) {
		t.Error("Contains(7) = true, want false")
	}
}

func TestRecordSnapshot(t *testing.T) {
	d := Device{On: true, Brightness: 75, Temperature: 254, R: 10, G: 20, B: 30, Online: true}
	rec := d.Record()
	if !rec.On || rec.Brightness != 75 || rec.Temperature != 254 || rec.R != 10 || rec.G != 20 || rec.B != 30 || !rec.Online {
		t.Errorf("Record() = %+v, want field-for-field copy", rec)
	}
}
