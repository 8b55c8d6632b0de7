package device

// Type is the numeric device class assigned by the vendor cloud and carried
// in the exported home configuration. Capability sets below follow the
// published class tables; anything unlisted is treated as an on/off light.
type Type int

// Capability class sets, keyed by vendor type ID.
var (
	brightnessTypes = typeSet(
		1, 5, 6, 7, 8, 9, 10, 11, 13, 14, 15, 17, 18, 19, 20, 21, 22, 23,
		24, 25, 26, 27, 28, 29, 30, 31, 32, 33, 34, 35, 36, 80, 81, 82, 83,
		85, 128, 129, 130, 131, 132, 133, 134, 135, 136, 137, 138, 139, 140,
		141, 142, 143, 144, 145, 146, 147, 153, 154, 156, 158, 159, 160,
		161, 162, 163, 164, 165, 169, 170,
	)

	colorTempTypes = typeSet(
		5, 6, 7, 8, 10, 11, 14, 15, 19, 20, 21, 22, 23, 25, 26, 28, 29, 30,
		31, 32, 33, 34, 35, 80, 82, 83, 85, 129, 130, 131, 132, 133, 135,
		136, 137, 138, 139, 140, 141, 142, 143, 144, 145, 146, 147, 153,
		154, 156, 158, 159, 160, 161, 162, 163, 164, 165, 169, 170,
	)

	rgbTypes = typeSet(
		6, 7, 8, 21, 22, 23, 30, 31, 32, 33, 34, 35, 131, 132, 133, 137,
		138, 139, 140, 141, 142, 143, 146, 147, 153, 154, 156, 158, 159,
		160, 161, 162, 163, 164, 165, 169, 170,
	)

	plugTypes = typeSet(64, 65, 66, 67, 68)

	fanTypes = typeSet(81)

	switchTypes = typeSet(113, 114, 115, 117, 118, 119, 120, 125, 126, 127)

	dimmerTypes = typeSet(113, 117, 118, 126, 127)
)

func typeSet(ids ...int) map[Type]struct{} {
	s := make(map[Type]struct{}, len(ids))
	for _, id := range ids {
		s[Type(id)] = struct{}{}
	}
	return s
}

// SupportsBrightness reports whether the class is dimmable.
func (t Type) SupportsBrightness() bool {
	_, ok := brightnessTypes[t]
	return ok
}

// SupportsColorTemp reports whether the class has a tunable white range.
func (t Type) SupportsColorTemp() bool {
	_, ok := colorTempTypes[t]
	return ok
}

// SupportsRGB reports whether the class has full-color capability.
func (t Type) SupportsRGB() bool {
	_, ok := rgbTypes[t]
	return ok
}

// IsPlug reports whether the class is a smart plug / outlet.
func (t Type) IsPlug() bool {
	_, ok := plugTypes[t]
	return ok
}

// IsFan reports whether the class is a fan controller.
func (t Type) IsFan() bool {
	_, ok := fanTypes[t]
	return ok
}

// IsSwitch reports whether the class is a wall or battery switch.
func (t Type) IsSwitch() bool {
	_, ok := switchTypes[t]
	return ok
}

// IsDimmer reports whether the class is a dimming wall switch.
func (t Type) IsDimmer() bool {
	_, ok := dimmerTypes[t]
	return ok
}

// Component returns the Home Assistant component this class is exposed as.
// Plugs and non-dimming wall switches become switch entities; fans become
// fan entities; everything else is a light.
func (t Type) Component() string {
	switch {
	case t.IsFan():
		return "fan"
	case t.IsPlug():
		return "switch"
	case t.IsSwitch() && !t.IsDimmer():
		return "switch"
	default:
		return "light"
	}
}

// Device is one mesh device within a home. Identity fields come from
// config at startup; state fields are written by the reconcile path and
// read by the publishers.
//
// Device is a plain value: the registry hands out copies, never shared
// pointers, so a snapshot can be read without holding the registry lock.
type Device struct {
	// Identity (from config).
	ID       int    `json:"id"`
	HomeID   int    `json:"home_id"`
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	MAC      string `json:"mac,omitempty"`
	WiFiMAC  string `json:"wifi_mac,omitempty"`
	Firmware string `json:"firmware,omitempty"`
	BTOnly   bool   `json:"bt_only,omitempty"`

	// State (from the mesh).
	On          bool `json:"on"`
	Brightness  int  `json:"brightness"`
	Temperature int  `json:"temperature"`
	R           int  `json:"r"`
	G           int  `json:"g"`
	B           int  `json:"b"`
	Online      bool `json:"online"`

	// PendingCommand marks a device with an un-acked outbound control.
	// Set by the command executor, cleared on ACK or retry expiry.
	PendingCommand bool `json:"pending_command,omitempty"`

	// offlineCount is the hysteresis counter: consecutive offline reports
	// seen while the device is still considered online.
	offlineCount int

	// seen flips on the first applied report; used to suppress a prior
	// state in the first history journal row.
	seen bool
}

// ColorMode returns the Home Assistant color mode for the current state.
func (d *Device) ColorMode() string {
	switch {
	case d.Temperature > 100 && d.Type.SupportsRGB():
		return "rgb"
	case d.Type.SupportsColorTemp():
		return "color_temp"
	case d.Type.SupportsBrightness():
		return "brightness"
	default:
		return "onoff"
	}
}

// Record returns the state portion of the device as a journal record.
func (d *Device) Record() StateRecord {
	return StateRecord{
		On:          d.On,
		Brightness:  d.Brightness,
		Temperature: d.Temperature,
		R:           d.R,
		G:           d.G,
		B:           d.B,
		Online:      d.Online,
	}
}

// Group is a logical collection of devices within a home. Group IDs share
// the 16-bit space with device IDs but must be disjoint from them.
//
// A room group (Subgroup == false) may report its own state over the mesh.
// A subgroup never does; its state is aggregated from members on every
// member update.
type Group struct {
	ID       int    `json:"id"`
	HomeID   int    `json:"home_id"`
	Name     string `json:"name"`
	Members  []int  `json:"members"`
	Subgroup bool   `json:"subgroup"`

	On          bool `json:"on"`
	Brightness  int  `json:"brightness"`
	Temperature int  `json:"temperature"`
	R           int  `json:"r"`
	G           int  `json:"g"`
	B           int  `json:"b"`
	Online      bool `json:"online"`

	offlineCount int
	seen         bool
}

// copyValue returns an independent value with its own member slice.
func (g *Group) copyValue() Group {
	cpy := *g
	cpy.Members = make([]int, len(g.Members))
	copy(cpy.Members, g.Members)
	return cpy
}

// Contains reports whether the group lists the device as a member.
func (g *Group) Contains(deviceID int) bool {
	for _, id := range g.Members {
		if id == deviceID {
			return true
		}
	}
	return false
}

// Record returns the state portion of the group as a journal record.
func (g *Group) Record() StateRecord {
	return StateRecord{
		On:          g.On,
		Brightness:  g.Brightness,
		Temperature: g.Temperature,
		R:           g.R,
		G:           g.G,
		B:           g.B,
		Online:      g.Online,
	}
}

// StateRecord is the JSON-serialisable snapshot persisted to the history
// journal and exported over the diagnostic API.
type StateRecord struct {
	On          bool `json:"on"`
	Brightness  int  `json:"brightness"`
	Temperature int  `json:"temperature"`
	R           int  `json:"r"`
	G           int  `json:"g"`
	B           int  `json:"b"`
	Online      bool `json:"online"`
}
