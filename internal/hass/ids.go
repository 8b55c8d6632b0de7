package hass

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// BridgeID is the hass_id of the bridge's own entity group.
const BridgeID = "bridge"

// ErrBadID is returned when a topic segment does not parse as a hass_id.
var ErrBadID = errors.New("hass: malformed entity id")

// TargetKind classifies what a hass_id addresses.
type TargetKind int

const (
	// TargetDevice addresses one mesh device.
	TargetDevice TargetKind = iota
	// TargetGroup addresses a room group or subgroup.
	TargetGroup
	// TargetBridge addresses the bridge itself.
	TargetBridge
)

// Target is a parsed hass_id.
type Target struct {
	Kind   TargetKind
	HomeID int
	ID     int
}

// DeviceID builds the hass_id for a device: "${home}-${device}".
func DeviceID(homeID, deviceID int) string {
	return fmt.Sprintf("%d-%d", homeID, deviceID)
}

// GroupID builds the hass_id for a group: "${home}-group-${group}".
func GroupID(homeID, groupID int) string {
	return fmt.Sprintf("%d-group-%d", homeID, groupID)
}

// ParseID parses a hass_id topic segment back into a target.
//
// Accepted forms:
//   - "bridge"
//   - "${home}-${device}"        e.g. "1001-7"
//   - "${home}-group-${group}"   e.g. "1001-group-256"
func ParseID(hassID string) (Target, error) {
	if hassID == BridgeID {
		return Target{Kind: TargetBridge}, nil
	}

	if home, gid, ok := strings.Cut(hassID, "-group-"); ok {
		h, err := strconv.Atoi(home)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %q", ErrBadID, hassID)
		}
		g, err := strconv.Atoi(gid)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %q", ErrBadID, hassID)
		}
		return Target{Kind: TargetGroup, HomeID: h, ID: g}, nil
	}

	home, dev, ok := strings.Cut(hassID, "-")
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", ErrBadID, hassID)
	}
	h, err := strconv.Atoi(home)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q", ErrBadID, hassID)
	}
	d, err := strconv.Atoi(dev)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q", ErrBadID, hassID)
	}
	return Target{Kind: TargetDevice, HomeID: h, ID: d}, nil
}

// idSanitizer matches anything MQTT discovery object IDs cannot carry.
var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeID makes an arbitrary string safe for use inside a discovery
// topic or unique_id by replacing every disallowed rune with an
// underscore.
func SanitizeID(id string) string {
	return idSanitizer.ReplaceAllString(id, "_")
}

// areaSuffixes are device-name tails that describe the device instead of
// the room it sits in; they are stripped when deriving a suggested area.
var areaSuffixes = map[string]struct{}{
	"switch": {},
	"light":  {},
	"lights": {},
	"plug":   {},
	"fan":    {},
	"dimmer": {},
	"bulb":   {},
	"outlet": {},
	"lamp":   {},
}

// SuggestedArea derives a Home Assistant area hint for a device.
//
// The room group name wins when the device belongs to one. Otherwise the
// device's own name is used with a trailing index and a device-type
// suffix stripped: "Kitchen Ceiling 2" becomes "Kitchen Ceiling", "Hall
// Switch" becomes "Hall". Names that strip to nothing are returned as-is.
func SuggestedArea(deviceName, roomGroupName string) string {
	if roomGroupName != "" {
		return roomGroupName
	}

	area := strings.TrimSpace(deviceName)
	area = strings.TrimSpace(strings.TrimRight(area, "0123456789"))
	if i := strings.LastIndexByte(area, ' '); i > 0 {
		if _, ok := areaSuffixes[strings.ToLower(area[i+1:])]; ok {
			area = strings.TrimSpace(area[:i])
		}
	}
	if area == "" {
		return deviceName
	}
	return area
}
