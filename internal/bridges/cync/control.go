package cync

import (
	"fmt"
	"sort"
)

// controlOp selects a mesh control verb. The op appears twice in the
// inner struct: as the function pair at offsets 6-7 and again at offset
// 16. Power, brightness and color ops are acknowledged by the device with
// a matching 0xF9 response; lightshows are fire-and-forget.
type controlOp struct {
	hi, lo, hi2 byte
}

var (
	opPower      = controlOp{0xD0, 0x0D, 0xD0}
	opBrightness = controlOp{0xF0, 0x0D, 0xF0}
	opColor      = controlOp{0xE2, 0x0D, 0xE2}
	opLightshow  = controlOp{0xC4, 0x0D, 0xC4}
)

// ackFunctions maps the function byte of a 0xF9 control response back to
// the verb it acknowledges.
var ackFunctions = map[byte]string{
	opPower.hi:      "power",
	opBrightness.hi: "brightness",
	opColor.hi:      "color",
}

// Color sub-ops: the color verb multiplexes white temperature and RGB via
// the first argument byte.
const (
	colorModeTemperature = 0x05
	colorModeRGB         = 0x04
)

// encodeControl assembles a 0x73 control frame.
//
// Inner struct layout (offsets within the inner struct):
//
//	Offset  Field
//	0       0x7E boundary
//	1       Message counter
//	2-4     Reserved
//	5       0xF8 request marker
//	6-7     Op bytes (hi, lo)
//	8       Reserved
//	9       Message counter (repeated)
//	10-13   Reserved
//	14-15   Target ID, little-endian (device or group)
//	16      Op byte (hi2)
//	17-18   0x11 0x02 constant
//	19-     Verb arguments
//	len-2   Checksum over [6, len-2)
//	len-1   0x7E boundary
//
// The frame payload is queue ID + zero message ID + inner struct.
func encodeControl(queueID []byte, ctr byte, op controlOp, target int, args []byte) ([]byte, error) {
	if target < 0 || target > 0xFFFF {
		return nil, fmt.Errorf("%w: target %d", ErrInvalidValue, target)
	}

	inner := make([]byte, 0, 21+len(args))
	inner = append(inner,
		innerBoundary, ctr, 0x00, 0x00, 0x00,
		markerRequest, op.hi, op.lo, 0x00,
		ctr, 0x00, 0x00, 0x00, 0x00,
		byte(target), byte(target>>8),
		op.hi2, 0x11, 0x02,
	)
	inner = append(inner, args...)
	inner = append(inner, 0x00, innerBoundary)
	sealInner(inner)

	payload := make([]byte, 0, dataPrefixLen+len(inner))
	q := make([]byte, queueIDLen)
	copy(q, queueID)
	payload = append(payload, q...)
	payload = append(payload, 0x00, 0x00, 0x00)
	payload = append(payload, inner...)
	return envelope(TypeControl, payload)
}

// PowerFrame encodes an on/off control for a device or group target.
func PowerFrame(queueID []byte, ctr byte, target int, on bool) ([]byte, error) {
	state := byte(0x00)
	if on {
		state = 0x01
	}
	return encodeControl(queueID, ctr, opPower, target, []byte{state, 0x00})
}

// BrightnessFrame encodes a brightness control. Brightness is the vendor
// 0-100 scale; fans ride this verb for speed.
func BrightnessFrame(queueID []byte, ctr byte, target, brightness int) ([]byte, error) {
	if brightness < 0 || brightness > 100 {
		return nil, fmt.Errorf("%w: brightness %d", ErrInvalidValue, brightness)
	}
	return encodeControl(queueID, ctr, opBrightness, target, []byte{byte(brightness)})
}

// TemperatureFrame encodes a white color temperature control on the
// vendor 0-100 scale (0 warmest).
func TemperatureFrame(queueID []byte, ctr byte, target, temperature int) ([]byte, error) {
	if temperature < 0 || temperature > 100 {
		return nil, fmt.Errorf("%w: temperature %d", ErrInvalidValue, temperature)
	}
	return encodeControl(queueID, ctr, opColor, target, []byte{colorModeTemperature, byte(temperature)})
}

// RGBFrame encodes a full-color control.
func RGBFrame(queueID []byte, ctr byte, target, r, g, b int) ([]byte, error) {
	for _, c := range []int{r, g, b} {
		if c < 0 || c > 255 {
			return nil, fmt.Errorf("%w: rgb component %d", ErrInvalidValue, c)
		}
	}
	return encodeControl(queueID, ctr, opColor, target, []byte{colorModeRGB, byte(r), byte(g), byte(b)})
}

// lightshowEffects maps effect names offered in discovery to their wire
// pair (show ID, speed). Shows run device-side; the bridge only selects.
var lightshowEffects = map[string][2]byte{
	"rainbow":     {0x01, 0x50},
	"party":       {0x02, 0x64},
	"candlelight": {0x03, 0x28},
	"pulse":       {0x04, 0x50},
	"christmas":   {0x05, 0x50},
	"halloween":   {0x06, 0x50},
}

// EffectNames returns the lightshow menu in stable order.
func EffectNames() []string {
	names := make([]string, 0, len(lightshowEffects))
	for name := range lightshowEffects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LightshowFrame encodes a named lightshow start. Devices never
// acknowledge lightshows, so callers must not register a pending entry.
func LightshowFrame(queueID []byte, ctr byte, target int, effect string) ([]byte, error) {
	pair, ok := lightshowEffects[effect]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEffect, effect)
	}
	return encodeControl(queueID, ctr, opLightshow, target, []byte{pair[0], pair[1]})
}

// MeshInfoFrame encodes the mesh-info request: the device answers with
// per-device info structs for everything it can reach over Bluetooth.
//
// Inner struct: 7E ctr 00 00 00 F9 52 06 00 00 00 FF FF 00 00 sum 7E.
// The FF FF target means "whole mesh".
func MeshInfoFrame(queueID []byte, ctr byte) ([]byte, error) {
	inner := []byte{
		innerBoundary, ctr, 0x00, 0x00, 0x00,
		markerResponse, funcMeshInfo, 0x06,
		0x00, 0x00, 0x00,
		0xFF, 0xFF, 0x00, 0x00,
		0x00, innerBoundary,
	}
	sealInner(inner)

	payload := make([]byte, 0, dataPrefixLen+len(inner))
	q := make([]byte, queueIDLen)
	copy(q, queueID)
	payload = append(payload, q...)
	payload = append(payload, 0x00, 0x00, 0x00)
	payload = append(payload, inner...)
	return envelope(TypeControl, payload)
}
