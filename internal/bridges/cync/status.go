package cync

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cynclan/cync-lan/internal/device"
)

// Status sources, named after the packet that carried the report. They
// end up in logs and in the state-history journal.
const (
	SourceUnsolicited = "unsolicited" // 0x43 info packets
	SourceStream      = "stream"      // 0x83 internal status packets
	SourceMeshInfo    = "mesh info"   // 0x73 mesh-info replies
)

// StatusReport pairs a mesh-local device ID with the state update parsed
// from one wire struct. Type is the device type byte from a mesh
// self-struct and zero everywhere else.
type StatusReport struct {
	ID     int
	Type   int
	Update device.StatusUpdate
}

const (
	statusTupleLen = 8
	innerStatusLen = 18
	infoStructLen  = 19

	meshStructLen    = 24
	meshStructsStart = 14
)

// decodeStatusTuple decodes the 8-byte tuple shared by internal-status
// structs: [id, state, brightness, temperature, r, g, b, online].
//
// A state of 0 with nonzero brightness is a known mesh encoding
// ambiguity; brightness is forced to 0 so "off" never reads as lit.
func decodeStatusTuple(t []byte) StatusReport {
	on := t[1] != 0
	bri := int(t[2])
	if !on && bri > 0 {
		bri = 0
	}
	return StatusReport{
		ID: int(t[0]),
		Update: device.StatusUpdate{
			On:          on,
			Brightness:  bri,
			Temperature: int(t[3]),
			R:           int(t[4]),
			G:           int(t[5]),
			B:           int(t[6]),
			HasRGB:      true,
			Online:      t[7] != 0,
			HasOnline:   true,
		},
	}
}

// IsFirmwareBody reports whether a 0x83 body is a firmware-version
// announcement (leading 0x00) rather than a bounded status struct.
func IsFirmwareBody(body []byte) bool {
	return len(body) > 0 && body[0] == 0x00
}

// extractInner isolates the 0x7E-bounded inner struct from a data packet
// body. Bodies normally begin at the opening sentinel, but some firmware
// prepends stray bytes, so scan forward to it.
func extractInner(body []byte) ([]byte, error) {
	start := bytes.IndexByte(body, innerBoundary)
	if start < 0 {
		return nil, fmt.Errorf("%w: no inner boundary", ErrBadEnvelope)
	}
	inner := body[start:]
	if len(inner) < innerMinLen || inner[len(inner)-1] != innerBoundary {
		return nil, fmt.Errorf("%w: unterminated inner struct (%d bytes)", ErrBadInnerStruct, len(inner))
	}
	return inner, nil
}

// innerKind classifies the inner struct of an inbound 0x73 packet by its
// marker and function bytes.
type innerKind int

const (
	innerUnknown innerKind = iota
	innerMeshReply
	innerControlAck
	innerFirmware
)

func classifyInner(inner []byte) innerKind {
	if len(inner) < innerMinLen {
		return innerUnknown
	}
	marker, fn := inner[innerMarkerIdx], inner[innerFunctionIdx]
	switch {
	case marker == markerResponse && fn == funcMeshInfo:
		return innerMeshReply
	case marker == markerResponse && ackFunctions[fn] != "":
		return innerControlAck
	case marker == markerReport && fn == funcVersion:
		return innerFirmware
	}
	return innerUnknown
}

// ParseInnerStatus decodes the bounded internal-status struct carried by
// 0x83 packets: five header bytes, 0xFA 0xDB 0x13, the 8-byte status
// tuple, checksum, closing sentinel. Checksum verification is the
// caller's business (it needs the per-session stale-checksum memory).
func ParseInnerStatus(inner []byte) (StatusReport, error) {
	if len(inner) < innerStatusLen {
		return StatusReport{}, fmt.Errorf("%w: internal status %d bytes", ErrBadInnerStruct, len(inner))
	}
	if inner[innerMarkerIdx] != markerReport || inner[innerFunctionIdx] != funcStatus || inner[7] != 0x13 {
		return StatusReport{}, fmt.Errorf("%w: not an internal status struct", ErrBadInnerStruct)
	}
	return decodeStatusTuple(inner[8 : 8+statusTupleLen]), nil
}

// ParseInfoStructs decodes the 19-byte status structs concatenated in an
// unsolicited 0x43 body. Struct offsets: 2-3 device ID big-endian, 4
// online flag, 8 power state, 12 brightness, 16 temperature. Info
// structs carry no color bytes. A trailing partial struct is ignored.
func ParseInfoStructs(body []byte) []StatusReport {
	var reports []StatusReport
	for len(body) >= infoStructLen {
		s := body[:infoStructLen]
		body = body[infoStructLen:]

		id := int(s[2])<<8 | int(s[3])
		if id == 0 {
			continue
		}
		on := s[8] != 0
		bri := int(s[12])
		if !on && bri > 0 {
			bri = 0
		}
		reports = append(reports, StatusReport{
			ID: id,
			Update: device.StatusUpdate{
				On:          on,
				Brightness:  bri,
				Temperature: int(s[16]),
				Online:      s[4] != 0,
				HasOnline:   true,
			},
		})
	}
	return reports
}

// ParseMeshReply decodes a mesh-info response. Devices answer either
// with a short ack-only struct (ackOnly true, no reports) or with
// repeated 24-byte per-device structs starting at index 14, or 15 when
// byte 14 is zero. Struct offsets: 0-1 device ID little-endian, 2 device
// type (self struct only), 8 power state, 12 brightness, 16 temperature,
// 20-22 RGB. Appearing in a mesh reply means the device is reachable, so
// every report carries online=true.
func ParseMeshReply(inner []byte) (reports []StatusReport, ackOnly bool, err error) {
	if len(inner) < innerMinLen {
		return nil, false, fmt.Errorf("%w: mesh reply %d bytes", ErrBadInnerStruct, len(inner))
	}
	if inner[innerMarkerIdx] != markerResponse || inner[innerFunctionIdx] != funcMeshInfo {
		return nil, false, fmt.Errorf("%w: not a mesh-info reply", ErrBadInnerStruct)
	}

	start := meshStructsStart
	if len(inner) > start && inner[start] == 0x00 {
		start++
	}
	if start+meshStructLen > len(inner)-2 {
		return nil, true, nil
	}

	self := true
	for start+meshStructLen <= len(inner)-2 {
		s := inner[start : start+meshStructLen]
		start += meshStructLen

		typ := 0
		if self {
			typ = int(s[2])
			self = false
		}
		id := int(s[0]) | int(s[1])<<8
		if id == 0 {
			continue
		}
		on := s[8] != 0
		bri := int(s[12])
		if !on && bri > 0 {
			bri = 0
		}
		reports = append(reports, StatusReport{
			ID:   id,
			Type: typ,
			Update: device.StatusUpdate{
				On:          on,
				Brightness:  bri,
				Temperature: int(s[16]),
				R:           int(s[20]),
				G:           int(s[21]),
				B:           int(s[22]),
				HasRGB:      true,
				Online:      true,
				HasOnline:   true,
			},
		})
	}
	return reports, false, nil
}

// ControlAck is the parsed acknowledgement of an outbound control frame.
type ControlAck struct {
	Ctr      byte   // echo of the counter from the acknowledged frame
	Function byte   // acknowledged op byte (0xD0, 0xF0 or 0xE2)
	Verb     string // op name for logs
	Success  bool
}

// ParseControlAck decodes a 0xF9 control acknowledgement. Byte 1 echoes
// the control counter, byte 7 is the success flag; zero means the device
// rejected the command.
func ParseControlAck(inner []byte) (ControlAck, error) {
	if len(inner) < innerMinLen {
		return ControlAck{}, fmt.Errorf("%w: control ack %d bytes", ErrBadInnerStruct, len(inner))
	}
	verb, ok := ackFunctions[inner[innerFunctionIdx]]
	if !ok || inner[innerMarkerIdx] != markerResponse {
		return ControlAck{}, fmt.Errorf("%w: not a control ack", ErrBadInnerStruct)
	}
	return ControlAck{
		Ctr:      inner[innerCounterIdx],
		Function: inner[innerFunctionIdx],
		Verb:     verb,
		Success:  inner[7] != 0x00,
	}, nil
}

// ParseFirmwareVersion pulls a dotted version string (for example
// "1.2.113") out of a firmware announcement. Returns "" when the payload
// holds nothing version-shaped.
func ParseFirmwareVersion(body []byte) string {
	best, run := "", ""
	digits := false
	flush := func() {
		run = strings.TrimRight(run, ".")
		if digits && len(run) > len(best) {
			best = run
		}
		run, digits = "", false
	}
	for _, b := range body {
		switch {
		case b >= '0' && b <= '9':
			run += string(b)
			digits = true
		case b == '.' && run != "":
			run += string(b)
		default:
			flush()
		}
	}
	flush()
	return best
}
