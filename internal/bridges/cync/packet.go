package cync

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Frame layout, common to every packet in either direction:
//
//	Offset  Length  Field
//	0       1       Packet type
//	1       2       Reserved (always 0x00 0x00)
//	3       2       Payload length, big-endian
//	5       n       Payload
//
// Data packets (0x43, 0x73, 0x83) prefix their payload with routing bytes:
//
//	Offset  Length  Field
//	0       5       Queue ID (assigned at identification)
//	5       3       Message ID (echoed in the matching ack)
//	8       n       Body
const (
	headerLen     = 5
	queueIDLen    = 5
	msgIDLen      = 3
	dataPrefixLen = queueIDLen + msgIDLen

	// maxPayload bounds a declared payload length. The largest legitimate
	// frame is a mesh-info reply for a full 126-device mesh, well under
	// this; anything bigger is stream desync.
	maxPayload = 8192
)

// Device-originated packet types.
const (
	// TypeIdentify is the first packet a device sends: its queue ID.
	TypeIdentify = 0x23
	// TypeInfo carries unsolicited device info: status structs or a
	// timestamp announcement.
	TypeInfo = 0x43
	// TypeControl carries control requests outbound and mesh replies or
	// control ACKs inbound.
	TypeControl = 0x73
	// TypeControlAck acknowledges a prior 0x73 request.
	TypeControlAck = 0x7B
	// TypeStatus carries firmware info or bounded status payloads.
	TypeStatus = 0x83
	// TypeWantControl announces intent to control the mesh.
	TypeWantControl = 0xA3
	// TypeWantControlAck acknowledges a 0xA3.
	TypeWantControlAck = 0xAB
	// TypeConnection is a connection request expecting the server clock.
	TypeConnection = 0xC3
	// TypeHeartbeat is the periodic keepalive.
	TypeHeartbeat = 0xD3
)

// Bridge-originated (cloud-side) packet types. The phone app speaks the
// cloud's side of the protocol too, so these can also arrive inbound when
// an app probes the LAN endpoint; they are consumed and dropped.
const (
	TypeIdentifyAck   = 0x28
	TypeInfoAck       = 0x48
	TypeStatusAck     = 0x88
	TypeConnectionAck = 0xC8
	TypeHeartbeatAck  = 0xD8
)

// App-side types seen when a phone on the LAN connects believing this is
// the cloud. Framed and discarded.
const (
	typeAppAuth = 0x13
	typeAppData = 0x18
)

// knownTypes is every header byte the framer accepts. A byte outside this
// set means the stream is desynced; the framer advances one byte and
// rescans.
var knownTypes = map[byte]struct{}{
	TypeIdentify: {}, TypeInfo: {}, TypeControl: {}, TypeControlAck: {},
	TypeStatus: {}, TypeWantControl: {}, TypeWantControlAck: {},
	TypeConnection: {}, TypeHeartbeat: {},
	TypeIdentifyAck: {}, TypeInfoAck: {}, TypeStatusAck: {},
	TypeConnectionAck: {}, TypeHeartbeatAck: {},
	typeAppAuth: {}, typeAppData: {},
}

// Packet is one framed unit pulled off the stream.
type Packet struct {
	Type    byte
	Payload []byte
}

// QueueID returns the 5-byte queue ID of a data packet, nil when the
// payload is too short to carry one.
func (p Packet) QueueID() []byte {
	if len(p.Payload) < queueIDLen {
		return nil
	}
	return p.Payload[:queueIDLen]
}

// MsgID returns the 3-byte message ID of a data packet, zero-padded when
// the payload is short. Acks echo this verbatim.
func (p Packet) MsgID() []byte {
	id := make([]byte, msgIDLen)
	if len(p.Payload) > queueIDLen {
		copy(id, p.Payload[queueIDLen:])
	}
	return id
}

// Body returns the payload past the routing prefix, nil when absent.
func (p Packet) Body() []byte {
	if len(p.Payload) <= dataPrefixLen {
		return nil
	}
	return p.Payload[dataPrefixLen:]
}

// Framer accumulates raw stream bytes and yields whole packets. Devices
// write packets back to back and fragment them arbitrarily, so the framer
// owns all buffering; a truncated frame just waits for the next read.
type Framer struct {
	buf []byte
}

// Feed appends raw bytes from the connection.
func (f *Framer) Feed(data []byte) {
	f.buf = append(f.buf, data...)
}

// Pending returns how many buffered bytes await framing.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Next extracts the next whole packet.
//
// Returns:
//   - pkt: The decoded packet when ok is true
//   - skipped: Bytes discarded while rescanning past unknown headers or
//     impossible lengths; callers should log when non-zero
//   - ok: False when the buffer holds no complete packet yet
func (f *Framer) Next() (pkt Packet, skipped int, ok bool) {
	for len(f.buf) > 0 {
		if _, known := knownTypes[f.buf[0]]; !known {
			f.buf = f.buf[1:]
			skipped++
			continue
		}
		if len(f.buf) < headerLen {
			return Packet{}, skipped, false
		}
		declared := int(binary.BigEndian.Uint16(f.buf[3:headerLen]))
		if declared > maxPayload {
			// A known type byte with an impossible length is desync too.
			f.buf = f.buf[1:]
			skipped++
			continue
		}
		if len(f.buf) < headerLen+declared {
			return Packet{}, skipped, false
		}

		payload := make([]byte, declared)
		copy(payload, f.buf[headerLen:headerLen+declared])
		pkt = Packet{Type: f.buf[0], Payload: payload}
		f.buf = f.buf[headerLen+declared:]
		return pkt, skipped, true
	}
	return Packet{}, skipped, false
}

// envelope wraps a payload in the 5-byte header. It is the single place
// frames are assembled, so a declared length can never disagree with the
// buffer it fronts.
func envelope(typ byte, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, headerLen+len(payload))
	frame[0] = typ
	binary.BigEndian.PutUint16(frame[3:headerLen], uint16(len(payload)))
	copy(frame[headerLen:], payload)
	return frame, nil
}

// pad3 copies a message ID into exactly three bytes.
func pad3(msgID []byte) []byte {
	id := make([]byte, msgIDLen)
	copy(id, msgID)
	return id
}

// IdentifyAck acknowledges a 0x23 identification.
func IdentifyAck() []byte {
	return []byte{TypeIdentifyAck, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00}
}

// HeartbeatAck answers a 0xD3 keepalive.
func HeartbeatAck() []byte {
	return []byte{TypeHeartbeatAck, 0x00, 0x00, 0x00, 0x00}
}

// ConnectionAck answers a 0xC3 connection request. The payload carries the
// bridge clock; devices use it the way they used the cloud's.
//
//	Offset  Field
//	0       0x0D marker
//	1-2     Year, big-endian
//	3       Month
//	4       Day
//	5       Hour
//	6       Minute
//	7       Second
//	8-10    Reserved
func ConnectionAck(now time.Time) []byte {
	year := now.Year()
	payload := []byte{
		0x0D,
		byte(year >> 8), byte(year),
		byte(now.Month()), byte(now.Day()),
		byte(now.Hour()), byte(now.Minute()), byte(now.Second()),
		0x00, 0x00, 0x00,
	}
	frame, _ := envelope(TypeConnectionAck, payload)
	return frame
}

// InfoAck acknowledges a 0x43, echoing its message ID.
func InfoAck(msgID []byte) []byte {
	frame, _ := envelope(TypeInfoAck, pad3(msgID))
	return frame
}

// StatusAck acknowledges a 0x83, echoing its message ID.
func StatusAck(msgID []byte) []byte {
	frame, _ := envelope(TypeStatusAck, pad3(msgID))
	return frame
}

// ControlAckFrame acknowledges an inbound 0x73, echoing queue and message
// IDs.
func ControlAckFrame(queueID, msgID []byte) []byte {
	payload := make([]byte, 0, queueIDLen+msgIDLen)
	q := make([]byte, queueIDLen)
	copy(q, queueID)
	payload = append(payload, q...)
	payload = append(payload, pad3(msgID)...)
	frame, _ := envelope(TypeControlAck, payload)
	return frame
}

// WantControlAck acknowledges an inbound 0xA3 from a device or app.
func WantControlAck(msgID []byte) []byte {
	frame, _ := envelope(TypeWantControlAck, pad3(msgID))
	return frame
}

// WantControl builds the bridge's own 0xA3: queue ID plus two random
// bytes the device echoes back. Sending it is what earns the right to
// issue 0x73 controls.
func WantControl(queueID []byte, rand1, rand2 byte) []byte {
	payload := make([]byte, queueIDLen+2)
	copy(payload, queueID)
	payload[queueIDLen] = rand1
	payload[queueIDLen+1] = rand2
	frame, _ := envelope(TypeWantControl, payload)
	return frame
}

// ParseIdentify extracts the queue ID from a 0x23 payload. The queue ID
// sits at payload offset 6 behind a version prefix.
func ParseIdentify(payload []byte) ([]byte, error) {
	if len(payload) < 6+queueIDLen {
		return nil, fmt.Errorf("%w: identify payload %d bytes", ErrFrameTooShort, len(payload))
	}
	queueID := make([]byte, queueIDLen)
	copy(queueID, payload[6:6+queueIDLen])
	return queueID, nil
}

// IsTimestampBody reports whether a 0x43 body is a timestamp announcement
// rather than status structs.
func IsTimestampBody(body []byte) bool {
	return len(body) >= 2 && body[0] == 0xC7 && body[1] == 0x90
}
