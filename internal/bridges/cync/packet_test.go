package cync

import (
	"bytes"
	"testing"
	"time"
)

// frame builds a wire frame around payload for feeding the framer.
func frame(t *testing.T, typ byte, payload []byte) []byte {
	t.Helper()
	f, err := envelope(typ, payload)
	if err != nil {
		t.Fatalf("envelope(0x%02X) error = %v", typ, err)
	}
	return f
}

func TestFramerWholeFrame(t *testing.T) {
	var f Framer
	payload := []byte{0x01, 0x02, 0x03}
	f.Feed(frame(t, TypeHeartbeat, payload))

	pkt, skipped, ok := f.Next()
	if !ok {
		t.Fatal("Next() ok = false, want packet")
	}
	if skipped != 0 {
		t.Errorf("Next() skipped = %d, want 0", skipped)
	}
	if pkt.Type != TypeHeartbeat {
		t.Errorf("pkt.Type = 0x%02X, want 0x%02X", pkt.Type, TypeHeartbeat)
	}
	if !bytes.Equal(pkt.Payload, payload) {
		t.Errorf("pkt.Payload = % X, want % X", pkt.Payload, payload)
	}
	if _, _, ok := f.Next(); ok {
		t.Error("Next() after drain ok = true, want false")
	}
}

func TestFramerReassemblesFragments(t *testing.T) {
	var f Framer
	full := frame(t, TypeInfo, bytes.Repeat([]byte{0xAB}, 20))

	// Feed one byte at a time; no packet until the last byte lands.
	for i, b := range full {
		f.Feed([]byte{b})
		_, _, ok := f.Next()
		if i < len(full)-1 && ok {
			t.Fatalf("Next() yielded a packet after %d of %d bytes", i+1, len(full))
		}
		if i == len(full)-1 && !ok {
			t.Fatal("Next() ok = false after the final byte")
		}
	}
}

func TestFramerBackToBackFrames(t *testing.T) {
	var f Framer
	buf := append(frame(t, TypeHeartbeat, nil), frame(t, TypeConnection, []byte{0x01})...)
	f.Feed(buf)

	first, _, ok := f.Next()
	if !ok || first.Type != TypeHeartbeat {
		t.Fatalf("first Next() = (0x%02X, %v), want heartbeat", first.Type, ok)
	}
	second, _, ok := f.Next()
	if !ok || second.Type != TypeConnection {
		t.Fatalf("second Next() = (0x%02X, %v), want connection", second.Type, ok)
	}
}

func TestFramerSkipsUnknownBytes(t *testing.T) {
	var f Framer
	garbage := []byte{0xDE, 0xAD, 0xBE}
	f.Feed(append(garbage, frame(t, TypeHeartbeat, nil)...))

	pkt, skipped, ok := f.Next()
	if !ok {
		t.Fatal("Next() ok = false, want packet after skipping garbage")
	}
	if skipped != len(garbage) {
		t.Errorf("Next() skipped = %d, want %d", skipped, len(garbage))
	}
	if pkt.Type != TypeHeartbeat {
		t.Errorf("pkt.Type = 0x%02X, want heartbeat", pkt.Type)
	}
}

func TestFramerRescansImpossibleLength(t *testing.T) {
	var f Framer
	// A known type byte fronting a length beyond the protocol bound must
	// not stall the stream: the framer slides one byte and rescans.
	desync := []byte{TypeControl, 0xFF, 0xFF, 0xFF, 0xFF}
	f.Feed(append(desync, frame(t, TypeHeartbeat, nil)...))

	pkt, skipped, ok := f.Next()
	if !ok {
		t.Fatal("Next() ok = false, want packet after rescanning")
	}
	if skipped == 0 {
		t.Error("Next() skipped = 0, want rescanned bytes counted")
	}
	if pkt.Type != TypeHeartbeat {
		t.Errorf("pkt.Type = 0x%02X, want heartbeat", pkt.Type)
	}
}

func TestFramerPartialHeaderWaits(t *testing.T) {
	var f Framer
	f.Feed([]byte{TypeStatus, 0x00})
	if _, skipped, ok := f.Next(); ok || skipped != 0 {
		t.Errorf("Next() = (skipped %d, ok %v), want incomplete wait", skipped, ok)
	}
	if f.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", f.Pending())
	}
}

func TestPacketRoutingAccessors(t *testing.T) {
	queue := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	msg := []byte{0x01, 0x02, 0x03}
	body := []byte{0x7E, 0x99}
	payload := append(append(append([]byte{}, queue...), msg...), body...)
	pkt := Packet{Type: TypeStatus, Payload: payload}

	if !bytes.Equal(pkt.QueueID(), queue) {
		t.Errorf("QueueID() = % X, want % X", pkt.QueueID(), queue)
	}
	if !bytes.Equal(pkt.MsgID(), msg) {
		t.Errorf("MsgID() = % X, want % X", pkt.MsgID(), msg)
	}
	if !bytes.Equal(pkt.Body(), body) {
		t.Errorf("Body() = % X, want % X", pkt.Body(), body)
	}

	short := Packet{Type: TypeStatus, Payload: []byte{0x01}}
	if short.QueueID() != nil {
		t.Error("QueueID() on short payload != nil")
	}
	if short.Body() != nil {
		t.Error("Body() on short payload != nil")
	}
}

func TestAckFrameBytes(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"identify", IdentifyAck(), []byte{0x28, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00}},
		{"heartbeat", HeartbeatAck(), []byte{0xD8, 0x00, 0x00, 0x00, 0x00}},
		{"info", InfoAck([]byte{0x11, 0x22, 0x33}), []byte{0x48, 0x00, 0x00, 0x00, 0x03, 0x11, 0x22, 0x33}},
		{"status", StatusAck([]byte{0x01}), []byte{0x88, 0x00, 0x00, 0x00, 0x03, 0x01, 0x00, 0x00}},
		{
			"control",
			ControlAckFrame([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}, []byte{0x01, 0x02, 0x03}),
			[]byte{0x7B, 0x00, 0x00, 0x00, 0x08, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01, 0x02, 0x03},
		},
		{
			"want control",
			WantControl([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}, 0x12, 0x34),
			[]byte{0xA3, 0x00, 0x00, 0x00, 0x07, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x12, 0x34},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("frame = % X, want % X", tt.got, tt.want)
			}
		})
	}
}

func TestConnectionAckEncodesClock(t *testing.T) {
	now := time.Date(2024, time.March, 5, 14, 30, 45, 0, time.UTC)
	got := ConnectionAck(now)
	want := []byte{
		0xC8, 0x00, 0x00, 0x00, 0x0B,
		0x0D, 0x07, 0xE8, // 2024 big-endian
		0x03, 0x05, 0x0E, 0x1E, 0x2D,
		0x00, 0x00, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ConnectionAck() = % X, want % X", got, want)
	}
}

func TestParseIdentify(t *testing.T) {
	payload := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	queue, err := ParseIdentify(payload)
	if err != nil {
		t.Fatalf("ParseIdentify() error = %v", err)
	}
	want := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	if !bytes.Equal(queue, want) {
		t.Errorf("ParseIdentify() = % X, want % X", queue, want)
	}

	if _, err := ParseIdentify([]byte{0x00, 0x01}); err == nil {
		t.Error("ParseIdentify(short) error = nil, want ErrFrameTooShort")
	}
}

func TestIsTimestampBody(t *testing.T) {
	if !IsTimestampBody([]byte{0xC7, 0x90, 0x01}) {
		t.Error("IsTimestampBody(C7 90 ...) = false, want true")
	}
	if IsTimestampBody([]byte{0x00, 0x01, 0x02}) {
		t.Error("IsTimestampBody(status structs) = true, want false")
	}
	if IsTimestampBody(nil) {
		t.Error("IsTimestampBody(nil) = true, want false")
	}
}

func TestEnvelopeRejectsOversizedPayload(t *testing.T) {
	if _, err := envelope(TypeControl, make([]byte, maxPayload+1)); err == nil {
		t.Error("envelope(oversized) error = nil, want ErrFrameTooLarge")
	}
}
