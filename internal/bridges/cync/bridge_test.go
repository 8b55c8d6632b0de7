package cync

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cynclan/cync-lan/internal/device"
	"github.com/cynclan/cync-lan/internal/hass"
	"github.com/cynclan/cync-lan/internal/infrastructure/config"
	"github.com/cynclan/cync-lan/internal/infrastructure/mqtt"
)

// publishRecord is one captured MQTT publication.
type publishRecord struct {
	topic    string
	payload  string
	retained bool
}

// fakeMQTT satisfies MQTTConn and captures everything the bridge sends.
type fakeMQTT struct {
	mu        sync.Mutex
	published []publishRecord
	subs      map[string]mqtt.MessageHandler
	onConnect func()
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{subs: make(map[string]mqtt.MessageHandler)}
}

func (m *fakeMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishRecord{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (m *fakeMQTT) PublishString(topic, payload string, qos byte, retained bool) error {
	return m.Publish(topic, []byte(payload), qos, retained)
}

func (m *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[topic] = handler
	return nil
}

func (m *fakeMQTT) SetOnConnect(cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = cb
}

// lastPayload returns the most recent payload published to topic.
func (m *fakeMQTT) lastPayload(topic string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].topic == topic {
			return m.published[i].payload, true
		}
	}
	return "", false
}

func (m *fakeMQTT) publishCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

func (m *fakeMQTT) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// bridgeRegistry seeds one home: a wall switch and a tunable light share
// the Den room group, device 9 pairs with 7 in subgroup 256, and device
// 11 is a fan.
func bridgeRegistry(t *testing.T) *device.Registry {
	t.Helper()
	reg, err := device.NewRegistry([]config.HomeConfig{{
		ID:   1001,
		Name: "Home",
		Devices: []config.DeviceConfig{
			{ID: 3, Name: "Den Switch", Type: 114},
			{ID: 7, Name: "Den Light", Type: 5},
			{ID: 9, Name: "Loft Light", Type: 6},
			{ID: 11, Name: "Attic Fan", Type: 81},
		},
		Groups: []config.GroupConfig{
			{ID: 32768, Name: "Den", Members: []int{3, 7}},
			{ID: 256, Name: "Loft Pair", Members: []int{7, 9}, Subgroup: true},
		},
	}})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

// testBridge builds a bridge over the fixture registry and a capturing
// MQTT conn. Start is not called: the router methods are exercised
// directly and the executor worker stays parked, so submitted commands
// remain observable on the queue.
func testBridge(t *testing.T) (*Bridge, *fakeMQTT) {
	t.Helper()
	mq := newFakeMQTT()
	b, err := NewBridge(BridgeOptions{
		Registry: bridgeRegistry(t),
		MQTT:     mq,
		Topics:   mqtt.Topics{Cync: "cync_lan", Hass: "homeassistant"},
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	return b, mq
}

// lightState decodes a JSON light payload published to topic.
func lightState(t *testing.T, mq *fakeMQTT, topic string) hass.LightState {
	t.Helper()
	payload, ok := mq.lastPayload(topic)
	if !ok {
		t.Fatalf("nothing published to %s", topic)
	}
	var st hass.LightState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		t.Fatalf("decoding %s payload %q: %v", topic, payload, err)
	}
	return st
}

func TestBridgeOptimisticGroupPublish(t *testing.T) {
	b, mq := testBridge(t)

	b.PublishCommandState(Command{Kind: CmdPower, ID: 256, Group: true, On: false})

	// The virtual group light and both members flip off together.
	if st := lightState(t, mq, "cync_lan/status/1001-group-256"); st.State != "OFF" {
		t.Errorf("group state = %q, want OFF", st.State)
	}
	for _, topic := range []string{"cync_lan/status/1001-7", "cync_lan/status/1001-9"} {
		if st := lightState(t, mq, topic); st.State != "OFF" {
			t.Errorf("%s state = %q, want OFF", topic, st.State)
		}
	}
	// The fan and the switch are not members; nothing goes to them.
	for _, topic := range []string{"cync_lan/status/1001-3", "cync_lan/status/1001-11"} {
		if payload, ok := mq.lastPayload(topic); ok {
			t.Errorf("unexpected publish to %s: %q", topic, payload)
		}
	}
}

func TestBridgeOptimisticSwitchSyncsRoomMembers(t *testing.T) {
	b, mq := testBridge(t)

	b.PublishCommandState(Command{Kind: CmdPower, ID: 3, On: true})

	// The switch itself renders plain ON.
	if payload, ok := mq.lastPayload("cync_lan/status/1001-3"); !ok || payload != "ON" {
		t.Errorf("switch payload = %q (ok=%v), want ON", payload, ok)
	}
	// Its room light flips with it rather than waiting out the mesh.
	if st := lightState(t, mq, "cync_lan/status/1001-7"); st.State != "ON" {
		t.Errorf("room member state = %q, want ON", st.State)
	}
	// Devices outside the Den group stay quiet.
	if payload, ok := mq.lastPayload("cync_lan/status/1001-9"); ok {
		t.Errorf("unexpected publish outside the room group: %q", payload)
	}
}

func TestBridgeOptimisticNonSwitchDoesNotSync(t *testing.T) {
	b, mq := testBridge(t)

	b.PublishCommandState(Command{Kind: CmdBrightness, ID: 7, Value: 80})

	st := lightState(t, mq, "cync_lan/status/1001-7")
	if st.State != "ON" || st.Brightness != 80 {
		t.Errorf("light state = %+v, want ON at 80", st)
	}
	// A light command stays on the light; group members do not follow.
	if payload, ok := mq.lastPayload("cync_lan/status/1001-3"); ok {
		t.Errorf("light command synced the switch: %q", payload)
	}
}

func TestBridgeRoutesCommands(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		depth   int
		check   func(t *testing.T, mq *fakeMQTT)
	}{
		{
			name:    "json power on",
			topic:   "cync_lan/set/1001-7",
			payload: `{"state":"ON"}`,
			depth:   1,
			check: func(t *testing.T, mq *fakeMQTT) {
				if st := lightState(t, mq, "cync_lan/status/1001-7"); st.State != "ON" {
					t.Errorf("optimistic state = %q, want ON", st.State)
				}
			},
		},
		{
			name:    "plain off",
			topic:   "cync_lan/set/1001-7",
			payload: "OFF",
			depth:   1,
			check: func(t *testing.T, mq *fakeMQTT) {
				if st := lightState(t, mq, "cync_lan/status/1001-7"); st.State != "OFF" {
					t.Errorf("optimistic state = %q, want OFF", st.State)
				}
			},
		},
		{
			name:    "brightness wins over state",
			topic:   "cync_lan/set/1001-7",
			payload: `{"state":"ON","brightness":80}`,
			depth:   1,
			check: func(t *testing.T, mq *fakeMQTT) {
				st := lightState(t, mq, "cync_lan/status/1001-7")
				if st.Brightness != 80 || st.State != "ON" {
					t.Errorf("optimistic state = %+v, want ON at 80", st)
				}
			},
		},
		{
			name:    "fan percentage",
			topic:   "cync_lan/set/1001-11/percentage",
			payload: "50",
			depth:   1,
			check: func(t *testing.T, mq *fakeMQTT) {
				if payload, ok := mq.lastPayload("cync_lan/status/1001-11"); !ok || payload != "50" {
					t.Errorf("fan payload = %q (ok=%v), want 50", payload, ok)
				}
			},
		},
		{
			name:    "fan preset",
			topic:   "cync_lan/set/1001-11/preset",
			payload: "high",
			depth:   1,
			check: func(t *testing.T, mq *fakeMQTT) {
				if payload, ok := mq.lastPayload("cync_lan/status/1001-11"); !ok || payload != "75" {
					t.Errorf("fan payload = %q (ok=%v), want 75", payload, ok)
				}
			},
		},
		{
			name:    "group json off",
			topic:   "cync_lan/set/1001-group-256",
			payload: `{"state":"OFF"}`,
			depth:   1,
			check: func(t *testing.T, mq *fakeMQTT) {
				if st := lightState(t, mq, "cync_lan/status/1001-group-256"); st.State != "OFF" {
					t.Errorf("group state = %q, want OFF", st.State)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, mq := testBridge(t)
			if err := b.handleSet(tt.topic, []byte(tt.payload)); err != nil {
				t.Fatalf("handleSet() error = %v", err)
			}
			if got := b.executor.QueueDepth(); got != tt.depth {
				t.Errorf("QueueDepth() = %d, want %d", got, tt.depth)
			}
			if tt.check != nil {
				tt.check(t, mq)
			}
		})
	}
}

func TestBridgeDropsUnroutableCommands(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"unknown device", "cync_lan/set/1001-999", `{"state":"ON"}`},
		{"home mismatch", "cync_lan/set/2002-7", `{"state":"ON"}`},
		{"unknown group", "cync_lan/set/1001-group-999", `{"state":"OFF"}`},
		{"garbled id", "cync_lan/set/lamp", "ON"},
		{"bad json", "cync_lan/set/1001-7", `{"state":`},
		{"unknown state word", "cync_lan/set/1001-7", `{"state":"BLUE"}`},
		{"empty payload", "cync_lan/set/1001-7", ""},
		{"fan percent out of range", "cync_lan/set/1001-11/percentage", "150"},
		{"fan preset unknown", "cync_lan/set/1001-11/preset", "ludicrous"},
		{"unknown subtopic", "cync_lan/set/1001-7/paint", "ON"},
		{"foreign topic", "zigbee/set/1001-7", "ON"},
		{"unknown bridge action", "cync_lan/set/bridge/selfdestruct", ""},
		{"otp goes to the unwired export stub", "cync_lan/set/bridge/otp/submit", "123456"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, mq := testBridge(t)
			if err := b.handleSet(tt.topic, []byte(tt.payload)); err != nil {
				t.Fatalf("handleSet() error = %v; unroutable input must be dropped, not errored", err)
			}
			if got := b.executor.QueueDepth(); got != 0 {
				t.Errorf("QueueDepth() = %d, want 0", got)
			}
			if n := mq.publishCount(); n != 0 {
				t.Errorf("published %d messages for unroutable input", n)
			}
		})
	}
}

func TestBridgeRestartButton(t *testing.T) {
	b, _ := testBridge(t)

	if err := b.handleSet("cync_lan/set/bridge/restart", nil); err != nil {
		t.Fatalf("handleSet() error = %v", err)
	}
	select {
	case <-b.RestartSignal():
	case <-time.After(time.Second):
		t.Fatal("restart signal never fired")
	}

	// A second press while one is pending must not block the router.
	b.RequestRestart()
	b.RequestRestart()
}

func TestBridgeBirthRepublishesDiscovery(t *testing.T) {
	b, mq := testBridge(t)

	// Only the birth payload triggers anything.
	if err := b.handleHassStatus("homeassistant/status", []byte("offline")); err != nil {
		t.Fatalf("handleHassStatus() error = %v", err)
	}
	if n := mq.publishCount(); n != 0 {
		t.Fatalf("published %d messages on a non-birth payload", n)
	}

	if err := b.handleHassStatus("homeassistant/status", []byte("online")); err != nil {
		t.Fatalf("handleHassStatus() error = %v", err)
	}
	for _, topic := range []string{
		"homeassistant/light/1001-7/config",
		"homeassistant/switch/1001-3/config",
		"homeassistant/fan/1001-11/config",
		"homeassistant/light/1001-group-256/config",
	} {
		payload, ok := mq.lastPayload(topic)
		if !ok {
			t.Errorf("no discovery config on %s", topic)
			continue
		}
		if !strings.Contains(payload, "1001") {
			t.Errorf("discovery config on %s does not carry the entity id: %q", topic, payload)
		}
	}
	// The snapshot that follows discovery covers state and availability.
	if _, ok := mq.lastPayload("cync_lan/status/1001-7"); !ok {
		t.Error("birth did not republish device state")
	}
	if payload, ok := mq.lastPayload("cync_lan/availability/1001-7"); !ok || payload != "offline" {
		t.Errorf("availability = %q (ok=%v), want offline before any mesh report", payload, ok)
	}
}

func TestBridgeStartWiresRouterAndDiscovery(t *testing.T) {
	b, mq := testBridge(t)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	mq.mu.Lock()
	_, setOK := mq.subs["cync_lan/set/#"]
	_, birthOK := mq.subs["homeassistant/status"]
	reconnect := mq.onConnect
	mq.mu.Unlock()
	if !setOK {
		t.Error("command topic not subscribed")
	}
	if !birthOK {
		t.Error("home assistant status topic not subscribed")
	}
	if reconnect == nil {
		t.Fatal("no reconnect callback registered")
	}

	if _, ok := mq.lastPayload("homeassistant/light/1001-7/config"); !ok {
		t.Error("discovery not published on start")
	}

	// A broker reconnect replays discovery and state.
	mq.reset()
	reconnect()
	if _, ok := mq.lastPayload("homeassistant/light/1001-7/config"); !ok {
		t.Error("reconnect did not republish discovery")
	}
	if _, ok := mq.lastPayload("cync_lan/status/1001-7"); !ok {
		t.Error("reconnect did not republish state")
	}
}
