package cync

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cynclan/cync-lan/internal/infrastructure/mqtt"
)

func TestMonitorSamples(t *testing.T) {
	reg := bridgeRegistry(t)
	sessions := NewSessionRegistry(nil)
	mq := newFakeMQTT()
	clock := clockwork.NewFakeClock()

	m := NewMonitor(MonitorOptions{
		Sessions: sessions,
		Registry: reg,
		MQTT:     mq,
		Topics:   mqtt.Topics{Cync: "cync_lan", Hass: "homeassistant"},
		Interval: 30 * time.Second,
		Clock:    clock,
	})
	m.Start()
	t.Cleanup(m.Stop)

	waitPayload := func(topic, want string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if payload, ok := mq.lastPayload(topic); ok && payload == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		payload, _ := mq.lastPayload(topic)
		t.Fatalf("%s = %q, want %q", topic, payload, want)
	}

	// One sample goes out immediately on start.
	waitPayload("cync_lan/status/bridge-tcp-devices", "0")
	waitPayload("cync_lan/status/bridge-total-devices", "4")

	// A device connects; the next tick reports the new pool size.
	readyDeviceEnd(t, sessions, []byte{0x09, 0x09, 0x09, 0x09, 0x09})
	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)
	waitPayload("cync_lan/status/bridge-tcp-devices", "1")

	m.Stop()
	m.Stop()
}
