// Package mqtt wraps Eclipse Paho for cync-lan's broker link.
//
// This package manages:
//   - Broker connection with fixed-interval retry and auto-reconnect
//   - Publishing with per-message QoS and retain
//   - Wildcard subscriptions, replayed after reconnect
//   - Last Will and Testament (retained "offline" on the connected topic)
//   - Topic construction for the cync_lan/ and homeassistant/ trees
//
// # Architecture
//
// MQTT is the bridge's only northbound surface: every Cync device and
// group appears as a Home-Assistant-style entity with state,
// availability, and command topics, plus retained discovery configs.
//
//	Cync devices ↔ cync-lan ↔ MQTT broker ↔ Home Assistant
//
// # Security Considerations
//
//   - Use broker credentials everywhere except throwaway dev setups
//   - TLS matters once the broker sits outside the LAN segment
//   - Payloads themselves are plain JSON; transport is the only shield
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT.Topics)
//
//	// All inbound commands funnel through one wildcard.
//	err = client.Subscribe(topics.AllSet(), 0,
//	    func(topic string, payload []byte) error {
//	        log.Printf("received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	client.PublishString(topics.Status("1001-7"), "ON", 0, false)
package mqtt
