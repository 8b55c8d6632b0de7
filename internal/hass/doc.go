// Package hass translates between bridge state and the Home Assistant
// MQTT conventions.
//
// It owns three concerns:
//
//   - Entity identity: the hass_id naming scheme ("1001-7" for a device,
//     "1001-group-256" for a group, "bridge" for the bridge itself) and
//     its parser, used by both the discovery publisher and the command
//     router.
//   - Discovery: retained config payloads for the MQTT discovery protocol,
//     one per entity, so a stock Home Assistant finds every bulb, plug,
//     switch, fan, group, and the bridge's own diagnostic entities without
//     manual YAML.
//   - State and command payloads: the JSON schema for lights, bare ON/OFF
//     for switch-like entities, integer percent for fans, plus the inbound
//     command decoder.
//
// The wire protocol measures white temperature in vendor percent (0-100).
// Home Assistant speaks mireds. Conversions pivot through Kelvin across a
// configurable range; see PercentToKelvin and friends.
//
// The package has no MQTT dependency beyond topic strings: callers pass
// topics in and publish the returned payloads themselves.
package hass
