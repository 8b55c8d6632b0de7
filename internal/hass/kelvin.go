package hass

import "math"

// The wire protocol measures white temperature as a vendor percent where 0
// is the warmest white a device produces and 100 the coolest. Home
// Assistant's MQTT light schema speaks mireds. Conversions pivot through
// Kelvin over a configurable range; 2000-7000 K matches the published
// device specs.

// PercentToKelvin maps a vendor temperature percent onto the Kelvin range.
// Percent is clamped to 0-100 first.
func PercentToKelvin(pct, minKelvin, maxKelvin int) int {
	pct = clampInt(pct, 0, 100)
	return minKelvin + int(math.Round(float64(pct)*float64(maxKelvin-minKelvin)/100.0))
}

// KelvinToPercent maps a Kelvin value back onto the vendor percent scale.
// Kelvin is clamped to the range first.
func KelvinToPercent(kelvin, minKelvin, maxKelvin int) int {
	kelvin = clampInt(kelvin, minKelvin, maxKelvin)
	span := maxKelvin - minKelvin
	if span <= 0 {
		return 0
	}
	return int(math.Round(float64(kelvin-minKelvin) * 100.0 / float64(span)))
}

// KelvinToMireds converts Kelvin to the mired scale (1e6 / K).
func KelvinToMireds(kelvin int) int {
	if kelvin <= 0 {
		return 0
	}
	return int(math.Round(1_000_000.0 / float64(kelvin)))
}

// MiredsToKelvin converts mireds back to Kelvin.
func MiredsToKelvin(mireds int) int {
	if mireds <= 0 {
		return 0
	}
	return int(math.Round(1_000_000.0 / float64(mireds)))
}

// PercentToMireds is the full outbound chain used for state payloads.
func PercentToMireds(pct, minKelvin, maxKelvin int) int {
	return KelvinToMireds(PercentToKelvin(pct, minKelvin, maxKelvin))
}

// MiredsToPercent is the full inbound chain used for commands.
func MiredsToPercent(mireds, minKelvin, maxKelvin int) int {
	return KelvinToPercent(MiredsToKelvin(mireds), minKelvin, maxKelvin)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
