package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// DeviceStatePoint is one device state observation destined for the
// device_state measurement.
//
// Home and Source become tags (low cardinality: a handful of homes and
// report origins like "stream" or "mesh info"); everything else is a
// field.
type DeviceStatePoint struct {
	Home        string
	DeviceID    int
	Source      string
	On          bool
	Brightness  int
	Temperature int
	R, G, B     int
	Online      bool
}

// WriteDeviceState records a single applied state transition.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Boolean states are stored as 0/1 integers so mean() aggregations work
// in Flux queries.
//
// Example:
//
//	client.WriteDeviceState(influxdb.DeviceStatePoint{
//	    Home: "1001", DeviceID: 7, Source: "stream",
//	    On: true, Brightness: 46, Temperature: 50, Online: true,
//	})
func (c *Client) WriteDeviceState(p DeviceStatePoint) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"home":   p.Home,
			"device": strconv.Itoa(p.DeviceID),
			"source": p.Source,
		},
		map[string]any{
			"on":          boolField(p.On),
			"brightness":  p.Brightness,
			"temperature": p.Temperature,
			"r":           p.R,
			"g":           p.G,
			"b":           p.B,
			"online":      boolField(p.Online),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionGauges records bridge session counts.
//
// Written by the pool monitor on its tick; total is every open TCP
// session, ready is sessions past their mesh-info exchange.
func (c *Client) WriteSessionGauges(total, ready int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"bridge_sessions",
		nil,
		map[string]any{
			"total": total,
			"ready": ready,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements the helpers don't
// cover. Keep tags low-cardinality.
//
//	client.WritePoint("command_latency",
//	    map[string]string{"home": "1001"},
//	    map[string]any{"millis": 412})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime is WritePoint with an explicit timestamp, for data
// that did not happen "now".
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

// boolField converts a bool to the 0/1 integer stored in InfluxDB.
func boolField(b bool) int {
	if b {
		return 1
	}
	return 0
}
