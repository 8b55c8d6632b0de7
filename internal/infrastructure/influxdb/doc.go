// Package influxdb ships cync-lan telemetry to InfluxDB v2.
//
// It wraps influxdb-client-go with connect/health plumbing and typed
// write helpers for the bridge's two measurements:
//   - device_state: every applied state transition, tagged by home and
//     report origin
//   - bridge_sessions: total/ready session gauges from the pool monitor
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceState(influxdb.DeviceStatePoint{
//	    Home: "1001", DeviceID: 7, Source: "stream", On: true, Online: true,
//	})
//
// # Error Handling
//
// Writes never block and never return errors; the async batcher
// delivers failures to the SetOnError callback, where the bridge logs
// them. Connect and HealthCheck report errors directly.
//
// # Performance
//
// Batch size and flush interval come from config.yaml. The reconcile
// path only appends to an in-memory batch, so a slow or absent InfluxDB
// never delays device status publishes.
package influxdb
