// Package influxdb records location history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched point writing and health monitoring.
//
// # Measurements
//
//   - capability: one point per accepted device capability change,
//     tagged location_id, device_id and capability
//   - alarm: location alarm state changes, tagged location_id
//   - connection: push channel transitions, tagged location_id
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteCapability("loc-1", "dev-1", "temperature", 21.5, ts)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Batch errors are delivered asynchronously through SetOnError.
// Connection and health check errors are returned directly.
package influxdb
