// Package influxdb provides InfluxDB connectivity for sync telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched point writing, and health monitoring.
//
// # Purpose
//
// The relay records every change batch it moves so that convergence runs
// can be inspected over time:
//   - crsql_sync: one point per published or applied batch
//   - crsql_session: database session open/close events
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "crsql",
//	    Bucket:  "crsql",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteSyncBatch("todo-app", "outbound", siteID.String(), 12, 7)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors reach the SetOnError callback
// wrapped in ErrWriteFailed.
// Connection and health check errors are returned directly.
package influxdb
