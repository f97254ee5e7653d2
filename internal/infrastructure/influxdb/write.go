package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the harness.
const (
	// MeasurementSync records one relayed change batch.
	MeasurementSync = "crsql_sync"

	// MeasurementSession records a session lifecycle event.
	MeasurementSession = "crsql_session"
)

// WriteSyncBatch records a batch the relay published or applied.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - dbID: Replicated database the batch belongs to
//   - direction: "outbound" for published batches, "inbound" for applied ones
//   - site: Site the changes originated from
//   - changes: Number of change rows in the batch
//   - dbVersion: db_version of the batch's last change
//
// Example:
//
//	client.WriteSyncBatch("todo-app", "outbound", siteID.String(), 42, 17)
func (c *Client) WriteSyncBatch(dbID, direction, site string, changes int, dbVersion int64) {
	c.writePoint(write.NewPoint(
		MeasurementSync,
		map[string]string{
			"db_id":     dbID,
			"direction": direction,
			"site_id":   site,
		},
		map[string]any{
			"changes":    changes,
			"db_version": dbVersion,
		},
		time.Now(),
	))
}

// WriteSessionEvent records a database session event such as "open" or "close".
//
// Parameters:
//   - dbID: Replicated database the session belongs to
//   - event: Lifecycle event name
//   - dbVersion: db_version observed at the event
func (c *Client) WriteSessionEvent(dbID, event string, dbVersion int64) {
	c.writePoint(write.NewPoint(
		MeasurementSession,
		map[string]string{
			"db_id": dbID,
			"event": event,
		},
		map[string]any{
			"db_version": dbVersion,
		},
		time.Now(),
	))
}

// writePoint hands p to the batching writer while the client is connected.
func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
