package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReceiverState records a session state transition for a receiver.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - receiverID: Unique identifier for the receiver (UUID from discovery)
//   - state: The session state name (e.g., "connected", "disconnected", "error")
//
// Example:
//
//	client.WriteReceiverState("a1b2c3d4", "connected")
func (c *Client) WriteReceiverState(receiverID string, state string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"receiver_state",
		map[string]string{
			"receiver_id": receiverID,
		},
		map[string]interface{}{
			"state": state,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteVolume records a receiver volume report.
//
// Used for tracking volume changes over time, both those commanded by the
// bridge and those made locally on the receiver.
//
// Parameters:
//   - receiverID: Receiver identifier
//   - level: Volume level in [0.0, 1.0]
//   - muted: Whether the receiver is muted
func (c *Client) WriteVolume(receiverID string, level float64, muted bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"volume",
		map[string]string{
			"receiver_id": receiverID,
		},
		map[string]interface{}{
			"level": level,
			"muted": muted,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDiscoverySweep records the outcome of an mDNS discovery sweep.
//
// Parameters:
//   - found: Number of receivers found in this sweep
//   - duration: How long the sweep took
func (c *Client) WriteDiscoverySweep(found int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"discovery",
		map[string]string{},
		map[string]interface{}{
			"receivers_found": found,
			"duration_ms":     duration.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "bridge-01"},
//	    map[string]interface{}{"heap_bytes": 1048576.0, "goroutines": 24})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
