package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by mqttlink.
const (
	MeasurementMessages   = "mqtt_messages"
	MeasurementConnection = "mqtt_connection"
)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// WriteMessageMetric records one routed or published message.
//
// Topic is a tag, so high-cardinality topic trees grow the series count.
//
// Example:
//
//	client.WriteMessageMetric(influxdb.DirectionOut, "sensors/kitchen/temp", 1, 4)
func (c *Client) WriteMessageMetric(direction, topic string, qos, size int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(messagePoint(direction, topic, qos, size, time.Now()))
}

// WriteConnectionState records a connection state transition.
// The numeric "connected" field is 1 for the connected state and 0 otherwise,
// which makes uptime easy to graph.
func (c *Client) WriteConnectionState(clientID, state string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectionPoint(clientID, state, time.Now()))
}

func messagePoint(direction, topic string, qos, size int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementMessages,
		map[string]string{
			"direction": direction,
			"topic":     topic,
			"qos":       strconv.Itoa(qos),
		},
		map[string]interface{}{
			"count": int64(1),
			"bytes": int64(size),
		},
		ts,
	)
}

func connectionPoint(clientID, state string, ts time.Time) *write.Point {
	connected := int64(0)
	if state == "connected" {
		connected = 1
	}
	return write.NewPoint(
		MeasurementConnection,
		map[string]string{
			"client_id": clientID,
			"state":     state,
		},
		map[string]interface{}{
			"connected": connected,
		},
		ts,
	)
}
