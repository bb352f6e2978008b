// Package influxdb writes mqttlink telemetry to InfluxDB v2.
//
// Two measurements are written:
//   - mqtt_messages: one point per routed or published message,
//     tagged by direction, topic and qos
//   - mqtt_connection: one point per connection state transition
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteMessageMetric(influxdb.DirectionIn, "sensors/kitchen/temp", 0, 4)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; asynchronous write
// errors go to the SetOnError callback.
package influxdb
