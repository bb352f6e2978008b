package main

import (
	"github.com/nerrad567/mqttlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
)

// metricsSink is the part of the InfluxDB client the metrics listeners use.
type metricsSink interface {
	WriteMessageMetric(direction, topic string, qos, size int)
	WriteConnectionState(clientID, state string)
}

// attachMetrics feeds client events into sink and returns a function that
// detaches the listeners. Inbound messages are recorded at QoS 0 because the
// delivered QoS is not carried on the received event.
func attachMetrics(client *mqtt.Client, sink metricsSink) (detach func()) {
	ev := client.Events()
	ids := []mqtt.ListenerID{
		ev.OnMessageReceived(func(m mqtt.ReceivedMessage) {
			sink.WriteMessageMetric(influxdb.DirectionIn, m.Topic, 0, len(m.Text))
		}),
		ev.OnMessageSent(func(m mqtt.SentMessage) {
			sink.WriteMessageMetric(influxdb.DirectionOut, m.Topic, int(m.QoS), len(m.Text))
		}),
		ev.OnStateChange(func(_, to mqtt.ConnectionState) {
			sink.WriteConnectionState(client.ClientID(), to.String())
		}),
	}

	return func() {
		for _, id := range ids {
			ev.Remove(id)
		}
	}
}
