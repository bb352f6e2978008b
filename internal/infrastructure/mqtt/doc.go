// Package mqtt supervises a single MQTT client connection.
//
// This package manages:
//   - The connection lifecycle as an explicit state machine
//   - A catch-all subscription issued after every successful connect
//   - Routing inbound messages to listeners in arrival order
//   - Publishing text at QoS 0, 1 or 2
//   - Fan-out of lifecycle and message events to registered listeners
//
// # Connection States
//
//	Disconnected ──Connect──▶ Connecting ──ok──▶ Connected
//	      ▲                       │                  │
//	      │                     error           Disconnect / loss
//	      │                       ▼                  ▼
//	      └────────────────── Failed     Disconnecting
//	      └──────────────────────────────────────────┘
//
// Failed is transient: a failed connect always ends in Disconnected.
// There is no automatic reconnection; callers decide when to Connect again.
//
// # Concurrency
//
// Transport callbacks never touch connection state. Inbound messages are
// queued for the router goroutine and connection losses are queued for the
// session watcher, so no lock is held across a network call made by a callback.
//
// # Security Considerations
//
//   - TLS (cfg.Broker.TLS=true) uses a minimum of TLS 1.2
//   - Credentials should come from MQTTLINK_MQTT_USERNAME / MQTTLINK_MQTT_PASSWORD
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, mqtt.WithLogger(logger))
//	defer client.Close()
//
//	client.Events().OnMessageReceived(func(m mqtt.ReceivedMessage) {
//	    log.Printf("%s = %s", m.Topic, m.Text)
//	})
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	err := client.Publish(ctx, "on", "lights/kitchen/set", 1)
package mqtt
