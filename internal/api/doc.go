// Package api is the HTTP control surface for an mqttlink client.
//
// It provides:
//   - REST endpoints to inspect, connect and disconnect the MQTT client
//   - POST /publish for one-shot publishes
//   - Read access to the message journal when one is configured
//   - A WebSocket hub that relays client events to subscribed connections
//
// The server follows the same lifecycle as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// WebSocket clients subscribe to channels (message.received, message.sent,
// connection.connected, connection.disconnected, connection.state_changed)
// and may narrow the message channels with MQTT topic filters.
package api
