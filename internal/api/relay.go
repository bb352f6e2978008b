package api

import (
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
)

// StateChangePayload is the body of connection.state_changed events.
type StateChangePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DisconnectedPayload is the body of connection.disconnected events. Error
// is empty for a requested disconnect.
type DisconnectedPayload struct {
	Error string `json:"error,omitempty"`
}

// relayEvents forwards client events to the hub and returns the listener
// IDs so Close can detach them. Broadcast never blocks, so it is safe on
// the router goroutine that delivers message-received events.
func (s *Server) relayEvents() []mqtt.ListenerID {
	ev := s.client.Events()

	return []mqtt.ListenerID{
		ev.OnMessageReceived(func(m mqtt.ReceivedMessage) {
			s.hub.BroadcastMessage(ChannelMessageReceived, m.Topic, m)
		}),
		ev.OnMessageSent(func(m mqtt.SentMessage) {
			s.hub.BroadcastMessage(ChannelMessageSent, m.Topic, m)
		}),
		ev.OnConnected(func() {
			s.hub.Broadcast(ChannelConnected, map[string]string{
				"client_id": s.client.ClientID(),
			})
		}),
		ev.OnDisconnected(func(err error) {
			var payload DisconnectedPayload
			if err != nil {
				payload.Error = err.Error()
			}
			s.hub.Broadcast(ChannelDisconnected, payload)
		}),
		ev.OnStateChange(func(from, to mqtt.ConnectionState) {
			s.hub.Broadcast(ChannelStateChanged, StateChangePayload{
				From: from.String(),
				To:   to.String(),
			})
		}),
	}
}
