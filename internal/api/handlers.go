package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttlink/internal/journal"
)

// ConnectionResponse is the body of GET /connection and the connect and
// disconnect actions.
type ConnectionResponse struct {
	State     string     `json:"state"`
	Connected bool       `json:"connected"`
	ClientID  string     `json:"client_id,omitempty"`
	Broker    string     `json:"broker"`
	Stats     mqtt.Stats `json:"stats"`
}

// PublishRequest is the body of POST /publish. A missing qos uses the
// configured default.
type PublishRequest struct {
	Topic string `json:"topic"`
	Text  string `json:"text"`
	QoS   *int   `json:"qos,omitempty"`
}

// handleHealth returns the server health status. The MQTT state is
// informational; a disconnected client does not make the API unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"mqtt":    s.client.State().String(),
	})
}

func (s *Server) handleGetConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.connectionStatus())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Connect(r.Context()); err != nil {
		writeMQTTError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.connectionStatus())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.client.Disconnect(); err != nil {
		writeMQTTError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.connectionStatus())
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var err error
	if req.QoS == nil {
		err = s.client.PublishDefault(r.Context(), req.Text, req.Topic)
	} else {
		err = s.client.Publish(r.Context(), req.Text, req.Topic, *req.QoS)
	}
	if err != nil {
		writeMQTTError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "published",
		"topic":  req.Topic,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "message journal is disabled")
		return
	}

	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	direction := q.Get("direction")
	if direction != "" && direction != journal.DirectionIn && direction != journal.DirectionOut {
		writeBadRequest(w, "direction must be \"in\" or \"out\"")
		return
	}

	entries, err := s.journal.Recent(r.Context(), journal.Filter{
		Direction: direction,
		Topic:     q.Get("topic"),
		Limit:     limit,
	})
	if err != nil {
		s.logger.Error("listing journal messages", "error", err)
		writeInternalError(w, "failed to read message journal")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": entries,
		"count":    len(entries),
	})
}

func (s *Server) handleConnectionHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "message journal is disabled")
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	events, err := s.journal.ConnectionHistory(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing connection history", "error", err)
		writeInternalError(w, "failed to read connection history")
		return
	}
	if events == nil {
		events = []journal.ConnectionEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) connectionStatus() ConnectionResponse {
	cfg := s.client.Config()
	return ConnectionResponse{
		State:     s.client.State().String(),
		Connected: s.client.IsConnected(),
		ClientID:  s.client.ClientID(),
		Broker:    net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port)),
		Stats:     s.client.Stats(),
	}
}

// parseLimit reads an optional positive limit. Zero means the journal default.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

// writeMQTTError maps client sentinel errors onto HTTP statuses.
func writeMQTTError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mqtt.ErrInvalidTopic):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, mqtt.ErrNotConnected),
		errors.Is(err, mqtt.ErrAlreadyConnected),
		errors.Is(err, mqtt.ErrConnectInProgress):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, mqtt.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, mqtt.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeBrokerTimeout, err.Error())
	case errors.Is(err, mqtt.ErrConnectionFailed),
		errors.Is(err, mqtt.ErrPublishFailed),
		errors.Is(err, mqtt.ErrDisconnectFailed):
		writeError(w, http.StatusBadGateway, ErrCodeBroker, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
