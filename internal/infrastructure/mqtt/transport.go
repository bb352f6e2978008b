package mqtt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
)

// Transport creates broker sessions. The production implementation is
// backed by paho (see PahoTransport); tests substitute an in-memory fake.
type Transport interface {
	// NewSession prepares, but does not open, a session using opts.
	// The handlers are invoked from transport-owned goroutines and must not block
	// for longer than it takes to hand work off.
	NewSession(opts SessionOptions, handlers SessionHandlers) Session
}

// Session is a single broker connection. A Session is never reused after
// Disconnect or connection loss; the Client creates a new one per connect.
type Session interface {
	// Connect opens the connection, honouring ctx for cancellation and deadline.
	Connect(ctx context.Context) error

	// Subscribe registers filter at qos and waits for the broker's acknowledgement.
	Subscribe(ctx context.Context, filter string, qos QoS) error

	// Publish sends payload to topic. For AtMostOnce it returns once the
	// message is handed to the network layer; otherwise it waits for the
	// protocol acknowledgement or ctx.
	Publish(ctx context.Context, topic string, payload []byte, qos QoS) error

	// Disconnect closes the connection, allowing up to quiesce for
	// in-flight work to drain.
	Disconnect(quiesce time.Duration) error

	// IsConnected reports the transport's own connectivity flag.
	IsConnected() bool
}

// SessionHandlers are the transport callbacks. Both only enqueue work onto
// the Client; neither touches connection state directly.
type SessionHandlers struct {
	OnMessage        func(topic string, payload []byte)
	OnConnectionLost func(err error)
}

// SessionOptions is the immutable snapshot a Session is opened with.
type SessionOptions struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TLS            bool
	KeepAlive      time.Duration
	CleanSession   bool
	ConnectTimeout time.Duration
	Will           *Will
}

// Will is the Last Will and Testament registered with the broker at connect.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool
}

// clientIDSuffixLen is the number of hex characters appended to a generated client id.
const clientIDSuffixLen = 12

// generateClientID returns "<prefix>-<12 hex chars>" from a random UUID.
func generateClientID(prefix string) string {
	if prefix == "" {
		prefix = defaultClientIDPrefix
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + id[:clientIDSuffixLen]
}

// brokerURL builds the paho-style URL for the configured broker.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// sessionOptions snapshots cfg into SessionOptions, generating a client id
// when none is configured.
func sessionOptions(cfg config.MQTTConfig) SessionOptions {
	clientID := strings.TrimSpace(cfg.Broker.ClientID)
	if clientID == "" {
		clientID = generateClientID(cfg.Broker.ClientIDPrefix)
	}

	opts := SessionOptions{
		BrokerURL:      brokerURL(cfg),
		ClientID:       clientID,
		Username:       cfg.Auth.Username,
		Password:       cfg.Auth.Password,
		TLS:            cfg.Broker.TLS,
		KeepAlive:      cfg.KeepAlive(),
		CleanSession:   cfg.Session.CleanSession,
		ConnectTimeout: cfg.ConnectTimeout(),
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	if cfg.Will.Topic != "" {
		opts.Will = &Will{
			Topic:    cfg.Will.Topic,
			Payload:  []byte(cfg.Will.Payload),
			QoS:      NormalizeQoS(cfg.Will.QoS),
			Retained: cfg.Will.Retained,
		}
	}
	return opts
}
