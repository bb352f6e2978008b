package mqtt

import (
	"crypto/tls"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is used when the configured connect timeout is not positive.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds acknowledged publishes and the post-connect subscribe.
	defaultPublishTimeout = 5 * time.Second

	// defaultClientIDPrefix is used for generated client ids when no prefix is configured.
	defaultClientIDPrefix = "mqttlink"

	// defaultQueueSize bounds the inbound queue when none is configured.
	defaultQueueSize = 256

	// maxPayloadSize is the largest text payload accepted for publishing (1 MiB).
	maxPayloadSize = 1 << 20

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho options from a session snapshot.
//
// Automatic reconnection is disabled: the Client owns the lifecycle and a
// lost session is only replaced by an explicit Connect.
func buildClientOptions(opts SessionOptions) *pahomqtt.ClientOptions {
	po := pahomqtt.NewClientOptions()
	po.AddBroker(opts.BrokerURL)
	po.SetClientID(opts.ClientID)

	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	po.SetCleanSession(opts.CleanSession)
	po.SetAutoReconnect(false)
	po.SetConnectRetry(false)
	po.SetConnectTimeout(opts.ConnectTimeout)
	po.SetKeepAlive(opts.KeepAlive)

	// Inbound messages reach the handler in arrival order.
	po.SetOrderMatters(true)

	if opts.TLS {
		po.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	if opts.Will != nil {
		po.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, byte(opts.Will.QoS), opts.Will.Retained)
	}

	return po
}
