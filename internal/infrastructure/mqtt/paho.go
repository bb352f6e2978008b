package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a rejected subscription.
const subackFailure = 0x80

type pahoTransport struct{}

// PahoTransport returns the Transport backed by eclipse/paho.mqtt.golang.
func PahoTransport() Transport {
	return pahoTransport{}
}

func (pahoTransport) NewSession(opts SessionOptions, handlers SessionHandlers) Session {
	po := buildClientOptions(opts)

	onMessage := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if handlers.OnMessage != nil {
			handlers.OnMessage(msg.Topic(), msg.Payload())
		}
	}

	// Messages redelivered from a persistent session arrive before any
	// Subscribe call, so they go through the default handler.
	po.SetDefaultPublishHandler(onMessage)

	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if handlers.OnConnectionLost != nil {
			handlers.OnConnectionLost(err)
		}
	})

	return &pahoSession{
		client:    pahomqtt.NewClient(po),
		onMessage: onMessage,
	}
}

type pahoSession struct {
	client    pahomqtt.Client
	onMessage pahomqtt.MessageHandler
}

func (s *pahoSession) Connect(ctx context.Context) error {
	return waitToken(ctx, s.client.Connect())
}

func (s *pahoSession) Subscribe(ctx context.Context, filter string, qos QoS) error {
	token := s.client.Subscribe(filter, byte(qos), s.onMessage)
	if err := waitToken(ctx, token); err != nil {
		return err
	}

	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		for topic, code := range st.Result() {
			if code == subackFailure {
				return fmt.Errorf("broker rejected subscription to %q", topic)
			}
		}
	}
	return nil
}

func (s *pahoSession) Publish(ctx context.Context, topic string, payload []byte, qos QoS) error {
	token := s.client.Publish(topic, byte(qos), false, payload)

	if qos == AtMostOnce {
		select {
		case <-token.Done():
			return token.Error()
		default:
			return nil
		}
	}
	return waitToken(ctx, token)
}

func (s *pahoSession) Disconnect(quiesce time.Duration) error {
	s.client.Disconnect(uint(quiesce.Milliseconds())) //nolint:gosec // quiesce is a small positive duration
	return nil
}

func (s *pahoSession) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

// waitToken blocks until token completes or ctx is done.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}
