package mqtt

import (
	"context"
	"fmt"
	"time"
)

// Publish sends text to topic at the given QoS.
//
// Checks run in this order, and the first failure is returned without any
// transport I/O:
//   - the client must be Connected (ErrNotConnected)
//   - qos outside 0..2 is treated as 0
//   - topic must be a valid publish topic (ErrInvalidTopic)
//   - text must not exceed 1 MiB (ErrPublishFailed)
//
// QoS 0 returns once the message is handed to the transport. QoS 1 and 2
// wait for the broker acknowledgement, bounded by ctx and the configured
// publish timeout; a timeout wraps both ErrPublishFailed and ErrTimeout.
//
// On success the message-sent listeners fire with the effective QoS.
//
// Example:
//
//	err := client.Publish(ctx, "21.5", "sensors/kitchen/temperature", 1)
func (c *Client) Publish(ctx context.Context, text, topic string, qos int) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	level := NormalizeQoS(qos)

	if err := ValidatePublishTopic(topic); err != nil {
		return err
	}
	if len(text) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(text), maxPayloadSize)
	}

	if err := c.send(ctx, topic, []byte(text), level); err != nil {
		c.logger.Warn("MQTT publish failed",
			"topic", topic,
			"qos", int(level),
			"error", err,
		)
		return err
	}

	c.published.Add(1)
	c.logger.Debug("published message",
		"topic", topic,
		"qos", int(level),
		"bytes", len(text),
	)

	c.events.emitSent(SentMessage{
		Topic:  topic,
		Text:   text,
		QoS:    level,
		SentAt: time.Now(),
	})
	return nil
}

// PublishDefault publishes with the configured default QoS.
func (c *Client) PublishDefault(ctx context.Context, text, topic string) error {
	return c.Publish(ctx, text, topic, c.Config().QoS)
}

// send performs the transport publish while holding the session read lock,
// so a concurrent Disconnect waits for it.
func (c *Client) send(ctx context.Context, topic string, payload []byte, qos QoS) error {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()

	ref := c.live.Load()
	if ref == nil || c.State() != StateConnected {
		return ErrNotConnected
	}

	if qos != AtMostOnce {
		timeout := ref.cfg.PublishTimeout()
		if timeout <= 0 {
			timeout = defaultPublishTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := ref.Publish(ctx, topic, payload, qos); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
