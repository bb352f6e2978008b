package mqtt

import (
	"context"
	"fmt"
)

// subscribe issues the post-connect subscription on ref.
//
// It is attempted exactly once per successful connect. Failure is logged
// and the connection stays up: publishing still works and the caller can
// reconnect to retry.
func (c *Client) subscribe(ctx context.Context, ref *sessionRef) {
	filter := ref.cfg.Subscription.Filter
	qos := NormalizeQoS(ref.cfg.Subscription.QoS)

	if err := ValidateFilter(filter); err != nil {
		c.logger.Error("MQTT subscribe failed",
			"filter", filter,
			"error", fmt.Errorf("%w: %w", ErrSubscribeFailed, err),
		)
		return
	}

	timeout := ref.cfg.PublishTimeout()
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	subCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := ref.Subscribe(subCtx, filter, qos); err != nil {
		c.logger.Error("MQTT subscribe failed",
			"filter", filter,
			"qos", int(qos),
			"error", fmt.Errorf("%w: %w", ErrSubscribeFailed, err),
		)
		return
	}

	c.logger.Info("subscribed", "filter", filter, "qos", int(qos))
}
