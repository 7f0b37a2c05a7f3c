package mqtt

import (
	"context"
	"fmt"
)

// Maximum payload size for MQTT messages (256KB, the hub's device-to-cloud limit).
const maxPayloadSize = 256 << 10

// Publish sends payload to the device telemetry topic and waits for the
// broker acknowledgement (QoS 1 by default).
//
// It satisfies the transmit.Publisher interface: a nil error means the
// broker confirmed the message, so the caller may drop it from its queue.
//
// Parameters:
//   - ctx: Bounds the wait for the acknowledgement
//   - payload: The wire message
//
// Returns:
//   - error: nil on success, or wrapped ErrNotConnected / ErrPublishFailed / ErrTimeout
func (c *Client) Publish(ctx context.Context, payload []byte) error {
	return c.PublishTo(ctx, c.topic, payload)
}

// PublishTo sends payload to an explicit topic with the configured QoS.
func (c *Client) PublishTo(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if c.qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()
	}

	token := c.client.Publish(topic, c.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
