package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps a single message at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic. Retained messages are stored by the
// broker and delivered to late subscribers; use them for state, not events.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishRetained publishes a retained message with the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.qos(), true)
}

// PublishJSON marshals v and publishes it as a retained message.
func (c *Client) PublishJSON(topic string, v any) error {
	data, err := encodePayload(v)
	if err != nil {
		return err
	}
	return c.PublishRetained(topic, data)
}

// PublishEvent marshals v and publishes it without the retain flag, so
// subscribers joining later never replay it.
func (c *Client) PublishEvent(topic string, v any) error {
	data, err := encodePayload(v)
	if err != nil {
		return err
	}
	return c.Publish(topic, data, c.qos(), false)
}

func encodePayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return data, nil
}
