package mqtt

import "fmt"

// maxPayloadSize caps outbound payloads (1 MB). Sensor state documents
// are a few KB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and, for QoS 1 and 2, waits for the
// broker to acknowledge it.
//
// State and health topics are published retained so late subscribers get
// the current value; an empty retained payload clears the topic.
//
//	err := client.Publish("graylogic/state/hwmon/desktop-cpu", payload, 1, true)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if n := len(payload); n > maxPayloadSize {
		return fmt.Errorf("%w: %s: payload of %d bytes exceeds %d", ErrPublishFailed, topic, n, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := wait(c.client.Publish(topic, qos, retained, payload), ackTimeout, ErrPublishFailed); err != nil {
		return err
	}
	c.published.Add(1)
	return nil
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true) // #nosec G115 -- validated 0..2
}
