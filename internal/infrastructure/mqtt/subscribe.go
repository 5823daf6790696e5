package mqtt

import "fmt"

// Subscribe routes messages matching filter to handler. The bridge uses
// single-level wildcards, e.g. "graylogic/command/hwmon/+" for every
// device and "graylogic/request/hwmon/+" for every request id.
//
// The subscription is tracked before the broker confirms it so a
// reconnect racing the SUBACK still replays it; it is dropped again if
// the broker refuses.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	switch {
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, filter)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.mu.Lock()
	c.subscriptions[filter] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := wait(c.client.Subscribe(filter, qos, c.deliver(handler)), ackTimeout, ErrSubscribeFailed); err != nil {
		c.forget(filter)
		return err
	}
	return nil
}

// Unsubscribe stops routing filter. Messages already in flight may still
// reach the old handler.
func (c *Client) Unsubscribe(filter string) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(filter)
	return wait(c.client.Unsubscribe(filter), ackTimeout, ErrUnsubscribeFailed)
}

func (c *Client) forget(filter string) {
	c.mu.Lock()
	delete(c.subscriptions, filter)
	c.mu.Unlock()
}

// SubscriptionCount returns the number of tracked filters.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether exactly filter is tracked.
func (c *Client) HasSubscription(filter string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[filter]
	return ok
}
