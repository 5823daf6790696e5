package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/config"
)

// Client is the bridge's connection to the broker. It remembers its
// subscriptions and replays them after every reconnect, and it contains
// handler failures so one bad message cannot take the bridge down.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]subscription
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger

	published     atomic.Uint64
	received      atomic.Uint64
	handlerErrors atomic.Uint64
}

// Logger is the subset of logging.Logger and slog.Logger the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Stats counts message traffic since Connect.
type Stats struct {
	Published     uint64 `json:"published"`
	Received      uint64 `json:"received"`
	HandlerErrors uint64 `json:"handler_errors"`
	Subscriptions int    `json:"subscriptions"`
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one inbound message.
//
// Handlers run on paho's goroutines and should return quickly. A returned
// error or a panic is logged and counted; the message is still
// acknowledged.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and waits up to
// opts.ConnectTimeout for the session. Auto-reconnect stays on for the
// life of the client; on failure here the retry loop is stopped.
func Connect(cfg config.MQTTConfig, opts Options) (*Client, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
		logger:        opts.Logger,
	}

	pahoOpts := clientOptions(cfg, opts, timeout)
	pahoOpts.SetOnConnectHandler(func(pahomqtt.Client) { c.onSessionUp() })
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onSessionLost(err) })
	pahoOpts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log(func(l Logger) { l.Info("mqtt reconnecting", "broker", BrokerURL(cfg)) })
	})

	c.client = pahomqtt.NewClient(pahoOpts)
	if err := wait(c.client.Connect(), timeout, ErrConnectionFailed); err != nil {
		c.client.Disconnect(0)
		return nil, err
	}

	// The OnConnect handler is asynchronous and may not have run yet.
	c.setConnected(true)
	return c, nil
}

// wait blocks on token for at most timeout and wraps failures in sentinel.
func wait(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

func (c *Client) onSessionUp() {
	c.setConnected(true)
	c.log(func(l Logger) {
		l.Info("mqtt connected", "broker", BrokerURL(c.cfg), "client_id", c.cfg.Broker.ClientID)
	})

	// Clean sessions lose broker-side subscriptions.
	c.mu.RLock()
	for filter, sub := range c.subscriptions {
		c.client.Subscribe(filter, sub.qos, c.deliver(sub.handler))
	}
	cb := c.onConnect
	c.mu.RUnlock()

	if cb != nil {
		cb()
	}
}

func (c *Client) onSessionLost(err error) {
	c.setConnected(false)
	c.log(func(l Logger) { l.Warn("mqtt connection lost", "error", err) })

	c.mu.RLock()
	cb := c.onDisconnect
	c.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// log runs fn with the current logger, if there is one.
func (c *Client) log(fn func(Logger)) {
	c.mu.RLock()
	l := c.logger
	c.mu.RUnlock()
	if l != nil {
		fn(l)
	}
}

// Close disconnects gracefully, so the broker does not publish the will.
func (c *Client) Close() error {
	c.Disconnect(quiesceMillis)
	return nil
}

// Disconnect closes the session after at most quiesce milliseconds of
// draining. Safe on a nil client.
func (c *Client) Disconnect(quiesce uint) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(quiesce)
	c.setConnected(false)
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect installs a callback run after the initial connect and
// every reconnect, once subscriptions have been replayed.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect installs a callback run when the session drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger replaces the logger given in Options.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// Stats returns traffic counters.
func (c *Client) Stats() Stats {
	return Stats{
		Published:     c.published.Load(),
		Received:      c.received.Load(),
		HandlerErrors: c.handlerErrors.Load(),
		Subscriptions: c.SubscriptionCount(),
	}
}

// deliver adapts handler to paho, recovering panics and logging errors.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.received.Add(1)
		topic := msg.Topic()

		defer func() {
			if r := recover(); r != nil {
				c.handlerErrors.Add(1)
				c.log(func(l Logger) { l.Error("mqtt handler panic recovered", "topic", topic, "panic", r) })
			}
		}()

		if err := handler(topic, msg.Payload()); err != nil {
			c.handlerErrors.Add(1)
			c.log(func(l Logger) { l.Warn("mqtt handler returned error", "topic", topic, "error", err) })
		}
	}
}
