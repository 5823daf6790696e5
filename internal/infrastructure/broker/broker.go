package broker

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// listenerID names the broker's single TCP listener.
const listenerID = "hwmon-tcp"

// Options configures the embedded broker.
type Options struct {
	// Address is the TCP listen address, e.g. ":1883".
	Address string

	// Username and Password restrict access to a single credential pair.
	// An empty Username allows anonymous clients.
	Username string
	Password string

	// Logger receives broker and client lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Broker is a running in-process MQTT broker.
type Broker struct {
	server  *mqtt.Server
	address string
	clients *clientHook

	closeOnce sync.Once
	closeErr  error
}

// Start creates the broker, binds its listener and begins serving.
// Serving runs in background goroutines; call Close to stop.
func Start(opts Options) (*Broker, error) {
	if opts.Address == "" {
		return nil, ErrNoAddress
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "broker")

	server := mqtt.New(&mqtt.Options{Logger: logger})

	if err := addAuthHook(server, opts); err != nil {
		return nil, fmt.Errorf("%w: auth hook: %w", ErrStartFailed, err)
	}

	clients := &clientHook{logger: logger}
	if err := server.AddHook(clients, nil); err != nil {
		return nil, fmt.Errorf("%w: client hook: %w", ErrStartFailed, err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: listenerID, Address: opts.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %w", ErrStartFailed, opts.Address, err)
	}

	if err := server.Serve(); err != nil {
		_ = server.Close()
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	logger.Info("embedded MQTT broker started", "address", opts.Address)

	return &Broker{
		server:  server,
		address: opts.Address,
		clients: clients,
	}, nil
}

func addAuthHook(server *mqtt.Server, opts Options) error {
	if opts.Username == "" {
		return server.AddHook(new(auth.AllowHook), nil)
	}
	return server.AddHook(new(auth.Hook), &auth.Options{
		Ledger: &auth.Ledger{
			Auth: auth.AuthRules{
				{Username: auth.RString(opts.Username), Password: auth.RString(opts.Password), Allow: true},
			},
		},
	})
}

// Address returns the configured listen address.
func (b *Broker) Address() string {
	return b.address
}

// Clients returns the number of currently connected clients.
func (b *Broker) Clients() int64 {
	return b.clients.connected.Load()
}

// Close stops the listener and disconnects all clients.
// Safe to call multiple times.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.server.Close()
	})
	return b.closeErr
}

// clientHook tracks and logs client connections.
type clientHook struct {
	mqtt.HookBase
	logger    *slog.Logger
	connected atomic.Int64
}

// ID implements mqtt.Hook.
func (h *clientHook) ID() string {
	return "hwmon-clients"
}

// Provides implements mqtt.Hook.
func (h *clientHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnect,
		mqtt.OnDisconnect,
	}, []byte{b})
}

// OnConnect implements mqtt.Hook.
func (h *clientHook) OnConnect(cl *mqtt.Client, _ packets.Packet) error {
	h.connected.Add(1)
	h.logger.Debug("mqtt client connected", "client_id", cl.ID)
	return nil
}

// OnDisconnect implements mqtt.Hook.
func (h *clientHook) OnDisconnect(cl *mqtt.Client, err error, _ bool) {
	h.connected.Add(-1)
	h.logger.Debug("mqtt client disconnected", "client_id", cl.ID, "error", err)
}
