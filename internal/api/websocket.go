package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-hwmon/internal/bridges/hwmon"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels. ChannelAll matches every channel.
const (
	ChannelDeviceAdded     = "device.added"
	ChannelDeviceRemoved   = "device.removed"
	ChannelPropertyChanged = "property.changed"
	ChannelAll             = "*"
)

const (
	wsSendBufferSize = 256

	fallbackMaxMessageSize = 8192
	fallbackPingInterval   = 30 * time.Second
	fallbackPongTimeout    = 10 * time.Second
)

// WSMessage is a frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
//
// DeviceIDs narrows events to the listed devices. A client with no device
// filter receives events for every device.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	DeviceIDs []string `json:"device_ids,omitempty"`
}

// wsTimings is the resolved keepalive configuration.
type wsTimings struct {
	readLimit    int64
	pingInterval time.Duration
	pongTimeout  time.Duration
}

func resolveTimings(cfg config.WebSocketConfig) wsTimings {
	t := wsTimings{
		readLimit:    fallbackMaxMessageSize,
		pingInterval: fallbackPingInterval,
		pongTimeout:  fallbackPongTimeout,
	}
	if cfg.MaxMessageSize > 0 {
		t.readLimit = int64(cfg.MaxMessageSize)
	}
	if cfg.PingInterval > 0 {
		t.pingInterval = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		t.pongTimeout = time.Duration(cfg.PongTimeout) * time.Second
	}
	return t
}

// Hub fans adapter notifications out to WebSocket clients. It implements
// hwmon.Notifier.
//
// Broadcast never blocks: a client whose buffer is full misses the event
// and the drop is counted.
type Hub struct {
	timings wsTimings
	logger  *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	dropped atomic.Uint64
}

// WSClient is one connected socket and its subscriptions.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
	devices  map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. Zero config values fall back to 8 KB frames, a
// 30 s ping interval and a 10 s pong timeout.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		timings: resolveTimings(cfg),
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// unregister is idempotent; whoever removes the client from the map
// closes its send channel.
func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// DeviceAdded implements hwmon.Notifier.
func (h *Hub) DeviceAdded(info hwmon.DeviceInfo) {
	h.Broadcast(ChannelDeviceAdded, info.ID, info)
}

// DeviceRemoved implements hwmon.Notifier.
func (h *Hub) DeviceRemoved(info hwmon.DeviceInfo) {
	h.Broadcast(ChannelDeviceRemoved, info.ID, info)
}

// PropertyChanged implements hwmon.Notifier.
func (h *Hub) PropertyChanged(change hwmon.PropertyChange) {
	h.Broadcast(ChannelPropertyChanged, change.DeviceID, change)
}

// Broadcast sends an event about deviceID to every client subscribed to
// channel and, if it filters by device, to that device.
func (h *Hub) Broadcast(channel, deviceID string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("marshalling websocket event failed", "channel", channel, "error", err)
		return
	}

	// Sends happen under the read lock so unregister cannot close a
	// channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.wants(channel, deviceID) {
			h.offer(c, data)
		}
	}
}

// offer queues data for c without blocking. Caller holds h.mu.
func (h *Hub) offer(c *WSClient, data []byte) {
	select {
	case c.send <- data:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// handleWebSocket upgrades the connection. When authentication is on the
// route's permission middleware has already checked the bearer token,
// which browsers pass as ?token=.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
		devices:  make(map[string]struct{}),
	}
	s.hub.register(c)

	go c.writeLoop()
	go c.readLoop()
}

func (c *WSClient) readLoop() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	t := c.hub.timings
	deadline := func() time.Time { return time.Now().Add(t.pingInterval + t.pongTimeout) }

	c.conn.SetReadLimit(t.readLimit)
	_ = c.conn.SetReadDeadline(deadline())
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(deadline()) })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(deadline())
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop() {
	t := c.hub.timings
	ping := time.NewTicker(t.pingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(t.pongTimeout))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *WSClient) dispatch(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateSubscription(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

// updateSubscription applies a subscribe or unsubscribe frame. At least
// one channel or device must be named.
func (c *WSClient) updateSubscription(msg WSMessage) {
	var sub WSSubscribePayload
	raw, _ := json.Marshal(msg.Payload)
	if err := json.Unmarshal(raw, &sub); err != nil || len(sub.Channels)+len(sub.DeviceIDs) == 0 {
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "invalid " + msg.Type + " payload"})
		return
	}

	add := msg.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range sub.Channels {
		toggle(c.channels, ch, add)
	}
	for _, id := range sub.DeviceIDs {
		toggle(c.devices, id, add)
	}
	channels, devices := keys(c.channels), keys(c.devices)
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{"channels": channels, "device_ids": devices})
}

func toggle(set map[string]struct{}, key string, add bool) {
	if add {
		set[key] = struct{}{}
	} else {
		delete(set, key)
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func (c *WSClient) wants(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, all := c.channels[ChannelAll]
	_, one := c.channels[channel]
	if !all && !one {
		return false
	}
	if len(c.devices) == 0 {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}

// reply queues a direct response to this client.
func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, live := c.hub.clients[c]; live {
		c.hub.offer(c, data)
	}
}
