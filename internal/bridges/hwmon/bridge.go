package hwmon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// commandTimeout bounds a single set command.
	commandTimeout = 5 * time.Second

	// discoverTimeout bounds one discovery pass.
	discoverTimeout = 30 * time.Second

	// DefaultPollInterval is the default time between discovery passes.
	DefaultPollInterval = 10 * time.Second
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health and discovery messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Adapter is the device registry and pairing state machine.
	Adapter *Adapter

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// PollInterval is the time between discovery passes.
	// Default: DefaultPollInterval.
	PollInterval time.Duration

	// HealthInterval is how often health is published.
	// Default: DefaultHealthInterval.
	HealthInterval time.Duration

	// PairingTimeout is used when a start_pairing request gives none.
	// Default: DefaultPairingTimeout.
	PairingTimeout time.Duration

	// Logger is optional structured logger.
	Logger Logger
}

// Bridge connects the adapter to Gray Logic Core over MQTT.
// It handles:
//   - Receiving set commands and pairing requests from Core
//   - Polling the monitoring endpoint on a fixed interval
//   - Health reporting and graceful shutdown
//
// Outbound notifications are published by a Publisher registered as the
// adapter's Notifier.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id             string
	adapter        *Adapter
	mqtt           MQTTClient
	health         *HealthReporter
	pollInterval   time.Duration
	pairingTimeout time.Duration

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = Protocol
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PairingTimeout <= 0 {
		opts.PairingTimeout = DefaultPairingTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:             opts.BridgeID,
		adapter:        opts.Adapter,
		mqtt:           opts.MQTTClient,
		pollInterval:   opts.PollInterval,
		pairingTimeout: opts.PairingTimeout,
		done:           make(chan struct{}),
		ctx:            ctx,
		ctxCancel:      ctxCancel,
		logger:         opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    opts.Adapter,
		Logger:    opts.Logger,
	})

	return b, nil
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start subscribes to command and request topics, starts health
// reporting and begins polling the monitoring endpoint.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Error("failed to publish starting status", "error", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logger.Info("subscribed to requests", "topic", requestTopic)

	b.health.Start(ctx)

	b.wg.Add(1)
	go b.pollLoop()

	b.logger.Info("bridge started",
		"bridge_id", b.id,
		"endpoint", b.adapter.Endpoint(),
		"poll_interval", b.pollInterval)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight polls and pairing
		b.ctxCancel()
		b.adapter.CancelPairing()

		b.health.Stop()
		b.wg.Wait()

		b.logger.Info("bridge stopped")
	})
}

// pollLoop runs an initial discovery pass and then one per interval.
// Without a configured endpoint it stops after the first attempt.
func (b *Bridge) pollLoop() {
	defer b.wg.Done()

	if !b.poll() {
		return
	}

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.poll()
		}
	}
}

// poll runs one discovery pass. It reports false when polling cannot
// work at all.
func (b *Bridge) poll() bool {
	ctx, cancel := context.WithTimeout(b.ctx, discoverTimeout)
	defer cancel()

	_, err := b.adapter.DiscoverSensors(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrConfiguration):
		b.logger.Warn("monitor endpoint not configured, polling disabled")
		return false
	case b.ctx.Err() != nil:
		// shutting down
	default:
		b.logger.Warn("sensor poll failed", "error", err)
	}
	return true
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logger.Error("invalid topic format", "topic", topic)
		return
	}

	last := DecodeTopicSegment(parts[len(parts)-1])

	switch parts[1] {
	case "command":
		b.handleCommand(last, payload)
	case "request":
		b.handleRequest(last, payload)
	default:
		b.logger.Error("unknown message type", "type", parts[1])
	}
}

// handleCommand processes a set command from Core.
func (b *Bridge) handleCommand(topicDeviceID string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Error("failed to parse command", "error", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicDeviceID
	}

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	if cmd.Command != CommandSet {
		b.publishAck(NewAckError(cmd, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command)))
		return
	}

	property, _ := cmd.Parameters["property"].(string)
	value, hasValue := cmd.Parameters["value"]
	if property == "" || !hasValue {
		b.publishAck(NewAckError(cmd, ErrCodeInvalidParameters,
			"set requires property and value parameters"))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	accepted, err := b.adapter.SetValue(ctx, cmd.DeviceID, property, value)
	if err != nil {
		b.publishAck(NewAckError(cmd, ErrorCode(err), err.Error()))
		return
	}
	b.publishAck(NewAckMessage(cmd, accepted))
}

func (b *Bridge) publishAck(ack AckMessage) {
	if ack.Error != nil {
		b.logger.Warn("command failed",
			"command_id", ack.CommandID,
			"code", ack.Error.Code,
			"message", ack.Error.Message)
	}

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.logger.Error("failed to publish ack", "error", err)
	}
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(topicRequestID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Error("failed to parse request", "error", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = topicRequestID
	}

	b.logger.Info("received request",
		"request_id", req.RequestID,
		"action", req.Action,
		"device_id", req.DeviceID)

	// Discovery and pairing wait on the monitoring endpoint. They run off
	// the delivery goroutine so later requests, cancel_pairing included,
	// are handled while they are in flight.
	if req.Action == ActionDiscover || req.Action == ActionStartPairing {
		select {
		case <-b.done:
			b.respond(req, NewErrorResponse(req, ErrCodeBridgeError, "bridge is shutting down"))
			return
		default:
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.respond(req, b.dispatchRequest(req))
		}()
		return
	}

	b.respond(req, b.dispatchRequest(req))
}

// respond publishes the response to req on its response topic.
func (b *Bridge) respond(req RequestMessage, resp ResponseMessage) {
	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("failed to marshal response", "error", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logger.Error("failed to publish response", "error", err)
	}
}

func (b *Bridge) dispatchRequest(req RequestMessage) ResponseMessage {
	switch req.Action {
	case ActionDiscover:
		return b.handleDiscover(req)
	case ActionPair:
		return b.handlePair(req)
	case ActionStartPairing:
		return b.handleStartPairing(req)
	case ActionCancelPairing:
		b.adapter.CancelPairing()
		return NewResponse(req, map[string]any{"pairing": b.adapter.PairingStatus()})
	case ActionUnpair:
		if req.DeviceID == "" {
			return missingDeviceID(req)
		}
		if err := b.adapter.UnpairDevice(req.DeviceID); err != nil {
			return errorResponse(req, err)
		}
		return NewResponse(req, map[string]any{"pairing": b.adapter.PairingStatus()})
	case ActionRemove:
		if req.DeviceID == "" {
			return missingDeviceID(req)
		}
		d, err := b.adapter.RemoveThing(req.DeviceID)
		if err != nil {
			return errorResponse(req, err)
		}
		return NewResponse(req, map[string]any{"removed": d.ID()})
	case ActionCancelRemove:
		if req.DeviceID == "" {
			return missingDeviceID(req)
		}
		b.adapter.CancelRemoveThing(req.DeviceID)
		return NewResponse(req, map[string]any{"pairing": b.adapter.PairingStatus()})
	case ActionList:
		devices := b.adapter.Devices()
		infos := make([]DeviceInfo, 0, len(devices))
		for _, d := range devices {
			infos = append(infos, d.Info())
		}
		return NewResponse(req, map[string]any{
			"devices": infos,
			"pairing": b.adapter.PairingStatus(),
		})
	case ActionClear:
		b.adapter.ClearState()
		return NewResponse(req, map[string]any{"cleared": true})
	default:
		return NewErrorResponse(req, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action))
	}
}

func (b *Bridge) handleDiscover(req RequestMessage) ResponseMessage {
	ctx, cancel := context.WithTimeout(b.ctx, discoverTimeout)
	defer cancel()

	result, err := b.adapter.DiscoverSensors(ctx)
	if err != nil {
		return errorResponse(req, err)
	}
	return NewResponse(req, map[string]any{
		"added":       result.Added,
		"updated":     result.Updated,
		"failed":      result.Failed,
		"diagnostics": result.Diagnostics,
	})
}

func (b *Bridge) handlePair(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return missingDeviceID(req)
	}

	var desc DeviceDescription
	if raw, ok := req.Parameters["device"]; ok {
		if err := decodeParameter(raw, &desc); err != nil {
			return NewErrorResponse(req, ErrCodeInvalidParameters,
				fmt.Sprintf("invalid device description: %v", err))
		}
	}
	if err := b.adapter.PairDevice(req.DeviceID, desc); err != nil {
		return errorResponse(req, err)
	}
	return NewResponse(req, map[string]any{"pairing": b.adapter.PairingStatus()})
}

func (b *Bridge) handleStartPairing(req RequestMessage) ResponseMessage {
	timeout := b.pairingTimeout
	if secs, ok := req.Parameters["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	d, err := b.adapter.StartPairing(b.ctx, timeout)
	if err != nil {
		return errorResponse(req, err)
	}
	if d == nil {
		return NewResponse(req, map[string]any{"paired": false})
	}
	return NewResponse(req, map[string]any{"paired": true, "device": d.Info()})
}

// decodeParameter converts a generic JSON value into a typed struct.
func decodeParameter(raw any, dst any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dst)
}

func missingDeviceID(req RequestMessage) ResponseMessage {
	return NewErrorResponse(req, ErrCodeInvalidParameters, "device_id is required")
}

func errorResponse(req RequestMessage, err error) ResponseMessage {
	return NewErrorResponse(req, ErrorCode(err), err.Error())
}
