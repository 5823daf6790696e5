package hwmon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const DefaultHealthInterval = 30 * time.Second

// HealthSource is what a health report describes. *Adapter implements it.
type HealthSource interface {
	Endpoint() string
	DeviceCount() int
	Stats() DiscoveryStats
	PairingStatus() PairingStatus
}

// HealthReporterConfig configures a HealthReporter. Publisher and Source
// may be nil; the reporter then skips publishing or omits adapter figures.
type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration
	Publisher MessagePublisher
	Source    HealthSource
	Logger    Logger
}

// HealthReporter publishes a retained HealthMessage on HealthTopic every
// interval, plus "starting" and "stopping" edges around the bridge's
// lifetime. The broker's copy of the Will covers crashes.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	loop   chan struct{}
	once   sync.Once
}

// NewHealthReporter returns an idle reporter; Start launches the loop.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &HealthReporter{cfg: cfg, started: time.Now()}
}

// Start publishes immediately and then on every tick until ctx ends or
// Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	loop := make(chan struct{})

	h.mu.Lock()
	h.cancel, h.loop = cancel, loop
	h.mu.Unlock()

	go func() {
		defer close(loop)
		t := time.NewTicker(h.cfg.Interval)
		defer t.Stop()
		for {
			if err := h.PublishNow(); err != nil {
				h.cfg.Logger.Error("health publish failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

// Stop ends the loop and publishes a final "stopping" report. Later calls
// do nothing.
func (h *HealthReporter) Stop() {
	h.once.Do(func() {
		h.mu.Lock()
		cancel, loop := h.cancel, h.loop
		h.mu.Unlock()

		if cancel != nil {
			cancel()
			<-loop
		}
		if err := h.publish(HealthStopping, "bridge stopping"); err != nil {
			h.cfg.Logger.Warn("health publish failed", "status", HealthStopping, "error", err)
		}
	})
}

// PublishStarting announces that the bridge is coming up.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the bridge's current assessed status.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.assess())
}

// Will returns the topic and payload to register as the MQTT Last Will.
func (h *HealthReporter) Will() (topic string, payload []byte, err error) {
	payload, err = json.Marshal(NewLWTMessage(h.cfg.BridgeID))
	return HealthTopic(), payload, err
}

// assess derives status from broker connectivity and the last poll.
func (h *HealthReporter) assess() (HealthStatus, string) {
	if p := h.cfg.Publisher; p == nil || !p.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	src := h.cfg.Source
	switch {
	case src == nil:
		return HealthHealthy, ""
	case src.Endpoint() == "":
		return HealthDegraded, "monitor endpoint not configured"
	}
	if last := src.Stats().LastError; last != "" {
		return HealthDegraded, "last poll failed: " + last
	}
	return HealthHealthy, ""
}

// BuildMessage snapshots the bridge into a HealthMessage.
func (h *HealthReporter) BuildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.cfg.BridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Reason:        reason,
	}
	if src := h.cfg.Source; src != nil {
		stats, pairing := src.Stats(), src.PairingStatus()
		msg.Endpoint = src.Endpoint()
		msg.DevicesManaged = src.DeviceCount()
		msg.Statistics = &stats
		msg.Pairing = &pairing
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.BuildMessage(status, reason))
	if err != nil {
		return fmt.Errorf("marshal health: %w", err)
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, 1, true)
}
