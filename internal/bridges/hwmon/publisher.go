package hwmon

import (
	"encoding/json"
	"maps"
	"sync"
	"time"
)

// publishQueueSize is the outbound buffer between the adapter and MQTT.
const publishQueueSize = 256

// MessagePublisher is the publishing half of the MQTT client.
type MessagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// Publisher forwards adapter notifications to MQTT. It implements
// Notifier.
//
// Notifications are serialised on the caller's goroutine and published in
// order from a single background goroutine, so the adapter never waits on
// the broker. Device state is kept per device so each retained state
// message carries every known property value.
type Publisher struct {
	bridgeID string
	client   MessagePublisher
	qos      byte
	logger   Logger

	state   map[string]map[string]any
	units   map[string]map[string]string
	stateMu sync.Mutex

	queue    chan outbound
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPublisher creates a publisher. Call Start before the adapter emits.
func NewPublisher(bridgeID string, client MessagePublisher, qos byte, logger Logger) *Publisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Publisher{
		bridgeID: bridgeID,
		client:   client,
		qos:      qos,
		logger:   logger,
		state:    make(map[string]map[string]any),
		units:    make(map[string]map[string]string),
		queue:    make(chan outbound, publishQueueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the publishing goroutine.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop drains queued messages and stops the publishing goroutine.
// Safe to call multiple times.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

// DeviceAdded implements Notifier.
func (p *Publisher) DeviceAdded(info DeviceInfo) {
	p.publishDiscovery(EventDeviceAdded, info)
}

// DeviceRemoved implements Notifier. The device's retained state is
// cleared.
func (p *Publisher) DeviceRemoved(info DeviceInfo) {
	p.stateMu.Lock()
	delete(p.state, info.ID)
	delete(p.units, info.ID)
	p.stateMu.Unlock()

	p.publishDiscovery(EventDeviceRemoved, info)
	// An empty retained payload deletes the retained message.
	p.enqueue(outbound{topic: StateTopic(info.ID), payload: nil, retained: true})
}

// PropertyChanged implements Notifier.
func (p *Publisher) PropertyChanged(change PropertyChange) {
	p.stateMu.Lock()
	state, ok := p.state[change.DeviceID]
	if !ok {
		state = make(map[string]any)
		p.state[change.DeviceID] = state
		p.units[change.DeviceID] = make(map[string]string)
	}
	state[change.Property.Name] = change.Property.Value
	if change.Property.Unit != "" {
		p.units[change.DeviceID][change.Property.Name] = change.Property.Unit
	}

	msg := StateMessage{
		DeviceID:  change.DeviceID,
		Timestamp: change.Timestamp,
		State:     maps.Clone(state),
		Units:     maps.Clone(p.units[change.DeviceID]),
		Protocol:  Protocol,
	}
	p.stateMu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to marshal state", "device_id", change.DeviceID, "error", err)
		return
	}
	p.enqueue(outbound{topic: StateTopic(change.DeviceID), payload: payload, retained: true})
}

func (p *Publisher) publishDiscovery(event DiscoveryEvent, info DeviceInfo) {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    p.bridgeID,
		Event:     event,
		Device:    info,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to marshal discovery", "device_id", info.ID, "error", err)
		return
	}
	p.enqueue(outbound{topic: DiscoveryTopic(), payload: payload})
}

func (p *Publisher) enqueue(m outbound) {
	select {
	case p.queue <- m:
	case <-p.done:
		p.logger.Debug("publisher stopped, message dropped", "topic", m.topic)
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case m := <-p.queue:
			p.send(m)
		case <-p.done:
			// Drain what is already queued.
			for {
				select {
				case m := <-p.queue:
					p.send(m)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(m outbound) {
	if !p.client.IsConnected() {
		p.logger.Debug("mqtt disconnected, message dropped", "topic", m.topic)
		return
	}
	if err := p.client.Publish(m.topic, m.payload, p.qos, m.retained); err != nil {
		p.logger.Warn("mqtt publish failed", "topic", m.topic, "error", err)
	}
}
